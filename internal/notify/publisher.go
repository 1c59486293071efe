// internal/notify/publisher.go
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/streadway/amqp"

	appErrors "github.com/unclebandit/dunning-engine/internal/errors"
	"github.com/unclebandit/dunning-engine/internal/model"
)

// Publisher pushes notification and escalation jobs onto RabbitMQ. The
// downstream senders (email/SMS workers, the human escalation inbox) consume
// these queues; this engine never renders templates itself.
type Publisher struct {
	conn              *amqp.Connection
	ch                *amqp.Channel
	notificationQueue string
	escalationQueue   string
}

// Dial connects to RabbitMQ and declares both durable queues.
func Dial(url, notificationQueue, escalationQueue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	for _, name := range []string{notificationQueue, escalationQueue} {
		if _, err := ch.QueueDeclare(
			name,
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("declare queue %s: %w", name, err)
		}
	}

	log.Println("✅ Connected to RabbitMQ, queues declared:", notificationQueue, escalationQueue)
	return &Publisher{
		conn:              conn,
		ch:                ch,
		notificationQueue: notificationQueue,
		escalationQueue:   escalationQueue,
	}, nil
}

type notificationJob struct {
	Channel    string            `json:"channel"`
	TemplateID string            `json:"template_id"`
	CustomerID string            `json:"customer_id"`
	Vars       map[string]string `json:"vars"`
	QueuedAt   time.Time         `json:"queued_at"`
}

type escalationJob struct {
	ExecutionID string    `json:"execution_id"`
	CampaignID  string    `json:"campaign_id"`
	InvoiceID   string    `json:"invoice_id"`
	CustomerID  string    `json:"customer_id"`
	StepIndex   int       `json:"step_index"`
	Reason      string    `json:"reason"`
	QueuedAt    time.Time `json:"queued_at"`
}

// Send enqueues a notification job. Empty channel or template id is a
// permanent error: retrying a misconfigured step cannot fix it. Broker
// failures are transient.
func (p *Publisher) Send(ctx context.Context, channel, templateID, customerID string, vars map[string]string) error {
	if channel == "" || templateID == "" {
		return appErrors.NewPermanent(fmt.Errorf("notification step missing channel/template (channel=%q template=%q)", channel, templateID))
	}

	body, err := json.Marshal(notificationJob{
		Channel:    channel,
		TemplateID: templateID,
		CustomerID: customerID,
		Vars:       vars,
		QueuedAt:   time.Now(),
	})
	if err != nil {
		return appErrors.NewPermanent(fmt.Errorf("marshal notification: %w", err))
	}

	return p.publish(ctx, p.notificationQueue, body)
}

// Escalate enqueues the execution for a human.
func (p *Publisher) Escalate(ctx context.Context, exec *model.Execution, reason string) error {
	body, err := json.Marshal(escalationJob{
		ExecutionID: exec.ID,
		CampaignID:  exec.CampaignID,
		InvoiceID:   exec.InvoiceID,
		CustomerID:  exec.CustomerID,
		StepIndex:   exec.CurrentStep,
		Reason:      reason,
		QueuedAt:    time.Now(),
	})
	if err != nil {
		return appErrors.NewPermanent(fmt.Errorf("marshal escalation: %w", err))
	}

	return p.publish(ctx, p.escalationQueue, body)
}

func (p *Publisher) publish(ctx context.Context, queue string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return appErrors.NewTransient(err)
	}

	err := p.ch.Publish(
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return appErrors.NewTransient(fmt.Errorf("publish to %s: %w", queue, err))
	}
	return nil
}

func (p *Publisher) Close() {
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

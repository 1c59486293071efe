// internal/worker/scheduler.go
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/dunning-engine/internal/clock"
	"github.com/unclebandit/dunning-engine/internal/engine"
	"github.com/unclebandit/dunning-engine/internal/model"
	"github.com/unclebandit/dunning-engine/internal/repository"
)

// CampaignSource provides campaign definitions; in production this is the
// Redis read-through cache.
type CampaignSource interface {
	Get(ctx context.Context, id string) (*model.Campaign, error)
}

// StepRunner runs one step and interprets the result.
type StepRunner interface {
	RunStep(ctx context.Context, exec *model.Execution, step model.CampaignStep) engine.Outcome
}

// Options are the scheduler knobs; zero values fall back to defaults.
type Options struct {
	PollInterval    time.Duration // default 60s
	BatchSize       int           // default 50
	SweepInterval   time.Duration // default 60s
	StaleClaimAfter time.Duration // default 10m
}

// Scheduler is the time-driven control loop: claim due executions, run their
// current step, record the outcome. Multiple replicas may run concurrently;
// ClaimDue's atomicity is the only partitioning primitive.
type Scheduler struct {
	repo      repository.ExecutionRepositoryInterface
	campaigns CampaignSource
	runner    StepRunner
	clk       clock.Clock
	opts      Options
	workerID  string

	// Stats
	totalProcessed int64
	totalErrors    int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

func NewScheduler(repo repository.ExecutionRepositoryInterface, campaigns CampaignSource, runner StepRunner, clk clock.Clock, opts Options) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 60 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 60 * time.Second
	}
	if opts.StaleClaimAfter <= 0 {
		opts.StaleClaimAfter = 10 * time.Minute
	}
	return &Scheduler{
		repo:      repo,
		campaigns: campaigns,
		runner:    runner,
		clk:       clk,
		opts:      opts,
		workerID:  fmt.Sprintf("dunning-%s", uuid.New().String()[:8]),
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	log.Printf("Scheduler: starting worker %s (poll=%s batch=%d)", s.workerID, s.opts.PollInterval, s.opts.BatchSize)

	s.wg.Add(1)
	go s.pollLoop()

	s.wg.Add(1)
	go s.sweepLoop()
}

// Stop waits for in-flight attempts to resolve, bounded by a timeout.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Scheduler: stopped cleanly")
	case <-time.After(30 * time.Second):
		log.Println("Scheduler: shutdown timeout, forcing stop")
	}

	log.Printf("Scheduler: worker %s processed=%d errors=%d",
		s.workerID, atomic.LoadInt64(&s.totalProcessed), atomic.LoadInt64(&s.totalErrors))
}

func (s *Scheduler) pollLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Tick(s.ctx)
		}
	}
}

func (s *Scheduler) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			cutoff := s.clk.Now().Add(-s.opts.StaleClaimAfter)
			released, err := s.repo.ReleaseStale(s.ctx, cutoff)
			if err != nil {
				log.Println("Scheduler: stale claim sweep failed:", err)
				continue
			}
			if released > 0 {
				log.Printf("Scheduler: released %d stale claims", released)
			}
		}
	}
}

// Tick claims one batch of due executions and processes them. Exported so
// deployments can drive it from an external timer and tests can step it.
func (s *Scheduler) Tick(ctx context.Context) {
	claimed, err := s.repo.ClaimDue(ctx, s.workerID, s.clk.Now(), s.opts.BatchSize)
	if err != nil {
		log.Println("Scheduler: claimDue failed:", err)
		return
	}

	for _, exec := range claimed {
		if err := s.processExecution(ctx, exec); err != nil {
			atomic.AddInt64(&s.totalErrors, 1)
			log.Printf("Scheduler: execution %s: %v", exec.ID, err)
		} else {
			atomic.AddInt64(&s.totalProcessed, 1)
		}
	}
}

// processExecution resolves one claimed execution. Every path ends in a
// RecordAttempt so the claim is never silently dropped: runner errors and
// panics are recorded as transient outcomes.
func (s *Scheduler) processExecution(ctx context.Context, exec *model.Execution) error {
	campaign, err := s.campaigns.Get(ctx, exec.CampaignID)
	if err != nil {
		return s.record(ctx, exec, engine.Outcome{
			Kind:        engine.OutcomeTransient,
			ErrorDetail: fmt.Sprintf("load campaign: %v", err),
		})
	}

	// Paused/archived campaigns stop scheduling: cancel without running the
	// step action. RecordAttempt re-checks campaign status inside its
	// transaction, so a stale cache entry cannot resurrect the execution.
	if campaign.Status != model.CampaignActive {
		return s.record(ctx, exec, engine.Outcome{
			Kind:        engine.OutcomeCancelled,
			ErrorDetail: "campaign " + campaign.Status,
		})
	}

	var step *model.CampaignStep
	for i := range campaign.Steps {
		if campaign.Steps[i].StepIndex == exec.CurrentStep {
			step = &campaign.Steps[i]
			break
		}
	}
	if step == nil || exec.CurrentStep >= exec.TotalSteps {
		return s.record(ctx, exec, engine.Outcome{
			Kind:        engine.OutcomePermanent,
			ErrorDetail: fmt.Sprintf("no step at index %d (total %d)", exec.CurrentStep, exec.TotalSteps),
		})
	}

	outcome := s.safeRun(ctx, exec, *step)
	return s.record(ctx, exec, outcome)
}

func (s *Scheduler) record(ctx context.Context, exec *model.Execution, outcome engine.Outcome) error {
	_, err := s.repo.RecordAttempt(ctx, exec.ID, exec.CurrentStep, outcome, s.clk.Now())
	return err
}

func (s *Scheduler) safeRun(ctx context.Context, exec *model.Execution, step model.CampaignStep) (out engine.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = engine.Outcome{
				Kind:        engine.OutcomeTransient,
				ErrorDetail: fmt.Sprintf("runner panic: %v", r),
			}
		}
	}()
	return s.runner.RunStep(ctx, exec, step)
}

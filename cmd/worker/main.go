// cmd/worker/main.go
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/unclebandit/dunning-engine/internal/cache"
	"github.com/unclebandit/dunning-engine/internal/clock"
	"github.com/unclebandit/dunning-engine/internal/config"
	"github.com/unclebandit/dunning-engine/internal/db"
	"github.com/unclebandit/dunning-engine/internal/engine"
	"github.com/unclebandit/dunning-engine/internal/invoice"
	"github.com/unclebandit/dunning-engine/internal/notify"
	"github.com/unclebandit/dunning-engine/internal/repository"
	"github.com/unclebandit/dunning-engine/internal/worker"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, relying on OS environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	database, err := db.Connect(cfg.Database)
	if err != nil {
		log.Fatal(err)
	}
	defer database.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer rdb.Close()

	publisher, err := notify.Dial(cfg.AMQP.URL, cfg.AMQP.NotificationQueue, cfg.AMQP.EscalationQueue)
	if err != nil {
		log.Fatal("failed to connect to RabbitMQ:", err)
	}
	defer publisher.Close()

	campaignRepo := &repository.CampaignRepository{DB: database}
	executionRepo := &repository.ExecutionRepository{DB: database}
	campaignCache := cache.NewCampaignCache(rdb, campaignRepo, cfg.Redis.CampaignTTL())

	invoices := invoice.NewClient(cfg.Invoice.BaseURL, cfg.Invoice.Timeout())
	runner := engine.NewRunner(publisher, publisher, invoices, cfg.Scheduler.StepTimeout())

	scheduler := worker.NewScheduler(executionRepo, campaignCache, runner, clock.System{}, worker.Options{
		PollInterval:    cfg.Scheduler.PollInterval(),
		BatchSize:       cfg.Scheduler.BatchSize,
		SweepInterval:   cfg.Scheduler.SweepInterval(),
		StaleClaimAfter: cfg.Scheduler.StaleClaimAfter(),
	})
	scheduler.Start()

	log.Println("Worker running, waiting for due executions...")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	scheduler.Stop()
}

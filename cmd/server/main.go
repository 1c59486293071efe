// cmd/server/main.go
package main

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/unclebandit/dunning-engine/internal/cache"
	"github.com/unclebandit/dunning-engine/internal/clock"
	"github.com/unclebandit/dunning-engine/internal/config"
	"github.com/unclebandit/dunning-engine/internal/controller"
	"github.com/unclebandit/dunning-engine/internal/db"
	"github.com/unclebandit/dunning-engine/internal/repository"
	"github.com/unclebandit/dunning-engine/internal/service"
)

func main() {
	// Load .env
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

	campaignRepo := &repository.CampaignRepository{DB: database}
	executionRepo := &repository.ExecutionRepository{DB: database}
	campaignCache := cache.NewCampaignCache(rdb, campaignRepo, cfg.Redis.CampaignTTL())
	clk := clock.System{}

	dunningController := &controller.DunningController{
		Campaigns: &service.CampaignService{
			CampaignRepo: campaignRepo,
			Cache:        campaignCache,
		},
		Executions: &service.ExecutionService{
			ExecutionRepo: executionRepo,
			CampaignRepo:  campaignRepo,
			Clock:         clk,
		},
		Analytics: &service.AnalyticsService{
			Repo:  executionRepo,
			Clock: clk,
		},
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	dunningController.Routes(r)

	log.Println("🚀 Dunning API running on", cfg.Server.ListenAddr)
	log.Fatal(http.ListenAndServe(cfg.Server.ListenAddr, r))
}

package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/perimeterlab/botshield-engine/internal/api"
	"github.com/perimeterlab/botshield-engine/internal/config"
	"github.com/perimeterlab/botshield-engine/internal/db"
	"github.com/perimeterlab/botshield-engine/internal/engine"
	"github.com/perimeterlab/botshield-engine/internal/llm"
)

func main() {
	log.Println("Starting BotShield Detection Engine...")

	// ─── Environment ─────────────────────────────────────────────────────
	// All credentials come from environment variables; the YAML file only
	// carries tuning. Use a .env file for local development:
	// cp .env.example .env && edit .env
	// ─────────────────────────────────────────────────────────────────────
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on process environment")
	}

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	var store *db.LearningStore
	if cfg.Database.URL != "" {
		store, err = db.Connect(cfg.Database.URL)
		if err != nil {
			log.Printf("Warning: Failed to connect to PostgreSQL, continuing without persisting verdicts. Error: %v", err)
			store = nil
		} else {
			defer store.Close()
			if err := store.InitSchema(); err != nil {
				log.Printf("Warning: DB schema init failed: %v", err)
			}
		}
	} else {
		log.Println("DATABASE_URL not set, verdicts and learning records will not be persisted")
	}

	var provider llm.Provider
	if cfg.LLM.Enabled {
		hp := llm.NewHTTPProvider(cfg.LLM.Endpoint, cfg.LLM.Model, cfg.LLM.APIKey)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := hp.Initialise(ctx); err != nil {
			log.Printf("Warning: LLM provider not reachable, escalation disabled until it recovers: %v", err)
		}
		cancel()
		provider = hp
	}

	eng, err := engine.New(cfg, engine.Options{Store: store, Provider: provider})
	if err != nil {
		log.Fatalf("FATAL: engine init: %v", err)
	}

	r := api.SetupRouter(cfg, eng, store)

	log.Printf("Engine running on :%s (detectors: %d, demo mode: %t)\n",
		cfg.Server.Port, eng.Registry().EnabledCount(), cfg.Server.DemoMode)
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

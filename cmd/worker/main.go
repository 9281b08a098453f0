package main

import (
	"log"
	"time"

	"doable/internal/engine/resettokens"
	"doable/internal/engine/sessions"
	"doable/internal/pkg/logger"
	"doable/internal/platform/config"
	"doable/internal/platform/database"
	"doable/internal/platform/repositories"
	"doable/internal/workers"
)

func main() {
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.Logging)

	db, err := database.NewDB(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	userRepo := repositories.NewUserRepository(db)
	sessionStore := sessions.NewStore(sessions.NewRepository(db))
	resetMgr := resettokens.NewManager(db, resettokens.NewRepository(db), userRepo)

	sweeper := workers.NewSweeper(sessionStore, resetMgr)

	go runSessionSweeper(sweeper)
	go runResetTokenSweeper(sweeper)

	log.Println("Background workers started")
	select {}
}

func runSessionSweeper(s *workers.Sweeper) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		s.SweepSessions()
	}
}

func runResetTokenSweeper(s *workers.Sweeper) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		s.SweepResetTokens()
	}
}

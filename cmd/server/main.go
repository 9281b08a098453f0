package main

import (
	"fmt"
	"log"
	"net/http"

	"doable/internal/api"
	"doable/internal/api/handlers"
	"doable/internal/api/middleware"
	"doable/internal/engine/authz"
	"doable/internal/engine/resettokens"
	"doable/internal/engine/sessions"
	"doable/internal/engine/todos"
	"doable/internal/pkg/logger"
	"doable/internal/pkg/mailer"
	"doable/internal/platform/audit"
	"doable/internal/platform/auth"
	"doable/internal/platform/config"
	"doable/internal/platform/database"
	"doable/internal/platform/repositories"
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

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	orgRepo := repositories.NewOrganizationRepository(db)
	membershipRepo := repositories.NewMembershipRepository(db)
	apiTokenRepo := repositories.NewAPITokenRepository(db)

	// Services
	engine := authz.NewEngine(userRepo, membershipRepo)
	sessionStore := sessions.NewStore(sessions.NewRepository(db))
	resetMgr := resettokens.NewManager(db, resettokens.NewRepository(db), userRepo)
	todoSvc := todos.NewService(todos.NewRepository(db))
	tokenSvc := auth.NewTokenService(cfg.Auth)
	auditLogger := audit.NewLogger(db)
	mail := mailer.New(cfg.Email)

	// Handlers
	authHandler := handlers.NewAuthHandler(userRepo, orgRepo, membershipRepo, sessionStore, engine, resetMgr, mail, auditLogger, cfg.Server.SecureCookies, cfg.Email.ResetBaseURL)
	orgHandler := handlers.NewOrgHandler(orgRepo, membershipRepo, userRepo, engine, auditLogger)
	userHandler := handlers.NewUserHandler(userRepo, membershipRepo, sessionStore, auditLogger)
	todoHandler := handlers.NewTodoHandler(todoSvc, auditLogger)
	tokenHandler := handlers.NewTokenHandler(apiTokenRepo, tokenSvc, auditLogger)
	auditHandler := handlers.NewAuditHandler(auditLogger)
	healthHandler := handlers.NewHealthHandler(db)

	// Middleware
	sessionMiddleware := middleware.NewSessionMiddleware(sessionStore, engine, tokenSvc, apiTokenRepo, userRepo)
	middleware.SetLimits(cfg.RateLimit.SignInPerMinute, cfg.RateLimit.PasswordResetPerMinute)

	router := api.NewRouter(&api.Dependencies{
		AuthHandler:   authHandler,
		OrgHandler:    orgHandler,
		UserHandler:   userHandler,
		TodoHandler:   todoHandler,
		TokenHandler:  tokenHandler,
		AuditHandler:  auditHandler,
		HealthHandler: healthHandler,
		Session:       sessionMiddleware,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	log.Printf("Server starting on %s", addr)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

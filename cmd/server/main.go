package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-treewiki/internal/auth"
	"go-treewiki/internal/config"
	"go-treewiki/internal/data"
	"go-treewiki/internal/handler"
	"go-treewiki/internal/logger"
	"go-treewiki/internal/markdown"
	"go-treewiki/internal/middleware"
	"go-treewiki/internal/search"
	"go-treewiki/internal/service"
	"go-treewiki/internal/session"
	"go-treewiki/internal/view"
	"go-treewiki/web"
)

func main() {
	// --- Configuration Loading ---
	cfg, err := config.LoadConfig()
	if err != nil {
		// Use fmt.Printf here because the logger is not yet initialized.
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger Initialization ---
	log := logger.New(cfg.Log, os.Stdout)

	// --- Database Initialization and Migration ---
	log.Info("Connecting to the database...")
	db, err := data.NewDB(cfg.DB)
	if err != nil {
		log.Fatal(err, "Failed to connect to database")
	}
	defer db.Close()

	log.Info("Applying database migrations...")
	if err := data.ApplyMigrations(db, cfg.DB.Driver); err != nil {
		log.Fatal(err, "Failed to apply migrations")
	}
	log.Info("Migrations applied successfully.")

	// --- Search Index Initialization ---
	index, err := search.New(cfg.Search)
	if err != nil {
		log.Fatal(err, "Failed to open search index")
	}
	defer index.Close()

	// --- Wiki Service ---
	wiki := service.NewWikiService(
		data.NewSQLPageRepository(db),
		data.NewSQLRevisionRepository(db),
		index,
		markdown.New(cfg.Markdown),
		log,
	)
	bootCtx, bootCancel := context.WithTimeout(context.Background(), time.Minute)
	if err := wiki.Bootstrap(bootCtx); err != nil {
		log.Fatal(err, "Failed to bootstrap wiki")
	}
	bootCancel()

	// --- Session Management Setup ---
	sessionManager := session.New(db, cfg.DB.Driver, time.Duration(cfg.Session.Lifetime)*time.Hour, cfg.Server.TLS.Enabled)

	// --- Authentication and Authorization Setup ---
	log.Info("Initializing authentication and authorization...")
	enforcer, err := auth.NewEnforcer(cfg.DB.Driver, auth.PolicyDSN(cfg.DB))
	if err != nil {
		log.Fatal(err, "Failed to initialize enforcer")
	}
	auth.SeedDefaultPolicies(enforcer, log)

	// --- View Template Initialization ---
	viewService, err := view.New(web.TemplateFS)
	if err != nil {
		log.Fatal(err, "Failed to initialize view templates")
	}

	// --- Dependency Injection and Handler Initialization ---
	rt := handler.Router{
		Log:      log,
		View:     viewService,
		Sessions: sessionManager,
		Authz:    middleware.Authorizer(enforcer, sessionManager, log),
		Limiter:  middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, 10*time.Minute),
		StaticFS: web.StaticFS,
		Pages:    handler.NewPageHandler(wiki, viewService, log),
		Search:   handler.NewSearchHandler(wiki, viewService, log),
		Seo:      handler.NewSeoHandler(wiki, cfg.Server.BaseURL, log),
	}
	if cfg.OIDC.IssuerURL != "" {
		authenticator, err := auth.NewAuthenticator(context.Background(), &cfg.OIDC)
		if err != nil {
			log.Fatal(err, "Failed to initialize authenticator")
		}
		rt.Auth = handler.NewAuthHandler(authenticator, sessionManager, enforcer, cfg.OIDC.EditorEmails, log)
	} else {
		log.Warn("No OIDC issuer configured; the wiki is read-only.")
	}
	router := handler.NewRouter(rt)

	// --- Server Initialization and Graceful Shutdown ---
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if cfg.Server.TLS.Enabled {
			log.Info(fmt.Sprintf("Starting HTTPS server on %s", server.Addr))
			if err := server.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal(err, "Could not start HTTPS server")
			}
		} else {
			log.Info(fmt.Sprintf("Starting HTTP server on %s", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal(err, "Could not start HTTP server")
			}
		}
	}()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Warn("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatal(err, "Server forced to shutdown")
	}
	log.Info("Server exiting")
}

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hypernova-labs/anaf-service/internal/anaf"
	"github.com/hypernova-labs/anaf-service/internal/api"
	"github.com/hypernova-labs/anaf-service/internal/config"
	"github.com/hypernova-labs/anaf-service/internal/database"
	"github.com/hypernova-labs/anaf-service/internal/email"
	"github.com/hypernova-labs/anaf-service/internal/ratelimit"
	"github.com/hypernova-labs/anaf-service/internal/services"
	"github.com/hypernova-labs/anaf-service/internal/validation"
	"github.com/hypernova-labs/anaf-service/internal/workflows"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	logger := setupLogger(cfg)
	logger.Info("Starting ANAF Service...")

	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		logger.Fatalf("Error connecting to database: %v", err)
	}
	defer db.Close()

	// Rate-limit counters live in Redis; the authority budgets are a hard
	// requirement, so a missing Redis is fatal.
	redis, err := database.ConnectRedis(cfg)
	if err != nil {
		logger.Fatalf("Error connecting to Redis: %v", err)
	}
	defer redis.Close()

	var supabaseClient *database.SupabaseClient
	if cfg.Supabase.StorageEndpoint != "" && cfg.Supabase.AccessKeyID != "" && cfg.Supabase.SecretAccessKey != "" {
		supabaseClient, err = database.NewSupabaseClient(&cfg.Supabase, cfg.Storage.Bucket, logger)
		if err != nil {
			logger.Warnf("Error initializing object storage client: %v", err)
			supabaseClient = nil
		} else if err := supabaseClient.HealthCheck(); err != nil {
			logger.Warnf("Object storage health check failed: %v", err)
		} else {
			logger.Info("Object storage connection healthy")
		}
	} else {
		logger.Warn("Object storage credentials not provided, archival will not be available")
	}

	// Outbound authority plumbing.
	limiter := ratelimit.NewLimiter(redis, ratelimit.Policies{
		Global:   ratelimit.Policy{Limit: int64(cfg.RateLimit.GlobalLimit), Window: cfg.RateLimit.Window},
		Upload:   ratelimit.Policy{Limit: int64(cfg.RateLimit.UploadLimit), Window: cfg.RateLimit.Window},
		List:     ratelimit.Policy{Limit: int64(cfg.RateLimit.ListLimit), Window: cfg.RateLimit.Window},
		Poll:     ratelimit.Policy{Limit: int64(cfg.RateLimit.PollLimit), Window: cfg.RateLimit.Window},
		Download: ratelimit.Policy{Limit: int64(cfg.RateLimit.DownloadLimit), Window: cfg.RateLimit.Window},
	}, logger)
	anafClient := anaf.NewClient(cfg.Anaf.BaseURL, cfg.Anaf.Timeout, limiter, logger)
	tokenRepo := database.NewTokenRepository(db, logger)
	tokenResolver := anaf.NewTokenResolver(tokenRepo, cfg.Anaf.OAuthTokenURL, cfg.Anaf.OAuthClientID, cfg.Anaf.OAuthClientSecret, cfg.Anaf.Timeout, logger)

	// Validation pipeline, with the schematron sidecar when configured.
	var schematron validation.SchematronEvaluator
	if cfg.Schematron.URL != "" {
		schematron = validation.NewSchematronClient(cfg.Schematron.URL, cfg.Schematron.Timeout, logger)
	} else {
		logger.Warn("Schematron sidecar not configured, semantic validation will be skipped")
	}
	pipeline := validation.NewPipeline(schematron, nil, logger)

	// Repositories.
	documentRepo := database.NewDocumentRepository(db, logger)
	partyRepo := database.NewPartyRepository(db, logger)
	inboxRepo := database.NewInboxRepository(db, logger)
	productRepo := database.NewProductRepository(db, logger)
	companyRepo := database.NewCompanyRepository(db, logger)
	apiKeyRepo := database.NewAPIKeyRepository(db, logger)

	archiveService := services.NewArchiveService(supabaseClient, logger)

	var notifier services.Notifier
	if cfg.Email.ResendAPIKey != "" {
		notifier = email.NewResendService(cfg.Email.ResendAPIKey, cfg.Email.FromAddress, cfg.Email.ReportAddress, logger)
		logger.Info("Resend service initialized successfully")
	} else {
		logger.Warn("Resend API key not provided, sync reports will not be sent")
	}

	inngestClient, err := workflows.NewInngestClient(cfg, logger)
	if err != nil {
		logger.Warnf("Error initializing Inngest client: %v", err)
		inngestClient = nil
	}
	var events services.Events
	if inngestClient != nil {
		events = inngestClient
	}

	submissionService := services.NewSubmissionService(documentRepo, companyRepo, pipeline, archiveService, tokenResolver, anafClient, events, logger)
	statusChecker := services.NewStatusChecker(documentRepo, companyRepo, tokenResolver, anafClient, cfg.Polling.MaxAttempts, logger)
	syncService := services.NewSyncService(companyRepo, documentRepo, inboxRepo, partyRepo, productRepo, tokenResolver, anafClient, archiveService, events, notifier, cfg.Sync, logger)

	if inngestClient != nil {
		documentWorkflow := workflows.NewDocumentWorkflow(inngestClient, submissionService, statusChecker, logger)
		syncWorkflow := workflows.NewSyncWorkflow(inngestClient, syncService, companyRepo, logger)
		if err := inngestClient.RegisterWorkflows(documentWorkflow, syncWorkflow); err != nil {
			logger.Warnf("Error registering workflows: %v", err)
		}
	} else {
		logger.Warn("Inngest unavailable, workflows will not run")
	}

	apiHandler := api.NewAPI(documentRepo, companyRepo, inboxRepo, apiKeyRepo, inngestClient, db, redis, logger)
	router := setupRouter(apiHandler, inngestClient, cfg)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Infof("Server starting on %s:%s", cfg.Server.Host, cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Error starting server: %v", err)
		}
	}()

	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}

// setupLogger configures the logger from the loaded settings.
func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

// setupRouter wires the HTTP routes.
func setupRouter(apiHandler *api.API, inngestClient *workflows.InngestClient, cfg *config.Config) *gin.Engine {
	router := gin.New()

	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	if cfg.IsDevelopment() {
		router.Use(func(c *gin.Context) {
			c.Header("Access-Control-Allow-Origin", "*")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, X-API-Key")

			if c.Request.Method == "OPTIONS" {
				c.AbortWithStatus(204)
				return
			}

			c.Next()
		})
	}

	router.GET("/health", apiHandler.Health)

	// Inngest calls back into this endpoint to drive the workflows.
	if inngestClient != nil {
		router.Any("/api/inngest", gin.WrapH(inngestClient.Handler()))
	}

	v1 := router.Group("/v1")
	v1.Use(apiHandler.AuthMiddleware())
	{
		v1.POST("/documents/:id/submit", apiHandler.SubmitDocument)
		v1.GET("/documents/:id", apiHandler.GetDocument)
		v1.GET("/documents", apiHandler.ListDocuments)

		v1.POST("/companies/:id/sync", apiHandler.SyncCompany)
		v1.GET("/companies/:id/messages", apiHandler.ListMessages)
	}

	return router
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/identio/identio/internal/cache"
	"github.com/identio/identio/internal/config"
	"github.com/identio/identio/internal/handlers"
	"github.com/identio/identio/internal/messaging"
	"github.com/identio/identio/internal/middleware"
	"github.com/identio/identio/internal/models"
	"github.com/identio/identio/internal/repository"
	"github.com/identio/identio/internal/service"
)

const defaultSubscriberQueue = "auth_service_subscriber_queue"

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if cfg.Bus.QueueName == "" {
		cfg.Bus.QueueName = defaultSubscriberQueue
	}

	dynamoClient, err := repository.NewDynamoDBClient(context.Background(), &cfg.DynamoDB, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize DynamoDB")
	}

	userRepo := repository.NewUserRepository(dynamoClient, cfg.DynamoDB.TableName, logger)
	inboxRepo := repository.NewInboxRepository(dynamoClient, cfg.DynamoDB.TableName, logger)

	tokenService, err := service.NewTokenService(&cfg.JWT, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize token service")
	}

	// The cache connects in the background; requests arriving before the
	// first successful dial wait on the factory, bounded by its timeout.
	tokenCache := cache.NewTokenCache(func() (cache.Connection, error) {
		conn, err := cache.InitializeRedisConnection(context.Background(), &cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}, tokenService, logger)

	authenticator := service.NewAuthenticator(userRepo, tokenService, tokenCache, logger)
	accountService := service.NewAccountService(userRepo, tokenCache, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := messaging.NewBusConnection(&cfg.Bus, logger)
	go func() {
		if err := bus.Connect(ctx); err != nil {
			logger.WithError(err).Warn("Message bus connect loop ended")
		}
	}()

	subscriber := messaging.NewSubscriber(bus, inboxRepo, cfg.Bus.RetryDelay, logger)
	subscriber.Handle(models.EventUserCreated, accountService.ApplyUserCreated)
	subscriber.Handle(models.EventUserDeleted, accountService.ApplyUserDeleted)
	go subscriber.Run(ctx)

	// Messages that failed processing are dead-lettered, not retried; they
	// stay in the inbox unprocessed until someone reprocesses them by hand.
	if pending, err := inboxRepo.GetUnprocessed(context.Background()); err != nil {
		logger.WithError(err).Warn("Could not check inbox for unprocessed messages")
	} else if len(pending) > 0 {
		logger.WithField("count", len(pending)).Warn("Inbox contains unprocessed messages awaiting manual reprocessing")
	}

	authHandlers := handlers.NewAuthHandlers(authenticator, logger)
	authMiddleware := middleware.NewAuthMiddleware(tokenService, logger)
	router := setupRouter(authHandlers, authMiddleware, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting auth service")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down auth service...")
	cancel()
	bus.Close()
	if err := tokenCache.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close token cache")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Auth service exited")
}

func setupRouter(authHandlers *handlers.AuthHandlers, authMiddleware *middleware.AuthMiddleware, logger *logrus.Logger) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.LoggingMiddleware(logger))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "OPTIONS")

	api := router.PathPrefix("/api/v1").Subrouter()

	auth := api.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/login", authHandlers.Login).Methods("POST", "OPTIONS")
	auth.HandleFunc("/refresh", authHandlers.Refresh).Methods("POST", "OPTIONS")
	auth.HandleFunc("/logout", authHandlers.Logout).Methods("POST", "OPTIONS")

	protected := auth.PathPrefix("").Subrouter()
	protected.Use(authMiddleware.RequireAuth)
	protected.HandleFunc("/logout-all", authHandlers.LogoutAll).Methods("POST", "OPTIONS")

	return router
}

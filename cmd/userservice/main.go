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

	"github.com/identio/identio/internal/config"
	"github.com/identio/identio/internal/handlers"
	"github.com/identio/identio/internal/messaging"
	"github.com/identio/identio/internal/middleware"
	"github.com/identio/identio/internal/repository"
	"github.com/identio/identio/internal/service"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	dynamoClient, err := repository.NewDynamoDBClient(context.Background(), &cfg.DynamoDB, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize DynamoDB")
	}

	userRepo := repository.NewUserRepository(dynamoClient, cfg.DynamoDB.TableName, logger)
	outboxRepo := repository.NewOutboxRepository(dynamoClient, cfg.DynamoDB.TableName, logger)

	userService := service.NewUserService(userRepo, logger)

	tokenService, err := service.NewTokenService(&cfg.JWT, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize token service")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The producing side needs no queue; it only publishes to the exchange.
	bus := messaging.NewBusConnection(&cfg.Bus, logger)
	go func() {
		if err := bus.Connect(ctx); err != nil {
			logger.WithError(err).Warn("Message bus connect loop ended")
		}
	}()

	publisher := messaging.NewOutboxPublisher(outboxRepo, bus, cfg.Outbox.PollInterval, logger)
	go publisher.Run(ctx)

	userHandlers := handlers.NewUserHandlers(userService, logger)
	authMiddleware := middleware.NewAuthMiddleware(tokenService, logger)
	router := setupRouter(userHandlers, authMiddleware, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting user service")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down user service...")
	cancel()
	bus.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("User service exited")
}

func setupRouter(userHandlers *handlers.UserHandlers, authMiddleware *middleware.AuthMiddleware, logger *logrus.Logger) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.LoggingMiddleware(logger))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "OPTIONS")

	api := router.PathPrefix("/api/v1").Subrouter()

	users := api.PathPrefix("/users").Subrouter()
	users.HandleFunc("/register", userHandlers.Register).Methods("POST", "OPTIONS")
	users.HandleFunc("/{userId}", userHandlers.GetUser).Methods("GET", "OPTIONS")

	protected := api.PathPrefix("/users").Subrouter()
	protected.Use(authMiddleware.RequireAuth)
	protected.HandleFunc("/{userId}", userHandlers.DeleteUser).Methods("DELETE", "OPTIONS")

	return router
}

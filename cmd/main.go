package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"anonchat/backend/internal/api/handler"
	"anonchat/backend/internal/app"
	"anonchat/backend/internal/chathub"
	"anonchat/backend/internal/config"
	"anonchat/backend/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.DevelopmentMode).Errorf("Invalid configuration: %v", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Server.Mode)
	logger.SetGlobalLogger(log)
	defer log.Sync()

	log.Infof("Starting AnonChat backend...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Backends and services
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Errorf("Failed to initialize dependencies: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warnf("Shutdown: %v", err)
		}
	}()

	// 2. Real-time hub
	hub := chathub.NewManagerService(a.Chats, a.Relay, a.Searches, log)
	go hub.Run(ctx)

	// 3. Routes
	if cfg.Server.Mode == logger.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	h := handler.NewHandler(handler.Deps{
		Auth:        handler.NewAuth(cfg.JWT.Secret, cfg.JWT.Expiry),
		Searches:    a.Searches,
		Queue:       a.Queue,
		Relay:       a.Relay,
		Chats:       a.Chats,
		Groups:      a.Groups,
		Complaints:  a.Complaints,
		Recommender: a.Scorer,
		Profiles:    a.Users,
		Store:       a.Store,
		Hub:         hub,
		Log:         log,
	})
	h.Register(r)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After"},
		AllowCredentials: true,
	}).Handler(r)

	server := &http.Server{
		Addr:           ":" + cfg.Server.Port,
		Handler:        corsHandler,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Infof("Listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("HTTP server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Infof("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP shutdown: %v", err)
	}
}

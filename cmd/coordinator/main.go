package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lottery-backend/internal/app"
	"lottery-backend/internal/config"
	"lottery-backend/internal/db"
	"lottery-backend/internal/router"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: config.local.yaml or config.yaml)")
	flag.Parse()

	if err := config.LoadConfig(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg := config.AppConfig
	app.ConfigureLogging(cfg.Log)

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	persistent, err := db.InitDB()
	if err != nil {
		logrus.Fatalf("❌ Failed to initialize database: %v", err)
	}
	if persistent {
		defer db.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := app.NewServiceContainer(ctx, cfg, db.DB)
	if err != nil {
		logrus.Fatalf("❌ Failed to initialize services: %v", err)
	}
	defer container.Cleanup()

	if err := container.Start(ctx); err != nil {
		logrus.Fatalf("❌ Failed to start coordinator: %v", err)
	}

	engine := router.SetupRouter(cfg, container.RouterHandlers())
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logrus.WithFields(logrus.Fields{
			"addr": addr,
			"mode": cfg.Coordinator.Mode,
		}).Info("🌐 Lottery coordinator listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("❌ HTTP server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logrus.Info("🛑 Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Warnf("⚠️ HTTP shutdown: %v", err)
	}
}

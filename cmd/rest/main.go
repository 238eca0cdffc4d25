package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"curriculum-qa-be/internal/bootstrap"
	"curriculum-qa-be/internal/config"
	"curriculum-qa-be/internal/pkg/logger"
	"curriculum-qa-be/internal/server"
	"curriculum-qa-be/internal/tracer"
	"curriculum-qa-be/pkg/database"

	"gorm.io/gorm"
)

func main() {
	// 1. Load Configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	defer func() { _ = sysLogger.Sync() }()

	// 2. Initialize Tracer
	pipelineTracer, shutdownTracer := tracer.InitTracer(sysLogger)
	defer func() { _ = shutdownTracer(context.Background()) }()

	// 3. Initialize Database (only the pgvector backend needs one)
	var gormDB *gorm.DB
	if cfg.Database.Connection != "" {
		db, err := database.NewGormDBFromDSN(cfg.Database.Connection, cfg.Database.Verbose, database.DefaultPoolConfig())
		if err != nil {
			log.Panicf("Unable to connect to GORM DB: %v", err)
		}
		gormDB = db
	}

	// 4. Bootstrap Dependencies (Container)
	container, err := bootstrap.NewContainer(cfg, gormDB, sysLogger, pipelineTracer)
	if err != nil {
		log.Fatalf("Bootstrap failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Start Background Forwarding
	if err := container.Start(ctx); err != nil {
		log.Fatalf("Notification forwarding failed to start: %v", err)
	}

	// 6. Initialize and Run Server
	srv := server.New(cfg, container)
	go func() {
		if err := srv.Run(); err != nil {
			sysLogger.Error("Server", "Server stopped", map[string]interface{}{"error": err.Error()})
			stop()
		}
	}()

	<-ctx.Done()
	sysLogger.Info("Server", "Shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sysLogger.Warn("Server", "Graceful shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	container.Close()
}

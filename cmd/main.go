package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Nzyazin/arenapay/internal/core/logger"
	"github.com/Nzyazin/arenapay/internal/server"
	"github.com/Nzyazin/arenapay/pkg/config"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", config.DefaultFile, "path to dotenv config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot, _ := zap.NewProduction()
		boot.Fatal("Failed to load config", zap.Error(err))
	}

	log, cleanup, err := logger.NewLogger(logger.Options{
		Dir:     cfg.App.LogDir,
		Console: cfg.App.Development(),
		Debug:   cfg.App.Development(),
	})
	if err != nil {
		boot, _ := zap.NewProduction()
		boot.Fatal("Failed to create logger", zap.Error(err))
	}
	defer cleanup()

	srv, err := server.NewServer(cfg, log)
	if err != nil {
		log.Error("Failed to create server", logger.ErrorField("error", err))
		return
	}

	go func() {
		log.Info("Starting server", logger.StringField("addr", cfg.App.HTTPAddr))
		if err := srv.Run(cfg.App.HTTPAddr); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed", logger.ErrorField("error", err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server shutdown failed", logger.ErrorField("error", err))
	}

	log.Info("Server exited properly")
}

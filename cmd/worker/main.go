package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ivankudzin/modqueue/internal/app/platform"
	"github.com/ivankudzin/modqueue/internal/app/workerapp"
	"github.com/ivankudzin/modqueue/internal/config"
	"github.com/ivankudzin/modqueue/internal/infra/logger"
)

func main() {
	cfgPath := os.Getenv("APP_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Log.Level, "worker")
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = log.Sync()
	}()

	if cfg.Store.Driver == platform.DriverMemory {
		log.Fatal("worker needs a shared store; memory mode runs workers inside the api process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := platform.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("create platform", zap.Error(err))
	}
	defer func() {
		_ = p.Close()
	}()

	app, err := workerapp.New(p)
	if err != nil {
		log.Fatal("create worker app", zap.Error(err))
	}

	go func() { _ = p.RunPublisher(ctx) }()

	if err := app.Run(ctx); err != nil {
		log.Error("worker app failed", zap.Error(err))
	}
}

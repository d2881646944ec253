package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/modqueue/internal/app/apiapp"
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

	log, err := logger.New(cfg.Log.Level, "api")
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = log.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := platform.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("create platform", zap.Error(err))
	}
	defer func() {
		_ = p.Close()
	}()

	app, err := apiapp.New(p)
	if err != nil {
		log.Fatal("create api app", zap.Error(err))
	}

	go func() { _ = p.RunPublisher(ctx) }()
	go func() { _ = p.RunRelay(ctx) }()

	// The memory store cannot be shared with a separate worker process.
	workersDone := make(chan struct{})
	if cfg.Store.Driver == platform.DriverMemory {
		workers, err := workerapp.New(p)
		if err != nil {
			log.Fatal("create embedded workers", zap.Error(err))
		}
		go func() {
			defer close(workersDone)
			_ = workers.Run(ctx)
		}()
	} else {
		close(workersDone)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Run()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown api app", zap.Error(err))
		}
		<-workersDone
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("api server failed", zap.Error(err))
		}
	}
}

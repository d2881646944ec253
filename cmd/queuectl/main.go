package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ivankudzin/modqueue/internal/app/platform"
	"github.com/ivankudzin/modqueue/internal/cmd/queuectl"
	"github.com/ivankudzin/modqueue/internal/config"
	"github.com/ivankudzin/modqueue/internal/infra/logger"
)

func main() {
	cfgPath := os.Getenv("APP_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	open := func(ctx context.Context) (*platform.Platform, error) {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return nil, err
		}
		log, err := logger.New(cfg.Log.Level, "queuectl")
		if err != nil {
			return nil, err
		}
		return platform.New(ctx, cfg, log)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := queuectl.NewRoot(open).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

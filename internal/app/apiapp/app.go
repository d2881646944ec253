package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ivankudzin/modqueue/internal/app/platform"
	authsvc "github.com/ivankudzin/modqueue/internal/services/auth"
	"github.com/ivankudzin/modqueue/internal/transport/http/handlers"
)

type App struct {
	platform   *platform.Platform
	logger     *zap.Logger
	server     *http.Server
	httpRouter http.Handler
}

func New(p *platform.Platform) (*App, error) {
	if p == nil || p.Logger == nil {
		return nil, fmt.Errorf("platform is not configured")
	}
	cfg := p.Config
	log := p.Logger.Named("api")

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)

	checks := map[string]handlers.Pinger{}
	if p.Postgres != nil {
		checks["postgres"] = p.Postgres
	}
	if p.Redis != nil {
		checks["redis"] = redisPinger{client: p.Redis}
	}

	RegisterRoutes(r, Dependencies{
		QueueService: p.QueueService,
		Tokens:       authsvc.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTAccessTTL),
		Events:       p.Hub,
		HealthChecks: checks,
		Logger:       log,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return &App{
		platform:   p,
		logger:     log,
		server:     server,
		httpRouter: r,
	}, nil
}

func (a *App) Run() error {
	a.logger.Info("api server started", zap.String("addr", a.server.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}

type redisPinger struct {
	client *goredis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/modqueue/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/modqueue/internal/transport/http/errors"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	checks map[string]Pinger
	logger *zap.Logger
}

func NewHealthHandler(checks map[string]Pinger, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{checks: checks, logger: logger}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, check := range h.checks {
		if check == nil {
			continue
		}
		if err := check.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			httperrors.Write(w, http.StatusServiceUnavailable, dto.HealthResponse{Status: "degraded"})
			return
		}
	}
	httperrors.Write(w, http.StatusOK, dto.HealthResponse{Status: "ok"})
}

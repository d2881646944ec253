package apiapp

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	authsvc "github.com/ivankudzin/modqueue/internal/services/auth"
	queuesvc "github.com/ivankudzin/modqueue/internal/services/queue"
	httperrors "github.com/ivankudzin/modqueue/internal/transport/http/errors"
	"github.com/ivankudzin/modqueue/internal/transport/http/handlers"
)

type Dependencies struct {
	QueueService *queuesvc.Service
	Tokens       TokenParser
	Events       handlers.Subscriber
	HealthChecks map[string]handlers.Pinger
	Logger       *zap.Logger
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	queueHandler := handlers.NewQueueHandler(deps.QueueService, deps.Logger)
	statusHandler := handlers.NewStatusHandler(deps.QueueService, deps.Logger)
	streamHandler := handlers.NewStreamHandler(deps.Events, 0, deps.Logger)
	healthHandler := handlers.NewHealthHandler(deps.HealthChecks, deps.Logger)

	r.Get("/healthz", healthHandler.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(deps.Tokens, deps.Logger))

		r.Get("/events", streamHandler.Events)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(requestTimeout))

			r.Get("/status/{contentID}", statusHandler.Status)

			r.With(RequireRole(authsvc.RoleService, authsvc.RoleModerator, authsvc.RoleAdmin)).
				Post("/queues/{queueType}/items", queueHandler.Enqueue)

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(authsvc.RoleModerator, authsvc.RoleAdmin))
				r.Get("/overview", statusHandler.Overview)
				r.Get("/queues/{queueType}/items", queueHandler.List)
				r.Get("/queues/{queueType}/next", queueHandler.Peek)
			})

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(authsvc.RoleAdmin))
				r.Delete("/queues/items/{itemID}", queueHandler.Remove)
				r.Post("/queues/items/{itemID}/requeue", queueHandler.Requeue)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.Write(w, http.StatusNotFound, httperrors.APIError{Code: "NOT_FOUND", Message: "route not found"})
	})
}

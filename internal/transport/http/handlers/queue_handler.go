package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ivankudzin/modqueue/internal/domain/enums"
	"github.com/ivankudzin/modqueue/internal/domain/model"
	"github.com/ivankudzin/modqueue/internal/pkg/validate"
	queuesvc "github.com/ivankudzin/modqueue/internal/services/queue"
	"github.com/ivankudzin/modqueue/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/modqueue/internal/transport/http/errors"
)

type QueueHandler struct {
	service *queuesvc.Service
	logger  *zap.Logger
}

func NewQueueHandler(service *queuesvc.Service, logger *zap.Logger) *QueueHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueHandler{service: service, logger: logger}
}

func (h *QueueHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "QUEUE_SERVICE_UNAVAILABLE", "queue service is unavailable")
		return
	}
	queueType, ok := queueTypeParam(r)
	if !ok {
		writeBadRequest(w, "INVALID_QUEUE_TYPE", "unknown queue type")
		return
	}

	var req dto.EnqueueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}
	contentID, ok := validate.UUID(req.ContentID)
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "content_id must be a uuid")
		return
	}

	item, err := h.service.Enqueue(r.Context(), contentID, queueType, req.PriorityOverride)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrDuplicateEnqueue):
			writeConflict(w, "DUPLICATE_ENQUEUE", "content already waits in this queue")
		case errors.Is(err, model.ErrContentNotFound):
			writeNotFound(w, "CONTENT_NOT_FOUND", "content not found")
		case errors.Is(err, queuesvc.ErrInvalidQueueType):
			writeBadRequest(w, "INVALID_QUEUE_TYPE", "unknown queue type")
		default:
			h.logger.Error("enqueue failed", zap.Error(err))
			writeInternal(w, "INTERNAL_ERROR", "failed to enqueue content")
		}
		return
	}

	httperrors.Write(w, http.StatusCreated, toItemResponse(item))
}

func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "QUEUE_SERVICE_UNAVAILABLE", "queue service is unavailable")
		return
	}
	queueType, ok := queueTypeParam(r)
	if !ok {
		writeBadRequest(w, "INVALID_QUEUE_TYPE", "unknown queue type")
		return
	}

	query := r.URL.Query()
	limit, ok := validate.IntOrDefault(query.Get("limit"), queuesvc.DefaultListLimit)
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "limit must be an integer")
		return
	}
	offset, ok := validate.IntOrDefault(query.Get("offset"), 0)
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "offset must be an integer")
		return
	}
	var status *enums.ItemStatus
	if raw := query.Get("status"); validate.Required(raw) {
		parsed, ok := enums.ParseItemStatus(raw)
		if !ok {
			writeBadRequest(w, "VALIDATION_ERROR", "unknown status")
			return
		}
		status = &parsed
	}

	items, err := h.service.List(r.Context(), queueType, status, limit, offset)
	if err != nil {
		h.logger.Error("list queue failed", zap.Error(err))
		writeInternal(w, "INTERNAL_ERROR", "failed to list queue")
		return
	}

	resp := dto.QueueItemsResponse{
		Items:  make([]dto.QueueItemResponse, 0, len(items)),
		Limit:  limit,
		Offset: offset,
	}
	for _, item := range items {
		resp.Items = append(resp.Items, toItemResponse(item))
	}
	httperrors.Write(w, http.StatusOK, resp)
}

func (h *QueueHandler) Peek(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "QUEUE_SERVICE_UNAVAILABLE", "queue service is unavailable")
		return
	}
	queueType, ok := queueTypeParam(r)
	if !ok {
		writeBadRequest(w, "INVALID_QUEUE_TYPE", "unknown queue type")
		return
	}

	item, found, err := h.service.PeekNext(r.Context(), queueType)
	if err != nil {
		h.logger.Error("peek queue failed", zap.Error(err))
		writeInternal(w, "INTERNAL_ERROR", "failed to peek queue")
		return
	}
	resp := dto.PeekResponse{}
	if found {
		out := toItemResponse(item)
		resp.Item = &out
	}
	httperrors.Write(w, http.StatusOK, resp)
}

func (h *QueueHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "QUEUE_SERVICE_UNAVAILABLE", "queue service is unavailable")
		return
	}
	id, ok := validate.UUID(chi.URLParam(r, "itemID"))
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "item id must be a uuid")
		return
	}
	if err := h.service.Remove(r.Context(), id); err != nil {
		h.logger.Error("remove queue item failed", zap.Error(err))
		writeInternal(w, "INTERNAL_ERROR", "failed to remove queue item")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *QueueHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "QUEUE_SERVICE_UNAVAILABLE", "queue service is unavailable")
		return
	}
	id, ok := validate.UUID(chi.URLParam(r, "itemID"))
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "item id must be a uuid")
		return
	}

	item, err := h.service.Requeue(r.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrItemNotFound) {
			writeNotFound(w, "ITEM_NOT_FOUND", "no processing item with this id")
			return
		}
		h.logger.Error("requeue failed", zap.Error(err))
		writeInternal(w, "INTERNAL_ERROR", "failed to requeue item")
		return
	}
	httperrors.Write(w, http.StatusOK, toItemResponse(item))
}

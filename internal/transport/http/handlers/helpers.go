package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ivankudzin/modqueue/internal/domain/enums"
	"github.com/ivankudzin/modqueue/internal/domain/model"
	"github.com/ivankudzin/modqueue/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/modqueue/internal/transport/http/errors"
)

const maxBodyBytes = 64 << 10

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeBadRequest(w http.ResponseWriter, code, message string) {
	httperrors.WriteError(w, http.StatusBadRequest, code, message)
}

func writeUnauthorized(w http.ResponseWriter, code, message string) {
	httperrors.WriteError(w, http.StatusUnauthorized, code, message)
}

func writeForbidden(w http.ResponseWriter, code, message string) {
	httperrors.WriteError(w, http.StatusForbidden, code, message)
}

func writeNotFound(w http.ResponseWriter, code, message string) {
	httperrors.WriteError(w, http.StatusNotFound, code, message)
}

func writeConflict(w http.ResponseWriter, code, message string) {
	httperrors.WriteError(w, http.StatusConflict, code, message)
}

func writeInternal(w http.ResponseWriter, code, message string) {
	httperrors.WriteError(w, http.StatusInternalServerError, code, message)
}

func queueTypeParam(r *http.Request) (enums.QueueType, bool) {
	return enums.ParseQueueType(chi.URLParam(r, "queueType"))
}

func toItemResponse(item model.QueueItem) dto.QueueItemResponse {
	return dto.QueueItemResponse{
		ID:                    item.ID.String(),
		ContentID:             item.ContentID.String(),
		OwnerID:               item.OwnerID.String(),
		QueueType:             string(item.QueueType),
		PriorityScore:         item.PriorityScore,
		PriorityOverride:      item.PriorityOverride,
		PositionInQueue:       item.PositionInQueue,
		Status:                string(item.Status),
		RetryCount:            item.RetryCount,
		EnteredQueueAt:        item.EnteredQueueAt,
		WorkerAssignedAt:      item.WorkerAssignedAt,
		WorkerID:              item.WorkerID,
		EstimatedCompletionAt: item.EstimatedCompletionAt,
		CompletedAt:           item.CompletedAt,
		StuckAt:               item.StuckAt,
		LastError:             item.LastError,
	}
}

func toStatusResponse(st model.QueueStatus) dto.QueueStatusResponse {
	return dto.QueueStatusResponse{
		ItemID:               st.ItemID.String(),
		ContentID:            st.ContentID.String(),
		QueueType:            string(st.QueueType),
		Position:             st.Position,
		TotalItems:           st.TotalItems,
		EstimatedWaitSeconds: int64(st.EstimatedWait / time.Second),
		Status:               string(st.Status),
		Commentary:           st.Commentary,
	}
}

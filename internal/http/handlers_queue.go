package httpx

import (
	"context"
	"net/http"

	"github.com/target/ticket-enhancer/internal/domain/model"
)

// QueueReader is the read-only view of the job queue exposed to operators.
type QueueReader interface {
	Stats(ctx context.Context) (*model.QueueStats, error)
	ListDead(ctx context.Context, limit int) ([]model.DeadJob, error)
}

const (
	defaultDeadLimit = 50
	maxDeadLimit     = 500
)

// QueueHandlers serves queue introspection.
type QueueHandlers struct {
	Svc QueueReader
}

// Stats returns pending, running, and dead counts plus the oldest pending age.
func (h *QueueHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.Stats(r.Context())
	if err != nil {
		WriteAppError(w, err, 0)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// Dead lists the newest dead-set entries. ?limit= defaults to 50.
func (h *QueueHandlers) Dead(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.Svc.ListDead(r.Context(), parseLimit(r, defaultDeadLimit, maxDeadLimit))
	if err != nil {
		WriteAppError(w, err, 0)
		return
	}
	if jobs == nil {
		jobs = []model.DeadJob{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

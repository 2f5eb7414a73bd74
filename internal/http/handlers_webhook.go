package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/target/ticket-enhancer/config"
	"github.com/target/ticket-enhancer/internal/domain/model"
	apperrors "github.com/target/ticket-enhancer/internal/errors"
)

// Ingestor accepts one raw webhook delivery.
type Ingestor interface {
	Ingest(ctx context.Context, body []byte, signature string) (model.IngestResult, error)
}

// WebhookHandlers serves POST /webhooks/tickets.
type WebhookHandlers struct {
	Svc    Ingestor
	Config config.WebhookConfig
	Logger *slog.Logger
}

// Receive reads the raw body, since the signature covers the exact bytes sent, and
// hands it to the ingest service. Accepted deliveries, new or duplicate, get 202.
func (h *WebhookHandlers) Receive(w http.ResponseWriter, r *http.Request) {
	limit := h.Config.MaxBodyBytes
	if limit <= 0 {
		limit = 1 << 20
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, ErrorParams{
				Code:    http.StatusRequestEntityTooLarge,
				ErrCode: string(apperrors.ErrCodeValidation),
				Err:     fmt.Errorf("body exceeds %d bytes", limit),
			})
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: string(apperrors.ErrCodeValidation), Err: errors.New("unreadable body")})
		return
	}

	header := h.Config.SignatureHeader
	if header == "" {
		header = "X-Signature"
	}
	res, err := h.Svc.Ingest(r.Context(), body, r.Header.Get(header))
	if err != nil {
		if StatusForError(err) == http.StatusInternalServerError && h.Logger != nil {
			h.Logger.ErrorContext(r.Context(), "webhook ingest failed", "error", err)
		}
		WriteAppError(w, err, h.Config.RetryAfter)
		return
	}
	WriteJSON(w, http.StatusAccepted, res)
}

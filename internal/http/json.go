package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/target/ticket-enhancer/internal/errors"
	"github.com/target/ticket-enhancer/internal/service"
)

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		// Response writer errors (e.g., client disconnect) can't be recovered from here.
		return
	}
}

// ErrorParams groups parameters for WriteError.
type ErrorParams struct {
	Code    int
	ErrCode string
	Err     error
	// RetryAfter is advertised on 429 and 503 responses when positive.
	RetryAfter time.Duration
}

// WriteError writes a JSON error response using ErrorParams.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	if p.RetryAfter > 0 && (p.Code == http.StatusTooManyRequests || p.Code == http.StatusServiceUnavailable) {
		w.Header().Set("Retry-After", strconv.Itoa(int((p.RetryAfter+time.Second-1)/time.Second)))
	}
	WriteJSON(w, p.Code, map[string]string{"error": p.ErrCode, "message": p.Err.Error()})
}

// WriteAppError maps an error from the service layer onto a status code. Internal
// failures are reported without their cause.
func WriteAppError(w http.ResponseWriter, err error, retryAfter time.Duration) {
	code := StatusForError(err)
	errCode := string(apperrors.GetCode(err))
	if errCode == "" {
		errCode = string(apperrors.ErrCodeInternal)
	}
	if code == http.StatusInternalServerError {
		err = errors.New("internal error")
	}
	WriteError(w, ErrorParams{Code: code, ErrCode: errCode, Err: err, RetryAfter: retryAfter})
}

// StatusForError returns the HTTP status for an error's code.
func StatusForError(err error) int {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeValidation:
		return http.StatusBadRequest
	case apperrors.ErrCodeInvalidSignature, apperrors.ErrCodeReplayDetected:
		return http.StatusUnauthorized
	case apperrors.ErrCodeUnknownTenant, apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeConflict:
		return http.StatusConflict
	case apperrors.ErrCodeQueueUnavailable:
		if errors.Is(err, service.ErrTenantBackpressure) {
			return http.StatusTooManyRequests
		}
		return http.StatusServiceUnavailable
	case apperrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/target/ticket-enhancer/internal/retry"
)

// PostJSON delivers body to url, retrying transient failures up to retryLimit times
// with a linear 200ms step. Sinks share it so every alert path uses the same policy.
func PostJSON(ctx context.Context, hc *http.Client, url string, body []byte, retryLimit int) error {
	policy := retry.Policy{
		MaxAttempts: retryLimit + 1,
		Backoff:     retry.Linear(200 * time.Millisecond),
		Retryable:   retry.HTTPRetryable,
	}
	return retry.Do(ctx, policy, func(ctx context.Context, _ int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := hc.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return retry.NewStatusError(resp)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	})
}

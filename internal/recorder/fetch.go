package recorder

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	retry "github.com/avast/retry-go/v4"
)

// ManifestFetcher retrieves manifest text for a URL. Implementations must
// bypass any cache layer so each call observes live playlist updates.
type ManifestFetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// HTTPManifestFetcher fetches manifests over HTTP with no-cache headers and a
// bounded retry on transient failures.
type HTTPManifestFetcher struct {
	client   *http.Client
	attempts uint
}

// NewHTTPManifestFetcher returns a fetcher using client. attempts is the total
// number of tries per Fetch; values below 1 mean a single try.
func NewHTTPManifestFetcher(client *http.Client, attempts int) *HTTPManifestFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if attempts < 1 {
		attempts = 1
	}
	return &HTTPManifestFetcher{client: client, attempts: uint(attempts)}
}

// Fetch implements ManifestFetcher.
func (f *HTTPManifestFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	var body string
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
			if err != nil {
				return err
			}
			req.Header.Set("Cache-Control", "no-cache")
			req.Header.Set("Pragma", "no-cache")

			resp, err := f.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unexpected status %d", resp.StatusCode)
			}
			b, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			body = string(b)
			return nil
		},
		retry.Attempts(f.attempts),
		retry.Delay(500*time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", fmt.Errorf("fetch manifest %s: %w", rawURL, err)
	}
	return body, nil
}

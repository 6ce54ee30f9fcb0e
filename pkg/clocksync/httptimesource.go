package clocksync

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPDateTimeSource is a TimeSource that reads the standard HTTP Date
// response header from any reachable service — no purpose-built time
// endpoint required, matching spec.md §4.1's "any service that returns a
// Unix-epoch millisecond timestamp". The Date header carries whole seconds
// only, so the returned value can trail the source's clock by up to one
// second; RTT/2 compensation in Sync covers transport delay, not that
// truncation.
type HTTPDateTimeSource struct {
	URL    string
	Client *http.Client
}

func NewHTTPDateTimeSource(url string) *HTTPDateTimeSource {
	return &HTTPDateTimeSource{URL: url, Client: &http.Client{Timeout: 5 * time.Second}}
}

// Now implements TimeSource by issuing a HEAD request and parsing Date.
func (h *HTTPDateTimeSource) Now(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.URL, nil)
	if err != nil {
		return 0, err
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	dateHeader := resp.Header.Get("Date")
	if dateHeader == "" {
		return 0, fmt.Errorf("clocksync: response missing Date header")
	}
	t, err := http.ParseTime(dateHeader)
	if err != nil {
		return 0, fmt.Errorf("clocksync: parse Date header: %w", err)
	}
	return t.UnixMilli(), nil
}

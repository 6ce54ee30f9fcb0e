// Package fetcher implements the node's instruction fetcher (C4): it
// periodically pulls the next window of this device's instructions from
// the show server, built the way the teacher's cmd/get wraps an
// *http.Client with a fixed timeout and a reporting callback — here the
// callback reports poll outcomes to diagnostics instead of socket stats.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/lumenshow/pkg/show"
)

// ErrExhausted is surfaced only after every retry attempt within one poll
// cycle fails (spec.md §4.4, §5).
var ErrExhausted = errors.New("fetcher: exhausted retries")

const (
	maxAttempts   = 3
	attemptDelay  = time.Second
	requestTimeout = 30 * time.Second
	pollPeriod    = time.Second
)

// Response mirrors the wire schema of GET /device/<id>/instructions
// (spec.md §6.2).
type Response struct {
	DeviceID      string              `json:"device_id"`
	ShowStartTime int64               `json:"show_start_time"`
	Instructions  []wireInstruction   `json:"instructions"`
}

type wireInstruction struct {
	TimestampMS uint64 `json:"timestamp"`
	R           *uint8 `json:"r,omitempty"`
	G           *uint8 `json:"g,omitempty"`
	B           *uint8 `json:"b,omitempty"`
	Off         bool   `json:"off,omitempty"`
}

// Sink receives the results of a successful poll: the decoded instruction
// batch and the server's current show_start_wall_ms.
type Sink interface {
	OnInstructions(batch []show.Instruction, showStartWallMS int64)
}

// Fetcher wraps an *http.Client the way the teacher's
// HTTPClientWithSockStats wraps one: fixed timeout, injected reporting
// callback (here, to diagnostics), constructed once and reused.
type Fetcher struct {
	client   *http.Client
	baseURL  string
	deviceID string
	log      logrus.FieldLogger

	onAttempt func(ok bool)

	lastSeenMS      uint64
	showStartWallMS int64
}

// New constructs a Fetcher polling baseURL for deviceID's instructions.
// onAttempt, if non-nil, is called once per HTTP attempt (including
// retries) with whether it succeeded — the hook diagnostics.Diagnostics
// wires to its FetchAttempts/FetchFailures counters.
func New(baseURL, deviceID string, log logrus.FieldLogger, onAttempt func(ok bool)) *Fetcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Fetcher{
		client:    &http.Client{Timeout: requestTimeout},
		baseURL:   baseURL,
		deviceID:  deviceID,
		log:       log,
		onAttempt: onAttempt,
	}
}

// Fetch issues one query parameterized by (device_id, from=lastSeenMS) and
// returns the decoded batch plus the server's show_start_wall_ms. It
// retries up to maxAttempts times with a fixed backoff on transport error,
// surfacing ErrExhausted only after every attempt fails (spec.md §4.4).
func (f *Fetcher) Fetch(ctx context.Context) ([]show.Instruction, int64, error) {
	cycleID := xid.New().String()
	url := fmt.Sprintf("%s/device/%s/instructions?from=%d", f.baseURL, f.deviceID, f.lastSeenMS)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := f.doAttempt(ctx, url)
		if f.onAttempt != nil {
			f.onAttempt(err == nil)
		}
		if err == nil {
			f.log.WithFields(logrus.Fields{
				"cycle":    cycleID,
				"attempt":  attempt,
				"device":   f.deviceID,
				"received": len(resp.Instructions),
			}).Debug("fetch succeeded")
			return f.handleResponse(resp)
		}
		lastErr = err
		f.log.WithFields(logrus.Fields{
			"cycle":   cycleID,
			"attempt": attempt,
			"device":  f.deviceID,
		}).WithError(err).Warn("fetch attempt failed")

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(attemptDelay):
			}
		}
	}
	return nil, 0, fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}

func (f *Fetcher) doAttempt(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// handleResponse applies the show-start handoff and advances lastSeenMS
// (spec.md §4.4): on a change to show_start_wall_ms (including the first
// non-zero value), the node adopts the new reference; a rewind to zero
// resets lastSeenMS to 0. Flushing pending instructions is left to the
// Sink, which sees the returned showStartWallMS drop to 0.
func (f *Fetcher) handleResponse(resp *Response) ([]show.Instruction, int64, error) {
	rewound := f.showStartWallMS != 0 && resp.ShowStartTime == 0
	f.showStartWallMS = resp.ShowStartTime

	batch := make([]show.Instruction, 0, len(resp.Instructions))
	for _, wi := range resp.Instructions {
		inst := show.Instruction{TimestampMS: wi.TimestampMS, Off: wi.Off}
		if wi.R != nil && wi.G != nil && wi.B != nil {
			inst.Color = show.RGB{R: *wi.R, G: *wi.G, B: *wi.B}
		}
		batch = append(batch, inst)
		if wi.TimestampMS > f.lastSeenMS {
			f.lastSeenMS = wi.TimestampMS
		}
	}
	if rewound {
		f.lastSeenMS = 0
	}
	return batch, f.showStartWallMS, nil
}

// LastSeenMS reports the cursor the next Fetch call will query from.
func (f *Fetcher) LastSeenMS() uint64 { return f.lastSeenMS }

// Run drives the fetch cycle on pollPeriod until ctx is cancelled,
// delivering each successful batch to sink. Cancellation is cooperative
// (spec.md §5): Run exits at its next suspension point.
func (f *Fetcher) Run(ctx context.Context, sink Sink) {
	ticker := time.NewTicker(pollPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch, startWallMS, err := f.Fetch(ctx)
			if err != nil {
				continue // already logged; next tick retries
			}
			sink.OnInstructions(batch, startWallMS)
		}
	}
}

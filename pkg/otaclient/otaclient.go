// Package otaclient is the node's half of the OTA pipeline (C8's
// transport): it polls the show server's firmware advertisement (C7),
// and when a newer version is offered, downloads it via chunked HTTP
// Range requests and drives pkg/otareceiver's reassembly state machine,
// the way pkg/fetcher wraps an *http.Client with a fixed timeout around
// its own polling loop.
package otaclient

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"net/http"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/lumenshow/pkg/otacoordinator"
	"github.com/simeonmiteff/lumenshow/pkg/otareceiver"
)

const (
	// PollPeriod is the cadence on which the node checks for a newer
	// firmware release. Firmware releases are rare relative to the show
	// fetch/clock-sync cadences (spec.md §4.4, §4.1), so this runs far
	// less often than either.
	PollPeriod = 10 * time.Minute

	requestTimeout = 30 * time.Second
	chunkSize      = otareceiver.ChunkSize
)

// ErrAssetNotFound is returned when the advertised release has no asset
// matching the configured asset name.
var ErrAssetNotFound = fmt.Errorf("otaclient: asset not found in release")

// Client polls the show server's firmware advertisement and, on finding a
// newer version, downloads it chunk by chunk and feeds Receiver.
type Client struct {
	httpClient *http.Client
	baseURL    string
	assetName  string
	version    string
	log        logrus.FieldLogger
}

// New constructs a Client. baseURL is the show server's base URL (the same
// one pkg/fetcher and pkg/clocksync use — the OTA coordinator is part of
// the same server, spec.md §2's C7 row). assetName selects which release
// asset this node downloads (e.g. "node-firmware.bin"). version is this
// node's currently running firmware version, compared against each
// release's version with otacoordinator.CompareSemver.
func New(baseURL, assetName, version string, log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    baseURL,
		assetName:  assetName,
		version:    version,
		log:        log,
	}
}

// Run polls on PollPeriod until ctx is cancelled, checking for and
// applying a newer release on each tick. Cancellation is cooperative
// (spec.md §5): Run exits at its next suspension point.
func (c *Client) Run(ctx context.Context, recv *otareceiver.Receiver) {
	ticker := time.NewTicker(PollPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.CheckAndApply(ctx, recv); err != nil {
				c.log.WithError(err).Warn("ota check failed")
			}
		}
	}
}

// CheckAndApply fetches the latest release advertisement; if its version
// is newer than this node's running version, it downloads every chunk via
// Range requests, feeds them to recv in sequence, and reboots once recv
// reaches ReadyToApply. It is a no-op (nil error) when already current.
func (c *Client) CheckAndApply(ctx context.Context, recv *otareceiver.Receiver) error {
	sessionID := xid.New().String()
	log := c.log.WithField("ota_session", sessionID)

	rel, err := c.fetchLatest(ctx)
	if err != nil {
		return fmt.Errorf("otaclient: fetch latest: %w", err)
	}
	if otacoordinator.CompareSemver(rel.Version, c.version) <= 0 {
		log.WithFields(logrus.Fields{"current": c.version, "latest": rel.Version}).
			Debug("firmware up to date")
		return nil
	}

	asset, ok := findAsset(rel, c.assetName)
	if !ok {
		return fmt.Errorf("%w: %q in release %q", ErrAssetNotFound, c.assetName, rel.Version)
	}

	totalChunks := chunkCount(asset.Size)
	log.WithFields(logrus.Fields{
		"current":      c.version,
		"latest":       rel.Version,
		"asset":        asset.Name,
		"size":         asset.Size,
		"total_chunks": totalChunks,
	}).Info("newer firmware found, starting download")

	if err := recv.Start(rel.Version, totalChunks, asset.Size); err != nil {
		return fmt.Errorf("otaclient: start: %w", err)
	}

	for seq := uint32(0); seq < totalChunks; seq++ {
		data, err := c.downloadChunk(ctx, rel.Version, asset.Name, seq, asset.Size)
		if err != nil {
			return fmt.Errorf("otaclient: download chunk %d: %w", seq, err)
		}
		chunk := otareceiver.Chunk{
			Sequence:    seq,
			TotalChunks: totalChunks,
			Version:     rel.Version,
			Data:        data,
			CRC32:       crc32.ChecksumIEEE(data),
		}
		if err := recv.Chunk(chunk); err != nil {
			return fmt.Errorf("otaclient: apply chunk %d: %w", seq, err)
		}
	}

	if recv.State() != otareceiver.StateReadyToApply {
		missing := recv.MissingChunks()
		return fmt.Errorf("otaclient: download finished but receiver not ready, missing=%v", missing)
	}

	log.Info("firmware download complete, rebooting")
	return recv.Reboot()
}

func (c *Client) fetchLatest(ctx context.Context) (otacoordinator.Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/firmware/latest", nil)
	if err != nil {
		return otacoordinator.Release{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return otacoordinator.Release{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return otacoordinator.Release{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var rel otacoordinator.Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return otacoordinator.Release{}, fmt.Errorf("decode release: %w", err)
	}
	return rel, nil
}

// downloadChunk fetches one fixed-size slice of asset via a Range request,
// forwarded end to end through the server's C7 proxy (spec.md §4.7).
func (c *Client) downloadChunk(ctx context.Context, version, assetName string, seq uint32, totalSize int64) ([]byte, error) {
	start := int64(seq) * chunkSize
	end := start + chunkSize - 1
	if end >= totalSize {
		end = totalSize - 1
	}

	url := fmt.Sprintf("%s/firmware/download/%s?asset=%s", c.baseURL, version, assetName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func findAsset(rel otacoordinator.Release, name string) (otacoordinator.Asset, bool) {
	for _, a := range rel.Assets {
		if a.Name == name {
			return a, true
		}
	}
	return otacoordinator.Asset{}, false
}

func chunkCount(size int64) uint32 {
	if size <= 0 {
		return 0
	}
	return uint32((size + chunkSize - 1) / chunkSize)
}

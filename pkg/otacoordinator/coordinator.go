// Package otacoordinator implements the server's OTA coordinator (C7): it
// advertises firmware releases and streams firmware bytes from an
// upstream store, forwarding HTTP Range requests so constrained nodes can
// resume a chunked download.
package otacoordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Release is the wire shape of GET /firmware/latest (spec.md §6.1, §4.7).
type Release struct {
	Version string  `json:"version"`
	Name    string  `json:"name"`
	Assets  []Asset `json:"assets"`
}

// Asset is one downloadable artifact of a release.
type Asset struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"download_url"`
}

// FirmwareStore is the upstream firmware host, named but not designed by
// spec.md §4.7 ("streams the bytes from an upstream store"). GitHubStore
// below is the concrete resolution of that Open Question (SPEC_FULL.md §6),
// consistent with the GITHUB_REPO_OWNER/GITHUB_REPO_NAME config (spec.md
// §6.3).
type FirmwareStore interface {
	Latest(ctx context.Context) (Release, error)
	Open(ctx context.Context, version, asset, rangeHeader string) (body io.ReadCloser, status int, contentRange, contentLength, acceptRanges string, err error)
}

// Coordinator serves the OTA HTTP endpoints backed by a FirmwareStore.
type Coordinator struct {
	store FirmwareStore

	// serverURL, when non-empty, is used to rewrite every advertised
	// asset's DownloadURL to point back at this server's own
	// /firmware/download proxy instead of the upstream store's raw URL
	// (spec.md §6.3's SERVER_URL: "base URL the server uses when
	// rewriting download URLs"). Without it a node would bypass the
	// Range-forwarding proxy entirely and fetch straight from upstream.
	serverURL string
}

func New(store FirmwareStore, serverURL string) *Coordinator {
	return &Coordinator{store: store, serverURL: strings.TrimRight(serverURL, "/")}
}

// Latest writes the current release advertisement, rewriting each asset's
// download URL to this server's own proxy endpoint when serverURL is set.
func (c *Coordinator) Latest(w http.ResponseWriter, r *http.Request) {
	rel, err := c.store.Latest(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if c.serverURL != "" {
		for i := range rel.Assets {
			rel.Assets[i].DownloadURL = fmt.Sprintf("%s/firmware/download/%s?asset=%s",
				c.serverURL, url.PathEscape(rel.Version), url.QueryEscape(rel.Assets[i].Name))
		}
	}
	writeJSON(w, http.StatusOK, rel)
}

// Download streams one asset of one version, forwarding an incoming Range
// header to the upstream store and forwarding back its status (200/206),
// Content-Length, and Content-Range. Accept-Ranges: bytes is advertised on
// 200 responses (spec.md §4.7).
func (c *Coordinator) Download(w http.ResponseWriter, r *http.Request, version string) {
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		http.Error(w, "missing asset parameter", http.StatusBadRequest)
		return
	}

	body, status, contentRange, contentLength, acceptRanges, err := c.store.Open(
		r.Context(), version, asset, r.Header.Get("Range"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer body.Close()

	if acceptRanges != "" {
		w.Header().Set("Accept-Ranges", acceptRanges)
	} else if status == http.StatusOK {
		w.Header().Set("Accept-Ranges", "bytes")
	}
	if contentLength != "" {
		w.Header().Set("Content-Length", contentLength)
	}
	if contentRange != "" {
		w.Header().Set("Content-Range", contentRange)
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(status)
	_, _ = io.Copy(w, body)
}

// ParseRange extracts the start/end of a single-range "bytes=<start>-<end>"
// Range header, per the forwarding contract in spec.md §4.7. Returns
// ok=false for any multi-range or malformed header (this system only
// forwards single contiguous ranges, matching a resumable chunked
// download's needs).
func ParseRange(header string) (start, end int64, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, false
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return 0, 0, false
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	s, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	var e int64 = -1
	if parts[1] != "" {
		e, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, false
		}
	}
	return s, e, true
}

// CompareSemver orders "major.minor.patch"-ish version strings
// numerically component by component, per spec.md §4.7 ("clients compare
// with standard major.minor.patch ordering"). Non-numeric or missing
// components compare as 0, so "1.2" and "1.2.0" are equal.
func CompareSemver(a, b string) int {
	av, bv := splitVersion(a), splitVersion(b)
	for i := 0; i < 3; i++ {
		if av[i] != bv[i] {
			if av[i] < bv[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func splitVersion(v string) [3]int {
	var out [3]int
	parts := strings.SplitN(v, ".", 3)
	for i := 0; i < len(parts) && i < 3; i++ {
		n, _ := strconv.Atoi(parts[i])
		out[i] = n
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/simeonmiteff/lumenshow/pkg/diagnostics"
	"github.com/simeonmiteff/lumenshow/pkg/otacoordinator"
	"github.com/simeonmiteff/lumenshow/pkg/show"
	"github.com/simeonmiteff/lumenshow/pkg/showstore"
)

type emptyStore struct{}

func (emptyStore) Latest(ctx context.Context) (otacoordinator.Release, error) {
	return otacoordinator.Release{}, nil
}
func (emptyStore) Open(ctx context.Context, version, asset, rangeHeader string) (io.ReadCloser, int, string, string, string, error) {
	return io.NopCloser(bytes.NewReader(nil)), http.StatusOK, "", "0", "", nil
}

func newTestServer() *Server {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &Server{
		Store: showstore.New(),
		OTA:   otacoordinator.New(emptyStore{}, ""),
		Diag:  diagnostics.New(log, prometheus.NewRegistry()),
		Log:   log,
	}
}

func TestUploadThenStatus(t *testing.T) {
	srv := newTestServer()
	mux := srv.Routes()

	body, _ := json.Marshal(show.Show{Name: "spooky", Frames: []show.Frame{{Timestamp: 0}}})
	req := httptest.NewRequest(http.MethodPost, "/show/upload", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/show/status", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var status statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, "spooky", status.Name)
	require.False(t, status.IsPlaying)
}

func TestStartWithoutUploadReturns404(t *testing.T) {
	srv := newTestServer()
	mux := srv.Routes()

	req := httptest.NewRequest(http.MethodPost, "/show/start", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeviceInstructionsNeverReturns4xx(t *testing.T) {
	srv := newTestServer()
	mux := srv.Routes()

	req := httptest.NewRequest(http.MethodGet, "/device/whatever-kind-9/instructions", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp instructionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Empty(t, resp.Instructions)
}

func TestUploadRejectsInvalidJSON(t *testing.T) {
	srv := newTestServer()
	mux := srv.Routes()

	req := httptest.NewRequest(http.MethodPost, "/show/upload", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

// Package httpapi wires the show server's HTTP surface (spec.md §6.1) to
// the show store (C5/C6) and OTA coordinator (C7).
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/lumenshow/pkg/diagnostics"
	"github.com/simeonmiteff/lumenshow/pkg/otacoordinator"
	"github.com/simeonmiteff/lumenshow/pkg/show"
	"github.com/simeonmiteff/lumenshow/pkg/showstore"
)

// Server holds everything the show server's HTTP handlers need.
type Server struct {
	Store *showstore.Store
	OTA   *otacoordinator.Coordinator
	Diag  *diagnostics.Diagnostics
	Log   logrus.FieldLogger
}

// Routes returns the server's mux with every endpoint in spec.md §6.1
// registered.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/show/upload", s.handleUpload)
	mux.HandleFunc("/show/start", s.handleStart)
	mux.HandleFunc("/show/status", s.handleStatus)
	mux.HandleFunc("/device/", s.handleDevice)
	mux.HandleFunc("/firmware/latest", s.handleFirmwareLatest)
	mux.HandleFunc("/firmware/download/", s.handleFirmwareDownload)
	return mux
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var sh show.Show
	if err := json.NewDecoder(r.Body).Decode(&sh); err != nil {
		http.Error(w, "invalid show: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.Store.Upload(&sh)
	if s.Diag != nil {
		s.Diag.ShowUploads.Inc()
	}
	s.Log.WithFields(logrus.Fields{"show": sh.Name, "frames": len(sh.Frames)}).Info("show uploaded")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	delayMS := int64(0)
	if v := r.URL.Query().Get("delay_ms"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid delay_ms", http.StatusBadRequest)
			return
		}
		delayMS = parsed
	}
	if err := s.Store.Start(delayMS); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if s.Diag != nil {
		s.Diag.ShowStarts.Inc()
	}
	w.WriteHeader(http.StatusOK)
}

type statusResponse struct {
	Name         string `json:"name"`
	FrameCount   int    `json:"frame_count"`
	UploadWallMS int64  `json:"upload_wall_ms"`
	StartWallMS  int64  `json:"start_wall_ms,omitempty"`
	IsPlaying    bool   `json:"is_playing"`
	ElapsedMS    int64  `json:"elapsed_ms,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.Store.Status()
	writeJSON(w, http.StatusOK, statusResponse{
		Name:         st.Name,
		FrameCount:   st.FrameCount,
		UploadWallMS: st.UploadWallMS,
		StartWallMS:  st.StartWallMS,
		IsPlaying:    st.IsPlaying,
		ElapsedMS:    st.ElapsedMS,
	})
}

type instructionsResponse struct {
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

// handleDevice answers GET /device/<id>/instructions?from=<ms>. Unknown
// device ids or non-LED kinds get an empty list with show_start_time=0,
// never a 4xx (spec.md §6.1).
func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := parseDevicePath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	from := uint64(0)
	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid from", http.StatusBadRequest)
			return
		}
		from = parsed
	}

	// "esp32" is the only kind showstore.Store.Instructions answers.
	if kind, kindOK := show.ParseDeviceKind(deviceID); !kindOK || kind != "esp32" {
		s.Log.WithField("device_id", deviceID).Warn("instruction query for unsupported device kind")
	}

	instructions, startWallMS, _ := s.Store.Instructions(deviceID, from)
	if s.Diag != nil {
		s.Diag.InstructionQueries.Inc()
	}

	out := make([]wireInstruction, 0, len(instructions))
	for _, inst := range instructions {
		wi := wireInstruction{TimestampMS: inst.TimestampMS, Off: inst.Off}
		if !inst.Off {
			r, g, b := inst.Color.R, inst.Color.G, inst.Color.B
			wi.R, wi.G, wi.B = &r, &g, &b
		}
		out = append(out, wi)
	}

	writeJSON(w, http.StatusOK, instructionsResponse{
		DeviceID:      deviceID,
		ShowStartTime: startWallMS,
		Instructions:  out,
	})
}

// parseDevicePath extracts <id> from "/device/<id>/instructions".
func parseDevicePath(path string) (string, bool) {
	const prefix = "/device/"
	const suffix = "/instructions"
	if len(path) <= len(prefix)+len(suffix) {
		return "", false
	}
	if path[:len(prefix)] != prefix {
		return "", false
	}
	rest := path[len(prefix):]
	if len(rest) <= len(suffix) || rest[len(rest)-len(suffix):] != suffix {
		return "", false
	}
	return rest[:len(rest)-len(suffix)], true
}

func (s *Server) handleFirmwareLatest(w http.ResponseWriter, r *http.Request) {
	s.OTA.Latest(w, r)
}

func (s *Server) handleFirmwareDownload(w http.ResponseWriter, r *http.Request) {
	const prefix = "/firmware/download/"
	if len(r.URL.Path) <= len(prefix) {
		http.NotFound(w, r)
		return
	}
	version := r.URL.Path[len(prefix):]
	s.OTA.Download(w, r, version)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

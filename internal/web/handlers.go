package web

import (
	"encoding/json"
	"io/fs"
	"net/http"
	"time"

	"github.com/SteveTheBeaver/GardenMonitor/internal/logic/monitor"
	"golang.org/x/time/rate"
)

// Monitor is the part of the controller exposed over HTTP.
type Monitor interface {
	Snapshot() monitor.Snapshot
	RequestToggle() bool
}

// ToggleRate is the sustained rate of accepted POST /toggle requests.
var ToggleRate = rate.Every(2 * time.Second)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Monitor     Monitor
	limiter     *rate.Limiter
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If m is nil, /status and /toggle return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, m Monitor, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Monitor:     m,
		limiter:     rate.NewLimiter(ToggleRate, 1),
		staticFS:    staticFS,
	}
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleStatus returns the latest controller snapshot as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.Monitor == nil {
		http.Error(w, "monitor not configured", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	json.NewEncoder(w).Encode(h.Monitor.Snapshot())
}

// HandleToggle handles POST /toggle, the software start/stop button. The
// request is applied on the next monitor cycle.
func (h *Handlers) HandleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Monitor == nil {
		http.Error(w, "monitor not configured", http.StatusServiceUnavailable)
		return
	}
	if !h.limiter.Allow() {
		w.Header().Set("Retry-After", "2")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}
	if !h.Monitor.RequestToggle() {
		http.Error(w, "toggle already pending", http.StatusConflict)
		return
	}

	h.Broadcaster.Broadcast("info", "Toggle requested from web")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "requested"})
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

package hostapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petervdpas/voicebridge/internal/logbuf"
	"github.com/petervdpas/voicebridge/internal/plugin"
	"github.com/petervdpas/voicebridge/internal/util"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API only listens on loopback; the desktop page and local tools
	// connect from arbitrary origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Deps struct {
	Plugin Commander
	Logs   *logbuf.LogBuffer // optional

	// Sink given back the event stream when a WebSocket subscriber leaves.
	// Nil cancels the stream instead.
	Fallback plugin.EventSink

	// Per-command deadline. Zero uses util.DefaultScriptTimeout.
	Timeout time.Duration
}

// Register adds the voice routes to mux.
func Register(mux *http.ServeMux, d Deps) {
	if d.Timeout <= 0 {
		d.Timeout = util.DefaultScriptTimeout
	}

	// POST /api/voice/invoke {"method": "...", "arguments": {...}}
	mux.HandleFunc("/api/voice/invoke", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req invokeRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Method == "" {
			http.Error(w, "missing method", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), d.Timeout)
		defer cancel()
		writeJSON(w, Invoke(ctx, d.Plugin, req.Method, req.Arguments))
	})

	// GET /api/voice/events (WebSocket). One subscriber at a time; a new
	// one ends the previous stream.
	mux.HandleFunc("/api/voice/events", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warnf("events: websocket upgrade: %v", err)
			return
		}
		serveEvents(conn, d.Plugin, d.Fallback)
	})

	if d.Logs != nil {
		mux.HandleFunc("/api/logs", d.Logs.ServeLogsJSON)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}

// Server is the optional loopback HTTP API.
type Server struct {
	srv *http.Server
	ln  net.Listener

	closeOnce sync.Once
}

// Start listens on addr and serves the voice routes in the background.
func Start(addr string, d Deps) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	Register(mux, d)

	s := &Server{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		ln:  ln,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("http api: %v", err)
		}
	}()
	log.Infof("http api listening on %s", ln.Addr())
	return s, nil
}

func (s *Server) Addr() string { return s.ln.Addr().String() }

func (s *Server) Close() {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), util.ShortTimeout)
		defer cancel()
		_ = s.srv.Shutdown(ctx)
	})
}

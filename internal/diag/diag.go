// Package diag serves a read-only HTTP view of a running relay: liveness,
// the connected sessions and the runtime profiles from net/http/pprof.
// It can also write CPU and heap profiles to files for the lifetime of a
// server run.
package diag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	netpprof "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/codefionn/bfrelay/internal/consts"
	"github.com/codefionn/bfrelay/internal/logger"
	"github.com/codefionn/bfrelay/internal/relay"
	"github.com/julienschmidt/httprouter"
)

// Sessions is the part of the relay registry the diagnostics server reads.
type Sessions interface {
	ListIDs() []relay.SessionID
	Get(id relay.SessionID) (*relay.Session, bool)
}

// Config holds the diagnostics configuration
type Config struct {
	// HTTPAddr is the listen address, e.g. "localhost:6060". Empty disables HTTP.
	HTTPAddr string
	// CPUProfile is written from Start until Stop
	CPUProfile string
	// HeapProfile is written at Stop
	HeapProfile string
}

// SessionInfo describes one connected session.
type SessionInfo struct {
	ID       string    `json:"id"`
	Address  string    `json:"address"`
	JoinedAt time.Time `json:"joined_at"`
}

// Handler manages the diagnostics server and profile files
type Handler struct {
	config   Config
	sessions Sessions
	router   *httprouter.Router

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cpuFile  *os.File
	stopping bool
}

// NewHandler creates a diagnostics handler reading from sessions
func NewHandler(config Config, sessions Sessions) *Handler {
	h := &Handler{
		config:   config,
		sessions: sessions,
		router:   httprouter.New(),
	}
	h.setupRoutes()
	return h
}

func (h *Handler) setupRoutes() {
	h.router.GET("/health", h.handleHealth)
	h.router.GET("/sessions", h.handleSessions)
	h.router.GET("/sessions/:id", h.handleSession)

	h.router.Handler(http.MethodGet, "/debug/pprof/", http.HandlerFunc(netpprof.Index))
	h.router.Handler(http.MethodGet, "/debug/pprof/cmdline", http.HandlerFunc(netpprof.Cmdline))
	h.router.Handler(http.MethodGet, "/debug/pprof/profile", http.HandlerFunc(netpprof.Profile))
	h.router.Handler(http.MethodGet, "/debug/pprof/symbol", http.HandlerFunc(netpprof.Symbol))
	h.router.Handler(http.MethodGet, "/debug/pprof/trace", http.HandlerFunc(netpprof.Trace))
	for _, name := range []string{"goroutine", "heap", "block", "mutex", "threadcreate", "allocs"} {
		h.router.Handler(http.MethodGet, "/debug/pprof/"+name, netpprof.Handler(name))
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// Start begins CPU profiling and the HTTP server, as configured
func (h *Handler) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.config.CPUProfile != "" {
		f, err := createProfileFile(h.config.CPUProfile)
		if err != nil {
			return err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return fmt.Errorf("failed to start CPU profiling: %w", err)
		}
		h.cpuFile = f
	}

	if h.config.HTTPAddr != "" {
		ln, err := net.Listen("tcp", h.config.HTTPAddr)
		if err != nil {
			if cerr := h.stopCPUProfile(); cerr != nil {
				logger.Warn("%v", cerr)
			}
			return fmt.Errorf("failed to bind diagnostics server: %w", err)
		}
		h.listener = ln
		h.server = &http.Server{
			Handler:           h.router,
			ReadHeaderTimeout: consts.Timeout5Seconds,
		}

		go func() {
			if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("diagnostics server error: %v", err)
			}
		}()
		logger.Info("Diagnostics listening on %s", ln.Addr())
	}

	return nil
}

// Addr returns the HTTP listen address, or nil when not serving.
func (h *Handler) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop shuts the HTTP server down and finishes profile files
func (h *Handler) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopping {
		return nil
	}
	h.stopping = true

	var errs []error

	if err := h.stopCPUProfile(); err != nil {
		errs = append(errs, err)
	}

	if h.config.HeapProfile != "" {
		if err := writeHeapProfile(h.config.HeapProfile); err != nil {
			errs = append(errs, err)
		}
	}

	if h.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), consts.Timeout5Seconds)
		defer cancel()
		if err := h.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown diagnostics server: %w", err))
		}
		h.server = nil
		h.listener = nil
	}

	return errors.Join(errs...)
}

// stopCPUProfile ends a running CPU profile and closes its file. The caller
// holds h.mu.
func (h *Handler) stopCPUProfile() error {
	if h.cpuFile == nil {
		return nil
	}
	pprof.StopCPUProfile()
	err := h.cpuFile.Close()
	h.cpuFile = nil
	if err != nil {
		return fmt.Errorf("failed to close CPU profile: %w", err)
	}
	return nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(h.sessions.ListIDs()),
		"time":     time.Now().Format(time.RFC3339),
	})
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ids := h.sessions.ListIDs()
	out := make([]SessionInfo, 0, len(ids))
	for _, id := range ids {
		if s, ok := h.sessions.Get(id); ok {
			out = append(out, sessionInfo(s))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := parseSessionID(ps.ByName("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s, ok := h.sessions.Get(id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sessionInfo(s))
}

// parseSessionID accepts "Client_3" or "3".
func parseSessionID(raw string) (relay.SessionID, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(raw, "Client_"), 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid session id %q", raw)
	}
	return relay.SessionID(n), nil
}

func sessionInfo(s *relay.Session) SessionInfo {
	return SessionInfo{
		ID:       s.ID.String(),
		Address:  s.RemoteAddr(),
		JoinedAt: s.JoinedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("diagnostics response write failed: %v", err)
	}
}

func createProfileFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for profile: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile file: %w", err)
	}
	return f, nil
}

func writeHeapProfile(path string) error {
	f, err := createProfileFile(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("failed to write heap profile: %w", err)
	}
	return nil
}

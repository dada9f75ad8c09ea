// Package statusapi serves a read-only view of a running session for local
// observers.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/devyyj/joyopi/go/internal/session/conn"
)

// Session is the part of engine.Session the status API reads.
type Session interface {
	ID() string
	State() conn.State
	LastHeartbeat() time.Time
	Do(ctx context.Context, fn func() error) error
}

// SnapshotFunc returns the feature state. It is only ever called on the
// session loop.
type SnapshotFunc func() any

// StateResponse is the body of GET /state.
type StateResponse struct {
	Feature       string     `json:"feature"`
	SessionID     string     `json:"sessionId"`
	Connection    string     `json:"connection"`
	LastHeartbeat *time.Time `json:"lastHeartbeat,omitempty"`
	State         any        `json:"state"`
}

const snapshotTimeout = 2 * time.Second

// Handler serves /health and /state.
type Handler struct {
	feature  string
	session  Session
	snapshot SnapshotFunc
}

// NewHandler builds the routes for one session, wrapped in CORS.
func NewHandler(feature string, session Session, snapshot SnapshotFunc) http.Handler {
	h := &Handler{feature: feature, session: session, snapshot: snapshot}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/state", h.handleState)

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.Debug().Err(err).Msg("failed to write health response")
	}
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
	defer cancel()

	var state any
	err := h.session.Do(ctx, func() error {
		state = h.snapshot()
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("feature", h.feature).Msg("failed to take snapshot")
		http.Error(w, "Session unavailable", http.StatusServiceUnavailable)
		return
	}

	resp := StateResponse{
		Feature:    h.feature,
		SessionID:  h.session.ID(),
		Connection: h.session.State().String(),
		State:      state,
	}
	if beat := h.session.LastHeartbeat(); !beat.IsZero() {
		resp.LastHeartbeat = &beat
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("failed to encode state response")
	}
}

// Server runs the handler over h2c.
type Server struct {
	srv *http.Server
}

// NewServer returns a server for addr.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h2c.NewHandler(handler, &http2.Server{}),
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("status server starting")
		errc <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("status server shutdown failed")
		return err
	}
	return nil
}

// Package api serves the Fish Tank and voice coach JSON endpoints:
//
//	POST   /api/fishtank/sessions                 start a session
//	POST   /api/fishtank/sessions/{id}/replies    submit a player message
//	POST   /api/fishtank/sessions/{id}/autopilot  let the model pitch for the player
//	GET    /api/fishtank/sessions/{id}            full session snapshot
//	DELETE /api/fishtank/sessions/{id}            end a session
//	POST   /api/coach/analyses                    transcribe and review a recording
//
// Errors are JSON objects of the form {"error": "..."}. Internal failures
// carry a generic message; the detail goes to the log.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrWong99/fishtank/internal/coach"
	"github.com/MrWong99/fishtank/internal/negotiation"
	"github.com/MrWong99/fishtank/internal/observe"
	"github.com/MrWong99/fishtank/internal/session"
)

// Sessions is the negotiation surface the API drives.
// [*negotiation.Engine] implements it.
type Sessions interface {
	StartSession(ctx context.Context) (*negotiation.Start, error)
	Reply(ctx context.Context, id, message, audioRef string) (*negotiation.Turn, error)
	Autopilot(ctx context.Context, id string) (*negotiation.Turn, error)
	Get(ctx context.Context, id string) (*session.Session, error)
	Delete(ctx context.Context, id string) error
}

var _ Sessions = (*negotiation.Engine)(nil)

// Analyzer runs voice coach analyses. [*coach.Coach] implements it.
type Analyzer interface {
	Analyze(ctx context.Context, u coach.Upload) (*coach.Result, error)
}

var _ Analyzer = (*coach.Coach)(nil)

const (
	maxReplyBody          = 64 << 10
	defaultMaxUploadBytes = 25 << 20
	multipartMemory       = 8 << 20
)

// Option is a functional option for configuring a [Server].
type Option func(*Server)

// WithCoach enables the coach endpoint. Without it the endpoint answers 503.
func WithCoach(c Analyzer) Option {
	return func(s *Server) { s.coach = c }
}

// WithMaxUploadBytes caps coach uploads. Default: 25 MiB.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// Server holds the handlers.
type Server struct {
	sessions  Sessions
	coach     Analyzer
	maxUpload int64
}

// New returns a server driving sessions.
func New(sessions Sessions, opts ...Option) *Server {
	s := &Server{sessions: sessions, maxUpload: defaultMaxUploadBytes}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register mounts the endpoints on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/fishtank/sessions", s.handleStart)
	mux.HandleFunc("POST /api/fishtank/sessions/{id}/replies", s.handleReply)
	mux.HandleFunc("POST /api/fishtank/sessions/{id}/autopilot", s.handleAutopilot)
	mux.HandleFunc("GET /api/fishtank/sessions/{id}", s.handleGet)
	mux.HandleFunc("DELETE /api/fishtank/sessions/{id}", s.handleDelete)
	mux.HandleFunc("POST /api/coach/analyses", s.handleCoach)
}

// Handler returns a mux with only the API endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeFailure maps err to a response. Unknown errors are logged and
// reported as a generic 500.
func writeFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, negotiation.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, negotiation.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "message is required")
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads the answer.
		w.WriteHeader(499)
	default:
		observe.Logger(r.Context()).Error("api: request failed", "op", op, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

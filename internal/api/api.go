// Package api provides HTTP handlers and the main API server logic for GrievanceFlow.
//
// It exposes RESTful endpoints for conversational intake, direct complaint
// registration, status lookup, and operator status updates. The API is glue
// over the store and the conversation engine; no business rule lives here.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/CivicStack/GrievanceFlow/internal/flow"
	"github.com/CivicStack/GrievanceFlow/internal/scheduler"
	"github.com/CivicStack/GrievanceFlow/internal/store"
)

// Default server configuration constants
const (
	// DefaultAddr is the default listen address for the API server.
	DefaultAddr = ":8080"
	// DefaultSweepSchedule runs the expired-session sweep at the top of every hour.
	DefaultSweepSchedule = "0 * * * *"
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr          string
	SweepSchedule string
	SessionMaxAge time.Duration
}

// Option configures server construction.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithSweepSchedule overrides the cron expression driving the session sweeper.
func WithSweepSchedule(expr string) Option {
	return func(o *Opts) { o.SweepSchedule = expr }
}

// WithSessionMaxAge overrides the session expiry threshold.
func WithSessionMaxAge(d time.Duration) Option {
	return func(o *Opts) { o.SessionMaxAge = d }
}

// Server wires the record store and the conversation engine to HTTP.
type Server struct {
	st     store.Store
	engine *flow.ConversationFlow
	opts   Opts
}

// NewServer creates an API server over the given store and engine.
func NewServer(st store.Store, engine *flow.ConversationFlow, opts ...Option) *Server {
	cfg := Opts{
		Addr:          DefaultAddr,
		SweepSchedule: DefaultSweepSchedule,
		SessionMaxAge: store.DefaultSessionMaxAge,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{st: st, engine: engine, opts: cfg}
}

// Handler builds the route table. Exposed separately so tests can drive the
// server through httptest without binding a socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", s.chatHandler)
	mux.HandleFunc("/api/complaint/register", s.registerHandler)
	mux.HandleFunc("/api/complaint/status", s.statusByMobileHandler)
	mux.HandleFunc("/api/complaint/status/", s.statusByIDHandler)
	mux.HandleFunc("/api/complaint/update", s.updateStatusHandler)
	mux.HandleFunc("/api/health", s.healthHandler)
	return mux
}

// Run starts the scheduled session sweeper and serves HTTP until the
// listener fails.
func (s *Server) Run() error {
	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(s.opts.SweepSchedule, s.sweepSessions); err != nil {
		return fmt.Errorf("failed to schedule session sweep: %w", err)
	}
	slog.Debug("Session sweeper scheduled", "schedule", s.opts.SweepSchedule)

	slog.Info("GrievanceFlow API listening", "addr", s.opts.Addr)
	if err := http.ListenAndServe(s.opts.Addr, s.Handler()); err != nil {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// sweepSessions removes sessions older than the configured threshold.
func (s *Server) sweepSessions() {
	removed, err := s.st.SweepExpiredSessions(s.opts.SessionMaxAge)
	if err != nil {
		slog.Error("Session sweep failed", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("Session sweep removed expired sessions", "count", removed, "maxAge", s.opts.SessionMaxAge)
	}
}

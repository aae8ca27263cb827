// Package ops serves the operational HTTP surface: liveness, a JSON status
// document, an optional manual tick and optional pprof handlers.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"easytrack/internal/notifier"
	rtsup "easytrack/internal/runtime/supervisor"
	"easytrack/internal/scheduler"
	logx "easytrack/pkg/logx"
)

const DefaultAddr = "127.0.0.1:8081"

type Config struct {
	Enabled bool
	Addr    string
	// Token guards /status, /tick and pprof when set. /healthz stays open.
	Token string
	// AllowTrigger mounts POST /tick. In exact match mode a trigger inside a
	// minute the loop already ticked sends that minute's reminders again.
	AllowTrigger bool
	Pprof        bool
}

// Scheduler is the part of scheduler.Service the server reads.
type Scheduler interface {
	State() scheduler.State
	Snapshot(ctx context.Context) scheduler.Snapshot
	Trigger(ctx context.Context) (scheduler.TickReport, error)
	Supervised() []rtsup.TaskStats
}

type Notifier interface {
	Counters() notifier.Counters
	Recent() []notifier.Result
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Service struct {
	cfg   Config
	sched Scheduler
	notif Notifier
	store Pinger
	log   logx.Logger

	mu  sync.Mutex
	ln  net.Listener
	srv *http.Server
	sup *rtsup.Supervisor
}

func New(cfg Config, sched Scheduler, notif Notifier, store Pinger, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, sched: sched, notif: notif, store: store, log: log}
}

// Addr is the bound listen address, empty when not running.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Start binds the listener synchronously so address errors reach the caller,
// then serves in a supervised goroutine. It is a no-op when disabled or
// already running.
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	if s.cfg.Token == "" && !isLoopbackAddr(addr) {
		s.log.Warn("ops server on non-loopback addr without token", logx.String("addr", addr))
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	sup := rtsup.New(ctx, rtsup.WithLogger(s.log))
	sup.Go("ops.serve", func(context.Context) error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	s.ln, s.srv, s.sup = ln, srv, sup
	s.log.Info("ops server started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", s.cfg.Token != ""),
		logx.Bool("trigger", s.cfg.AllowTrigger),
		logx.Bool("pprof", s.cfg.Pprof),
	)
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, sup := s.srv, s.sup
	s.srv, s.sup, s.ln = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	if serr := sup.Stop(ctx); err == nil {
		err = serr
	}
	s.log.Info("ops server stopped")
	return err
}

// Handler builds the mux. It is exported for tests and for embedding.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	auth := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(s.cfg.Token, h) }

	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /status", auth(s.status))
	if s.cfg.AllowTrigger {
		mux.HandleFunc("POST /tick", auth(s.trigger))
	}
	if s.cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", auth(hpprof.Index))
		mux.HandleFunc("/debug/pprof/cmdline", auth(hpprof.Cmdline))
		mux.HandleFunc("/debug/pprof/profile", auth(hpprof.Profile))
		mux.HandleFunc("/debug/pprof/symbol", auth(hpprof.Symbol))
		mux.HandleFunc("/debug/pprof/trace", auth(hpprof.Trace))
	}
	return mux
}

func (s *Service) healthz(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil || s.sched.State() != scheduler.StateRunning {
		http.Error(w, "scheduler stopped", http.StatusServiceUnavailable)
		return
	}
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			http.Error(w, "store: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	_, _ = w.Write([]byte("ok"))
}

type resultView struct {
	notifier.Result
	Error string `json:"error,omitempty"`
}

type statusDoc struct {
	Scheduler *scheduler.Snapshot `json:"scheduler,omitempty"`
	Tasks     []rtsup.TaskStats   `json:"tasks,omitempty"`
	Counters  *notifier.Counters  `json:"counters,omitempty"`
	Recent    []resultView        `json:"recent,omitempty"`
	Store     string              `json:"store,omitempty"`
}

func (s *Service) status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var doc statusDoc
	if s.sched != nil {
		snap := s.sched.Snapshot(ctx)
		doc.Scheduler = &snap
		doc.Tasks = s.sched.Supervised()
	}
	if s.notif != nil {
		c := s.notif.Counters()
		doc.Counters = &c
		for _, res := range s.notif.Recent() {
			v := resultView{Result: res}
			if res.Err != nil {
				v.Error = res.Err.Error()
			}
			doc.Recent = append(doc.Recent, v)
		}
	}
	if s.store != nil {
		doc.Store = "ok"
		if err := s.store.Ping(ctx); err != nil {
			doc.Store = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Service) trigger(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		http.Error(w, "no scheduler", http.StatusServiceUnavailable)
		return
	}
	rep, err := s.sched.Trigger(r.Context())
	if errors.Is(err, scheduler.ErrNotRunning) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.log.Info("manual tick", logx.String("tick_id", rep.TickID), logx.String("remote", r.RemoteAddr))
	writeJSON(w, http.StatusOK, rep)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h(w, r)
			return
		}
		unauthorized(w)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

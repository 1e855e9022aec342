package relay

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/lukasbauer/voicerelay/internal/eventlog"
	"github.com/lukasbauer/voicerelay/internal/upstream"
	"github.com/lukasbauer/voicerelay/internal/wsconn"
)

const (
	DefaultPendingLimit   = 64
	DefaultConnectTimeout = 10 * time.Second
)

// Connector opens the upstream side of a session.
type Connector interface {
	Connect(ctx context.Context, p upstream.Params) (wsconn.Handle, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, p upstream.Params) (wsconn.Handle, error)

func (f ConnectorFunc) Connect(ctx context.Context, p upstream.Params) (wsconn.Handle, error) {
	return f(ctx, p)
}

type Config struct {
	Connector   Connector
	Interceptor Interceptor // nil forwards everything unchanged

	// PendingLimit bounds messages buffered per session before they are
	// forwarded upstream.
	PendingLimit   int
	ConnectTimeout time.Duration

	Metrics *Metrics
	Events  *eventlog.Logger
	Logger  *log.Logger
}

// Engine accepts downstream connections and runs one Session per
// connection. Sessions share nothing but the engine's configuration.
type Engine struct {
	connector      Connector
	interceptor    Interceptor
	pendingLimit   int
	connectTimeout time.Duration
	metrics        *Metrics
	events         *eventlog.Logger
	logger         *log.Logger
	registry       *Registry
}

func NewEngine(cfg Config) *Engine {
	e := &Engine{
		connector:      cfg.Connector,
		interceptor:    cfg.Interceptor,
		pendingLimit:   cfg.PendingLimit,
		connectTimeout: cfg.ConnectTimeout,
		metrics:        cfg.Metrics,
		events:         cfg.Events,
		logger:         cfg.Logger,
		registry:       NewRegistry(),
	}
	if e.interceptor == nil {
		e.interceptor = PassThrough{}
	}
	if e.pendingLimit <= 0 {
		e.pendingLimit = DefaultPendingLimit
	}
	if e.connectTimeout <= 0 {
		e.connectTimeout = DefaultConnectTimeout
	}
	if e.logger == nil {
		e.logger = log.New(io.Discard, "", 0)
	}
	if e.events == nil {
		e.events = eventlog.New(e.logger)
	}
	return e
}

// Accept starts a session for an established downstream connection and
// returns immediately; the upstream connects in the background. Messages the
// client sends meanwhile are buffered up to the pending limit.
func (e *Engine) Accept(down wsconn.Handle, p upstream.Params) (*Session, error) {
	s := newSession(e, down, p)
	if !e.registry.Add(s) {
		s.cancel()
		_ = down.Close(nil)
		return nil, ErrDraining
	}
	e.metrics.sessionStarted()
	s.log.Log(eventlog.EventSessionCreated, map[string]any{"model": p.Model})

	go s.run()
	return s, nil
}

// Session returns the registered session with id.
func (e *Engine) Session(id string) (*Session, bool) {
	return e.registry.Get(id)
}

// Sessions lists registered sessions, oldest first.
func (e *Engine) Sessions() []SessionInfo {
	list := e.registry.List()
	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		out = append(out, s.Info())
	}
	return out
}

func (e *Engine) ActiveCount() int {
	return e.registry.Len()
}

// CloseSession ends the session with id. Returns false if it is not
// registered.
func (e *Engine) CloseSession(id string) bool {
	s, ok := e.registry.Get(id)
	if !ok {
		return false
	}
	s.Close()
	return true
}

// StartDraining rejects new sessions while existing ones keep running.
func (e *Engine) StartDraining() {
	e.registry.StartDraining()
}

func (e *Engine) IsDraining() bool {
	return e.registry.IsDraining()
}

// Shutdown stops accepting sessions, closes every running session and waits
// for them to finish or for ctx to end. Sessions still registered when ctx
// ends are dropped from the registry.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.registry.StartDraining()

	sessions := e.registry.List()
	if len(sessions) > 0 {
		e.logger.Printf("relay: closing %d sessions", len(sessions))
	}
	for _, s := range sessions {
		go s.Close()
	}

	if err := e.registry.Wait(ctx); err != nil {
		left := e.registry.Clear()
		e.logger.Printf("relay: shutdown timed out with %d sessions still closing", len(left))
		return err
	}
	return nil
}

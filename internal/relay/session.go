package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lukasbauer/voicerelay/internal/eventlog"
	"github.com/lukasbauer/voicerelay/internal/upstream"
	"github.com/lukasbauer/voicerelay/internal/wsconn"
	"golang.org/x/sync/errgroup"
)

// State is a session's lifecycle position. It only moves forward.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// SessionInfo is a point-in-time view of a session.
type SessionInfo struct {
	ID           string    `json:"id"`
	State        string    `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	Model        string    `json:"model,omitempty"`
	MessagesUp   int64     `json:"messages_upstream"`
	MessagesDown int64     `json:"messages_downstream"`
	BytesUp      int64     `json:"bytes_upstream"`
	BytesDown    int64     `json:"bytes_downstream"`
	Synthesized  int64     `json:"synthesized"`
}

// Session pairs one downstream client with one upstream connection.
//
// Four goroutines run per session: connect dials the upstream, pumpDownstream
// reads the client into inbox, forwardUpstream drains inbox through the
// interceptor once the upstream is ready, and pumpUpstream copies upstream
// frames to the client. The first fatal error on any of them terminates the
// session; later errors are ignored.
type Session struct {
	id        string
	createdAt time.Time
	params    upstream.Params
	engine    *Engine
	log       *eventlog.SessionLog

	downstream wsconn.Handle

	// mu guards upstream and cause and serializes the Connecting→Active
	// and →Closing transitions.
	mu       sync.Mutex
	upstream wsconn.Handle
	cause    error
	state    atomic.Int32

	// inbox holds downstream messages in arrival order until the forwarder
	// sends them upstream. Its capacity is the pending limit.
	inbox chan wsconn.Message
	ready chan struct{}
	done  chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	messagesUp   atomic.Int64
	messagesDown atomic.Int64
	bytesUp      atomic.Int64
	bytesDown    atomic.Int64
	synthesized  atomic.Int64
}

func newSession(e *Engine, down wsconn.Handle, p upstream.Params) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Session{
		id:         id,
		createdAt:  time.Now(),
		params:     p.Clone(),
		engine:     e,
		log:        e.events.Session(id),
		downstream: down,
		inbox:      make(chan wsconn.Message, e.pendingLimit),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the session reaches Closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the cause that terminated the session, or nil while it runs.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Close ends the session from the relay side. Both connections are closed
// without an error notice.
func (s *Session) Close() {
	s.terminate(peerClosed(SideRelay, ErrSessionClosed))
}

// Info returns counters and state for listings.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:           s.id,
		State:        s.State().String(),
		CreatedAt:    s.createdAt,
		Model:        s.params.Model,
		MessagesUp:   s.messagesUp.Load(),
		MessagesDown: s.messagesDown.Load(),
		BytesUp:      s.bytesUp.Load(),
		BytesDown:    s.bytesDown.Load(),
		Synthesized:  s.synthesized.Load(),
	}
}

func (s *Session) run() {
	var g errgroup.Group
	g.Go(s.guard(s.connect))
	g.Go(s.guard(s.pumpDownstream))
	g.Go(s.guard(s.forwardUpstream))
	g.Go(s.guard(s.pumpUpstream))
	s.finish(g.Wait())
}

// guard turns a panic in fn into an internal fault for this session only.
func (s *Session) guard(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if v := recover(); v != nil {
				s.log.Recover(v)
				err = s.terminate(internalFault(fmt.Errorf("panic: %v", v)))
			}
		}()
		return fn()
	}
}

func (s *Session) connect() error {
	ctx, cancel := context.WithTimeout(s.ctx, s.engine.connectTimeout)
	defer cancel()

	started := time.Now()
	up, err := s.engine.connector.Connect(ctx, s.params)

	if err != nil {
		if s.ctx.Err() != nil {
			s.engine.metrics.connectDone(started, connectAbandoned)
			s.log.Log(eventlog.EventUpstreamAbandoned, map[string]any{"error": err})
			return nil
		}
		s.engine.metrics.connectDone(started, connectFailed)
		s.log.Log(eventlog.EventUpstreamFailed, map[string]any{
			"cause": upstream.CauseOf(err),
			"error": err,
		})
		cerr := connectFailure(err)
		s.log.Capture(cerr)
		return s.terminate(cerr)
	}

	if !s.activate(up) {
		// The session ended while the dial was in flight.
		_ = up.Close(nil)
		s.engine.metrics.connectDone(started, connectAbandoned)
		s.log.Log(eventlog.EventUpstreamAbandoned, nil)
		return nil
	}
	s.engine.metrics.connectDone(started, connectOK)
	s.log.Log(eventlog.EventUpstreamConnected, map[string]any{
		"ms":      time.Since(started).Milliseconds(),
		"pending": len(s.inbox),
	})
	return nil
}

// activate publishes up and opens the forwarders. It fails if the session
// has already left Connecting.
func (s *Session) activate(up wsconn.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateActive)) {
		return false
	}
	s.upstream = up
	close(s.ready)
	return true
}

func (s *Session) upstreamHandle() wsconn.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upstream
}

func (s *Session) pumpDownstream() error {
	for {
		msg, err := s.downstream.Read()
		if err != nil {
			return s.terminate(peerClosed(SideDownstream, err))
		}
		select {
		case s.inbox <- msg:
		default:
			if s.State() == StateConnecting {
				return s.terminate(backpressure(SideUpstream,
					fmt.Errorf("%w: %d messages pending", ErrUpstreamNotReady, cap(s.inbox))))
			}
			return s.terminate(backpressure(SideUpstream,
				fmt.Errorf("forward queue full at %d messages", cap(s.inbox))))
		}
	}
}

// forwardUpstream owns the upstream handle once it is ready: it forwards
// inbox in order, flushes what is left when the session ends and then closes
// the upstream.
func (s *Session) forwardUpstream() error {
	select {
	case <-s.ready:
	case <-s.ctx.Done():
	}
	up := s.upstreamHandle()
	if up == nil {
		// Never connected; connect closes a late upstream itself.
		return nil
	}
	defer up.Close(nil)

	if n := len(s.inbox); n > 0 {
		s.log.Log(eventlog.EventPendingReplayed, map[string]any{"count": n})
	}

	for {
		select {
		case <-s.ctx.Done():
			s.flushPending(up)
			return nil
		case msg := <-s.inbox:
			if err := s.forward(up, msg); err != nil {
				return s.terminate(backpressure(SideUpstream, err))
			}
		}
	}
}

// forward runs msg through the interceptor and sends the result upstream.
func (s *Session) forward(up wsconn.Handle, msg wsconn.Message) error {
	v := s.engine.interceptor.OnDownstreamMessage(msg)
	if v.Err != nil {
		s.engine.metrics.malformedMessage()
		s.log.Log(eventlog.EventMalformedMessage, map[string]any{
			"bytes": len(msg.Data),
			"error": v.Err,
		})
	}

	if err := up.Send(v.Forward); err != nil {
		return err
	}
	s.countUp(v.Forward)

	for _, extra := range v.Also {
		if err := up.Send(extra); err != nil {
			return err
		}
		s.countUp(extra)
		s.synthesized.Add(1)
		s.engine.metrics.synthesizedMessage()
		s.log.Log(eventlog.EventResponseSynthesized, nil)
	}
	return nil
}

func (s *Session) countUp(msg wsconn.Message) {
	s.messagesUp.Add(1)
	s.bytesUp.Add(int64(len(msg.Data)))
	s.engine.metrics.forwarded(directionUp, msg)
}

func (s *Session) pumpUpstream() error {
	select {
	case <-s.ready:
	case <-s.ctx.Done():
		return nil
	}
	up := s.upstreamHandle()

	for {
		msg, err := up.Read()
		if err != nil {
			return s.terminate(peerClosed(SideUpstream, err))
		}
		if err := s.downstream.Send(msg); err != nil {
			return s.terminate(backpressure(SideDownstream, err))
		}
		s.messagesDown.Add(1)
		s.bytesDown.Add(int64(len(msg.Data)))
		s.engine.metrics.forwarded(directionDown, msg)
	}
}

// terminate records cause as the session's terminal error, cancels the
// session and closes the downstream with a notice when cause calls for one.
// The forwarder closes the upstream after its final flush. Only the first
// call has any effect. It returns the recorded cause.
func (s *Session) terminate(cause error) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state.Store(int32(StateClosing))
		s.cause = cause
		s.mu.Unlock()
		s.cancel()

		s.logCause(cause)

		var notice *wsconn.Message
		if n, ok := noticeFor(s.id, cause); ok {
			notice = &n
		}
		_ = s.downstream.Close(notice)
	})
	return s.Err()
}

// flushPending forwards whatever the client sent before the session ended,
// as far as the upstream queue allows.
func (s *Session) flushPending(up wsconn.Handle) {
	for {
		select {
		case msg := <-s.inbox:
			if err := s.forward(up, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) logCause(cause error) {
	var re *Error
	side := SideRelay
	if errors.As(cause, &re) {
		side = re.Side
	}
	switch KindOf(cause) {
	case KindPeerClosed:
		data := map[string]any{"side": side}
		if !wsconn.IsPeerClose(cause) && !errors.Is(cause, wsconn.ErrClosed) && !errors.Is(cause, ErrSessionClosed) {
			data["error"] = cause
		}
		s.log.Log(eventlog.EventPeerClosed, data)
	case KindBackpressureExceeded:
		s.log.Log(eventlog.EventBackpressure, map[string]any{"side": side, "error": cause})
	case KindInternalFault:
		s.log.Log(eventlog.EventInternalFault, map[string]any{"error": cause})
		s.log.Capture(cause)
	}
}

// finish runs after every goroutine has returned. err is the group's first
// error; it becomes the cause only if no goroutine terminated the session.
func (s *Session) finish(err error) {
	if err != nil {
		var re *Error
		if !errors.As(err, &re) {
			err = internalFault(err)
		}
		s.terminate(err)
	}

	s.state.Store(int32(StateClosed))
	s.engine.registry.Remove(s.id)

	cause := s.Err()
	s.engine.metrics.sessionEnded(cause)
	s.log.Log(eventlog.EventSessionClosed, map[string]any{
		"kind":        KindOf(cause),
		"duration_ms": time.Since(s.createdAt).Milliseconds(),
		"up":          s.messagesUp.Load(),
		"down":        s.messagesDown.Load(),
	})
	close(s.done)
}

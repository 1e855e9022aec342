package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lukasbauer/voicerelay/internal/upstream"
	"github.com/lukasbauer/voicerelay/internal/wsconn"
)

// memHandle is an in-memory wsconn.Handle. Frames pushed with deliver are
// returned by Read; frames passed to Send are recorded.
type memHandle struct {
	in        chan wsconn.Message
	hangupErr chan error
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	sent    []wsconn.Message
	notice  *wsconn.Message
	sendErr error
	changed chan struct{}
}

func newMemHandle() *memHandle {
	return &memHandle{
		in:        make(chan wsconn.Message, 64),
		hangupErr: make(chan error, 1),
		closed:    make(chan struct{}),
		changed:   make(chan struct{}, 1),
	}
}

func (h *memHandle) Read() (wsconn.Message, error) {
	select {
	case <-h.closed:
		return wsconn.Message{}, wsconn.ErrClosed
	default:
	}
	// Frames delivered before a hangup are read first.
	select {
	case msg := <-h.in:
		return msg, nil
	default:
	}
	select {
	case msg := <-h.in:
		return msg, nil
	case err := <-h.hangupErr:
		return wsconn.Message{}, err
	case <-h.closed:
		return wsconn.Message{}, wsconn.ErrClosed
	}
}

func (h *memHandle) Send(msg wsconn.Message) error {
	if !h.IsOpen() {
		return nil
	}
	h.mu.Lock()
	if h.sendErr != nil {
		err := h.sendErr
		h.mu.Unlock()
		return err
	}
	h.sent = append(h.sent, msg)
	h.mu.Unlock()
	h.notify()
	return nil
}

func (h *memHandle) Close(notice *wsconn.Message) error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.notice = notice
		h.mu.Unlock()
		close(h.closed)
	})
	h.notify()
	return nil
}

func (h *memHandle) IsOpen() bool {
	select {
	case <-h.closed:
		return false
	default:
		return true
	}
}

func (h *memHandle) Done() <-chan struct{} { return h.closed }

func (h *memHandle) notify() {
	select {
	case h.changed <- struct{}{}:
	default:
	}
}

// deliver makes msg readable, as if the peer had sent it.
func (h *memHandle) deliver(msgs ...wsconn.Message) {
	for _, m := range msgs {
		h.in <- m
	}
}

// hangup makes the next Read fail with a normal close from the peer.
func (h *memHandle) hangup() {
	h.hangupErr <- &websocket.CloseError{Code: websocket.CloseNormalClosure}
}

func (h *memHandle) failSends(err error) {
	h.mu.Lock()
	h.sendErr = err
	h.mu.Unlock()
}

func (h *memHandle) sentFrames() []wsconn.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]wsconn.Message(nil), h.sent...)
}

func (h *memHandle) closeNotice() *wsconn.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.notice
}

// waitSent blocks until at least n frames were sent.
func (h *memHandle) waitSent(t *testing.T, n int) []wsconn.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if got := h.sentFrames(); len(got) >= n {
			return got
		}
		select {
		case <-h.changed:
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for %d frames, have %d", n, len(h.sentFrames()))
		}
	}
}

func (h *memHandle) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-h.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("handle was not closed")
	}
}

// staticConnector hands out a fresh memHandle per Connect and remembers them.
type staticConnector struct {
	mu      sync.Mutex
	handles []*memHandle
	params  []upstream.Params
}

func (c *staticConnector) Connect(ctx context.Context, p upstream.Params) (wsconn.Handle, error) {
	h := newMemHandle()
	c.mu.Lock()
	c.handles = append(c.handles, h)
	c.params = append(c.params, p)
	c.mu.Unlock()
	return h, nil
}

func (c *staticConnector) handle(t *testing.T, i int) *memHandle {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if i < len(c.handles) {
			h := c.handles[i]
			c.mu.Unlock()
			return h
		}
		c.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("upstream %d was never connected", i)
	return nil
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session %s did not finish, state %s", s.ID(), s.State())
	}
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("session state = %s, want %s", s.State(), want)
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func decodeNotice(t *testing.T, msg *wsconn.Message) noticeError {
	t.Helper()
	if msg == nil {
		t.Fatal("expected an error notice, got none")
	}
	var n errorNotice
	if err := json.Unmarshal(msg.Data, &n); err != nil {
		t.Fatalf("notice is not JSON: %v (%q)", err, msg.Data)
	}
	if n.Type != "error" || n.Error.Type != "relay_error" {
		t.Errorf("notice envelope = %+v", n)
	}
	return n.Error
}

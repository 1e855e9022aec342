package wsconn

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// MessageType mirrors the WebSocket data frame opcodes.
type MessageType int

const (
	TextMessage   MessageType = websocket.TextMessage
	BinaryMessage MessageType = websocket.BinaryMessage
)

func (t MessageType) String() string {
	switch t {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Message is a single WebSocket data frame.
type Message struct {
	Type MessageType
	Data []byte
}

// Text builds a text frame.
func Text(s string) Message {
	return Message{Type: TextMessage, Data: []byte(s)}
}

// Binary builds a binary frame.
func Binary(b []byte) Message {
	return Message{Type: BinaryMessage, Data: b}
}

// ErrQueueFull is returned by Send when the outbound queue is at capacity.
var ErrQueueFull = errors.New("wsconn: outbound queue full")

// ErrClosed is returned by Read after Close.
var ErrClosed = errors.New("wsconn: connection closed")

// Handle is one end of a relayed pairing: a receive stream, a send operation,
// an open flag and a close operation.
type Handle interface {
	// Read blocks until the next data frame arrives or the connection ends.
	Read() (Message, error)

	// Send enqueues a frame for writing. It is a no-op returning nil when the
	// handle is not open, and returns ErrQueueFull when the queue is full.
	Send(msg Message) error

	// Close releases the connection after a final close frame. Without a
	// notice, queued frames are flushed on a best-effort basis first; with
	// one, they are dropped and the notice is written instead. Idempotent.
	Close(notice *Message) error

	// IsOpen reports whether Send will still accept frames.
	IsOpen() bool

	// Done is closed once Close has been called.
	Done() <-chan struct{}
}

// Options configures a Conn.
type Options struct {
	QueueSize    int           // outbound queue capacity
	WriteTimeout time.Duration // per-frame write deadline
	CloseGrace   time.Duration // deadline for the final flush on Close
	PingInterval time.Duration // 0 disables keepalive pings
	ReadLimit    int64         // max inbound frame size, 0 for no limit
}

const (
	defaultQueueSize    = 256
	defaultWriteTimeout = 10 * time.Second
	defaultCloseGrace   = time.Second
)

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.CloseGrace <= 0 {
		o.CloseGrace = defaultCloseGrace
	}
	return o
}

// Conn wraps a gorilla websocket.Conn as a Handle. All writes go through a
// single goroutine draining a bounded queue, so callers never block on a slow
// peer.
type Conn struct {
	conn *websocket.Conn
	opts Options

	out    chan Message
	done   chan struct{}
	open   atomic.Bool
	notice *Message

	closeOnce     sync.Once
	closeConnOnce sync.Once
	wg            sync.WaitGroup // writeLoop
}

// New wraps conn and starts its writer goroutine.
func New(conn *websocket.Conn, opts Options) *Conn {
	opts = opts.withDefaults()
	c := &Conn{
		conn: conn,
		opts: opts,
		out:  make(chan Message, opts.QueueSize),
		done: make(chan struct{}),
	}
	c.open.Store(true)

	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}
	if opts.PingInterval > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.pongWait()))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(c.pongWait()))
		})
	}

	c.wg.Add(1)
	go c.writeLoop()
	return c
}

func (c *Conn) pongWait() time.Duration {
	return 2 * c.opts.PingInterval
}

// Read returns the next text or binary frame.
func (c *Conn) Read() (Message, error) {
	typ, data, err := c.conn.ReadMessage()
	if err != nil {
		select {
		case <-c.done:
			return Message{}, ErrClosed
		default:
		}
		return Message{}, err
	}
	if c.opts.PingInterval > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait()))
	}
	return Message{Type: MessageType(typ), Data: data}, nil
}

// Send enqueues msg without blocking.
func (c *Conn) Send(msg Message) error {
	if !c.open.Load() {
		return nil
	}
	select {
	case <-c.done:
		return nil
	default:
	}
	select {
	case c.out <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// IsOpen reports whether the connection still accepts frames.
func (c *Conn) IsOpen() bool {
	return c.open.Load()
}

// Done is closed when Close is called.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close stops accepting frames and waits for the writer to flush and release
// the socket. The flush is bounded by CloseGrace.
func (c *Conn) Close(notice *Message) error {
	c.closeOnce.Do(func() {
		c.open.Store(false)
		c.notice = notice
		close(c.done)
	})
	c.wg.Wait()
	return c.closeConn()
}

func (c *Conn) closeConn() error {
	var err error
	c.closeConnOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()

	var ping <-chan time.Time
	if c.opts.PingInterval > 0 {
		t := time.NewTicker(c.opts.PingInterval)
		defer t.Stop()
		ping = t.C
	}

	for {
		// Close wins over queued frames.
		select {
		case <-c.done:
			c.flush()
			return
		default:
		}

		select {
		case <-c.done:
			c.flush()
			return
		case msg := <-c.out:
			if err := c.write(msg, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				// Unblocks the reader so the owner sees the failure.
				c.open.Store(false)
				_ = c.closeConn()
				return
			}
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.open.Store(false)
				_ = c.closeConn()
				return
			}
		}
	}
}

func (c *Conn) write(msg Message, deadline time.Time) error {
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(int(msg.Type), msg.Data)
}

// flush writes whatever is still queued, then a close frame, all under one
// CloseGrace deadline. With a notice, queued frames are dropped and only the
// notice precedes the close frame.
func (c *Conn) flush() {
	deadline := time.Now().Add(c.opts.CloseGrace)
drain:
	for {
		select {
		case msg := <-c.out:
			if c.notice != nil {
				continue
			}
			if err := c.write(msg, deadline); err != nil {
				_ = c.closeConn()
				return
			}
		default:
			break drain
		}
	}

	code, reason := websocket.CloseNormalClosure, ""
	if c.notice != nil {
		if err := c.write(*c.notice, deadline); err != nil {
			_ = c.closeConn()
			return
		}
		code, reason = websocket.CloseInternalServerErr, "relay error"
	}
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = c.closeConn()
}

// IsPeerClose reports whether err is an orderly close initiated by the peer.
func IsPeerClose(err error) bool {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
		return true
	}
	return false
}

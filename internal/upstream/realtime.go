package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lukasbauer/voicerelay/internal/wsconn"
)

// Dialer connects sessions to a realtime conversational endpoint over
// WebSocket.
type Dialer struct {
	dialer *websocket.Dialer
	conn   wsconn.Options
	logger *log.Logger
}

// DialerConfig holds configuration for the Dialer.
type DialerConfig struct {
	Conn   wsconn.Options // options for the resulting connection
	Dialer *websocket.Dialer
	Logger *log.Logger
}

// NewDialer creates a Dialer. A nil websocket.Dialer means gorilla's default.
func NewDialer(cfg DialerConfig) *Dialer {
	d := cfg.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Dialer{dialer: d, conn: cfg.Conn, logger: logger}
}

// Connect dials the endpoint in p and returns a handle with the session
// configuration already queued as its first frame. ctx bounds the handshake;
// cancelling it abandons the attempt.
func (d *Dialer) Connect(ctx context.Context, p Params) (wsconn.Handle, error) {
	endpoint, err := endpointURL(p)
	if err != nil {
		return nil, &ConnectError{Cause: CauseRejected, Err: err}
	}

	headers := http.Header{}
	if p.APIKey != "" {
		headers.Set("Authorization", "Bearer "+p.APIKey)
	}
	if p.Beta != "" {
		headers.Set("OpenAI-Beta", p.Beta)
	}

	conn, resp, err := d.dial(ctx, endpoint, headers)
	if err != nil {
		ce := classify(ctx, resp, err)
		if resp != nil && resp.Body != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			if len(body) > 0 {
				ce.Err = fmt.Errorf("%w: %s", err, strings.TrimSpace(string(body)))
			}
		}
		return nil, ce
	}

	h := wsconn.New(conn, d.conn)

	if update, ok := p.sessionUpdate(); ok {
		data, err := json.Marshal(update)
		if err != nil {
			_ = h.Close(nil)
			return nil, &ConnectError{Cause: CauseRejected, Err: fmt.Errorf("encode session.update: %w", err)}
		}
		if err := h.Send(wsconn.Message{Type: wsconn.TextMessage, Data: data}); err != nil {
			_ = h.Close(nil)
			return nil, &ConnectError{Cause: CauseUnreachable, Err: fmt.Errorf("queue session.update: %w", err)}
		}
	}

	d.logger.Printf("upstream: connected to %s", redact(endpoint))
	return h, nil
}

// aLongTimeAgo is a non-zero time in the past, used to unblock I/O.
var aLongTimeAgo = time.Unix(1, 0)

// dial runs the handshake so that cancelling ctx aborts it even when ctx has
// no deadline: the raw connection's deadline is pulled into the past.
func (d *Dialer) dial(ctx context.Context, endpoint string, headers http.Header) (*websocket.Conn, *http.Response, error) {
	dialer := *d.dialer
	base := dialer.NetDialContext
	if base == nil {
		base = (&net.Dialer{}).DialContext
	}

	var stop func() bool
	dialer.NetDialContext = func(dctx context.Context, network, addr string) (net.Conn, error) {
		c, err := base(dctx, network, addr)
		if err != nil {
			return nil, err
		}
		stop = context.AfterFunc(ctx, func() { _ = c.SetDeadline(aLongTimeAgo) })
		return c, nil
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, headers)
	if stop != nil && !stop() && err == nil {
		// ctx ended after the handshake finished; the socket is unusable.
		conn.Close()
		return nil, resp, ctx.Err()
	}
	return conn, resp, err
}

func endpointURL(p Params) (string, error) {
	raw := p.URL
	if raw == "" {
		raw = DefaultURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse upstream url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported upstream scheme %q", u.Scheme)
	}
	if p.Model != "" {
		q := u.Query()
		q.Set("model", p.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func redact(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	u.User = nil
	return u.String()
}

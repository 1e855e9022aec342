package relay

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/lukasbauer/voicerelay/internal/upstream"
	"github.com/lukasbauer/voicerelay/internal/wsconn"
)

// errorNotice is the structured error frame sent downstream before the relay
// closes a session on a connect failure or backpressure.
type errorNotice struct {
	Type  string      `json:"type"`
	Error noticeError `json:"error"`
}

type noticeError struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// Notice codes sent to the downstream client.
const (
	CodeUpstreamUnreachable   = "upstream_unreachable"
	CodeUpstreamUnauthorized  = "upstream_unauthorized"
	CodeUpstreamRejected      = "upstream_rejected"
	CodeUpstreamTimeout       = "upstream_timeout"
	CodeUpstreamConnectFailed = "upstream_connect_failed"
	CodeUpstreamNotReady      = "upstream_not_ready"
	CodeBackpressureExceeded  = "backpressure_exceeded"
)

// noticeFor returns the frame to send downstream for cause, if any. Only
// connect failures and backpressure are announced; ordinary closes are silent.
func noticeFor(sessionID string, cause error) (wsconn.Message, bool) {
	var code, text string
	switch KindOf(cause) {
	case KindConnectFailure:
		code = connectCode(cause)
		text = "could not connect to the realtime service"
	case KindBackpressureExceeded:
		if errors.Is(cause, ErrUpstreamNotReady) {
			code, text = CodeUpstreamNotReady, "upstream not ready"
		} else {
			code, text = CodeBackpressureExceeded, "message rate exceeded what the peer could accept"
		}
	default:
		return wsconn.Message{}, false
	}

	data, err := json.Marshal(errorNotice{
		Type: "error",
		Error: noticeError{
			Type:      "relay_error",
			Code:      code,
			Message:   text,
			SessionID: sessionID,
		},
	})
	if err != nil {
		return wsconn.Message{}, false
	}
	return wsconn.Message{Type: wsconn.TextMessage, Data: data}, true
}

func connectCode(err error) string {
	switch upstream.CauseOf(err) {
	case upstream.CauseUnreachable:
		return CodeUpstreamUnreachable
	case upstream.CauseUnauthorized:
		return CodeUpstreamUnauthorized
	case upstream.CauseRejected:
		return CodeUpstreamRejected
	case upstream.CauseTimeout:
		return CodeUpstreamTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeUpstreamTimeout
	}
	return CodeUpstreamConnectFailed
}

package relay

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/lukasbauer/voicerelay/internal/upstream"
	"github.com/lukasbauer/voicerelay/internal/wsconn"
)

func TestNoticeFor(t *testing.T) {
	tests := []struct {
		name  string
		cause error
		code  string
	}{
		{"timeout cause", connectFailure(&upstream.ConnectError{Cause: upstream.CauseTimeout}), CodeUpstreamTimeout},
		{"bare deadline", connectFailure(fmt.Errorf("dial: %w", context.DeadlineExceeded)), CodeUpstreamTimeout},
		{"unauthorized", connectFailure(&upstream.ConnectError{Cause: upstream.CauseUnauthorized, StatusCode: 403}), CodeUpstreamUnauthorized},
		{"not ready", backpressure(SideUpstream, fmt.Errorf("%w: 64 pending", ErrUpstreamNotReady)), CodeUpstreamNotReady},
		{"queue full", backpressure(SideDownstream, wsconn.ErrQueueFull), CodeBackpressureExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := noticeFor("sess-1", tt.cause)
			if !ok {
				t.Fatal("noticeFor() returned no notice")
			}
			if msg.Type != wsconn.TextMessage {
				t.Errorf("notice frame type = %s, want text", msg.Type)
			}
			n := decodeNotice(t, &msg)
			if n.Code != tt.code {
				t.Errorf("code = %q, want %q", n.Code, tt.code)
			}
			if n.SessionID != "sess-1" || n.Message == "" {
				t.Errorf("notice = %+v", n)
			}
		})
	}
}

func TestNoticeFor_SilentCauses(t *testing.T) {
	for _, cause := range []error{
		nil,
		peerClosed(SideDownstream, errors.New("eof")),
		peerClosed(SideRelay, ErrSessionClosed),
		internalFault(errors.New("panic")),
	} {
		if _, ok := noticeFor("s", cause); ok {
			t.Errorf("noticeFor(%v) should not produce a notice", cause)
		}
	}
}

package eventlog

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
)

func TestEventTypeConstants(t *testing.T) {
	// Verify all event types are defined as expected
	expectedEvents := map[EventType]string{
		EventSessionCreated:      "session_created",
		EventUpstreamConnected:   "upstream_connected",
		EventUpstreamFailed:      "upstream_connect_failed",
		EventUpstreamAbandoned:   "upstream_abandoned",
		EventPendingReplayed:     "pending_replayed",
		EventResponseSynthesized: "response_synthesized",
		EventMalformedMessage:    "malformed_message",
		EventBackpressure:        "backpressure_exceeded",
		EventPeerClosed:          "peer_closed",
		EventInternalFault:       "internal_fault",
		EventSessionClosed:       "session_closed",
	}

	for eventType, expectedValue := range expectedEvents {
		if string(eventType) != expectedValue {
			t.Errorf("EventType %q = %q, want %q", expectedValue, string(eventType), expectedValue)
		}
	}
}

func TestLoggerNew(t *testing.T) {
	// New(nil) must still produce a usable logger
	l := New(nil)
	if l == nil {
		t.Fatal("New(nil) should return a non-nil logger")
	}
	l.Session("abc").Log(EventSessionCreated, nil)
}

func TestNilSessionLogIsNoop(t *testing.T) {
	var l *Logger
	s := l.Session("abc")
	if s != nil {
		t.Fatal("nil Logger should return a nil SessionLog")
	}
	// None of these may panic
	s.Log(EventSessionClosed, map[string]any{"k": "v"})
	s.Capture(errors.New("boom"))
	s.Recover("panic value")
}

func TestSessionLogWritesLine(t *testing.T) {
	var buf bytes.Buffer
	l := New(log.New(&buf, "", 0))

	l.Session("s-1").Log(EventUpstreamFailed, map[string]any{
		"cause":  "timeout",
		"error":  errors.New("dial tcp: i/o timeout"),
		"millis": 150,
	})

	got := strings.TrimSpace(buf.String())
	want := `relay: event=upstream_connect_failed session=s-1 cause=timeout error="dial tcp: i/o timeout" millis=150`
	if got != want {
		t.Errorf("log line =\n  %s\nwant\n  %s", got, want)
	}
}

func TestSessionLogBreadcrumbRendersErrors(t *testing.T) {
	var crumbs []*sentry.Breadcrumb
	client, err := sentry.NewClient(sentry.ClientOptions{
		BeforeBreadcrumb: func(b *sentry.Breadcrumb, _ *sentry.BreadcrumbHint) *sentry.Breadcrumb {
			crumbs = append(crumbs, b)
			return b
		},
	})
	if err != nil {
		t.Fatalf("sentry.NewClient() error = %v", err)
	}
	s := &SessionLog{
		id:     "s-3",
		logger: log.New(&bytes.Buffer{}, "", 0),
		hub:    sentry.NewHub(client, sentry.NewScope()),
	}

	s.Log(EventBackpressure, map[string]any{
		"error":   errors.New("outbound queue full"),
		"elapsed": 1500 * time.Millisecond,
		"count":   3,
	})
	s.Log(EventSessionCreated, nil)

	if len(crumbs) != 2 {
		t.Fatalf("breadcrumbs = %d, want 2", len(crumbs))
	}
	data := crumbs[0].Data
	if data["error"] != "outbound queue full" {
		t.Errorf("breadcrumb error = %#v, want the error text", data["error"])
	}
	if data["elapsed"] != "1.5s" {
		t.Errorf("breadcrumb elapsed = %#v, want %q", data["elapsed"], "1.5s")
	}
	if data["count"] != 3 {
		t.Errorf("breadcrumb count = %#v, want 3", data["count"])
	}
	if crumbs[0].Message != string(EventBackpressure) || crumbs[0].Category != "relay" {
		t.Errorf("breadcrumb = %+v", crumbs[0])
	}
	if crumbs[1].Data != nil {
		t.Errorf("breadcrumb without data = %#v, want nil", crumbs[1].Data)
	}
}

func TestSessionLogWithoutData(t *testing.T) {
	var buf bytes.Buffer
	l := New(log.New(&buf, "", 0))

	l.Session("s-2").Log(EventSessionCreated, nil)

	if got := strings.TrimSpace(buf.String()); got != "relay: event=session_created session=s-2" {
		t.Errorf("log line = %q", got)
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"plain", "plain"},
		{"", `""`},
		{"with space", `"with space"`},
		{"a=b", `"a=b"`},
		{42, "42"},
		{true, "true"},
		{errors.New("x y"), `"x y"`},
	}
	for _, tt := range tests {
		if got := formatValue(tt.in); got != tt.want {
			t.Errorf("formatValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

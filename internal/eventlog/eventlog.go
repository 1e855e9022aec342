package eventlog

import (
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/getsentry/sentry-go"
)

// EventType represents the type of session event
type EventType string

const (
	EventSessionCreated      EventType = "session_created"
	EventUpstreamConnected   EventType = "upstream_connected"
	EventUpstreamFailed      EventType = "upstream_connect_failed"
	EventUpstreamAbandoned   EventType = "upstream_abandoned"
	EventPendingReplayed     EventType = "pending_replayed"
	EventResponseSynthesized EventType = "response_synthesized"
	EventMalformedMessage    EventType = "malformed_message"
	EventBackpressure        EventType = "backpressure_exceeded"
	EventPeerClosed          EventType = "peer_closed"
	EventInternalFault       EventType = "internal_fault"
	EventSessionClosed       EventType = "session_closed"
)

// Logger hands out per-session event logs that share one output.
type Logger struct {
	logger *log.Logger
}

// New creates a new event logger. A nil logger discards output.
func New(logger *log.Logger) *Logger {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Logger{logger: logger}
}

// Session returns the event log for one relay session. Events are written
// as single lines and recorded as breadcrumbs on a hub scoped to the session,
// so a captured error carries the session's history.
func (l *Logger) Session(sessionID string) *SessionLog {
	if l == nil {
		return nil
	}
	hub := sentry.CurrentHub().Clone()
	hub.Scope().SetTag("session_id", sessionID)
	return &SessionLog{id: sessionID, logger: l.logger, hub: hub}
}

// SessionLog records events for a single session. A nil *SessionLog is a
// valid no-op log.
type SessionLog struct {
	id     string
	logger *log.Logger
	hub    *sentry.Hub
}

// Log writes an event line and a breadcrumb.
func (s *SessionLog) Log(eventType EventType, data map[string]any) {
	if s == nil {
		return
	}
	if len(data) > 0 {
		s.logger.Printf("relay: event=%s session=%s %s", eventType, s.id, formatData(data))
	} else {
		s.logger.Printf("relay: event=%s session=%s", eventType, s.id)
	}
	s.hub.AddBreadcrumb(&sentry.Breadcrumb{
		Category: "relay",
		Message:  string(eventType),
		Data:     breadcrumbData(data),
		Level:    sentry.LevelInfo,
	}, nil)
}

// Capture reports err to Sentry with the session's tag and breadcrumbs.
func (s *SessionLog) Capture(err error) {
	if s == nil || err == nil {
		return
	}
	s.hub.CaptureException(err)
}

// Recover reports a recovered panic value to Sentry.
func (s *SessionLog) Recover(v any) {
	if s == nil || v == nil {
		return
	}
	s.hub.Recover(v)
}

// breadcrumbData copies data with error and Stringer values rendered as
// text. Sentry serializes an error value as an empty object.
func breadcrumbData(data map[string]any) map[string]any {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		switch x := v.(type) {
		case error:
			v = x.Error()
		case fmt.Stringer:
			v = x.String()
		}
		out[k] = v
	}
	return out
}

// formatData renders data as space-separated key=value pairs in key order.
func formatData(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(formatValue(data[k]))
	}
	return b.String()
}

func formatValue(v any) string {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case error:
		s = x.Error()
	default:
		s = fmt.Sprint(x)
	}
	if s == "" || strings.ContainsAny(s, " =\"\t\n") {
		return strconv.Quote(s)
	}
	return s
}

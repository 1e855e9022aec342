package upstream

import "slices"

const (
	DefaultURL   = "wss://api.openai.com/v1/realtime"
	DefaultModel = "gpt-4o-realtime-preview"
	DefaultBeta  = "realtime=v1"
	DefaultVoice = "alloy"
)

// Params are the session establishment parameters. They are supplied once at
// connect time and never renegotiated.
type Params struct {
	URL        string   // realtime endpoint, without query
	Model      string   // appended as ?model=
	APIKey     string   // bearer credential, passed through unchanged
	Beta       string   // OpenAI-Beta header value, empty to omit
	Modalities []string // capability set, e.g. ["text", "audio"]

	Instructions string // behavioral instructions for the peer
	Voice        string // presentation option
}

// Clone returns a deep copy so a session's parameters cannot be changed
// through a shared slice.
func (p Params) Clone() Params {
	p.Modalities = slices.Clone(p.Modalities)
	return p
}

// sessionUpdate is the first frame sent upstream when any session option is set.
type sessionUpdate struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Modalities   []string `json:"modalities,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
	Voice        string   `json:"voice,omitempty"`
}

func (p Params) sessionUpdate() (sessionUpdate, bool) {
	cfg := sessionConfig{
		Modalities:   p.Modalities,
		Instructions: p.Instructions,
		Voice:        p.Voice,
	}
	if len(cfg.Modalities) == 0 && cfg.Instructions == "" && cfg.Voice == "" {
		return sessionUpdate{}, false
	}
	return sessionUpdate{Type: "session.update", Session: cfg}, true
}

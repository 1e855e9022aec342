package relay

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/lukasbauer/voicerelay/internal/wsconn"
)

// Verdict is the interceptor's decision for one downstream message: Forward
// is sent first, then each of Also in order. Err is set when the message
// could not be inspected; it never stops forwarding.
type Verdict struct {
	Forward wsconn.Message
	Also    []wsconn.Message
	Err     error
}

// Interceptor inspects downstream→upstream traffic and may synthesize extra
// upstream-bound messages.
type Interceptor interface {
	OnDownstreamMessage(msg wsconn.Message) Verdict
}

// PassThrough forwards everything unchanged.
type PassThrough struct{}

func (PassThrough) OnDownstreamMessage(msg wsconn.Message) Verdict {
	return Verdict{Forward: msg}
}

const (
	commitEventType   = "input_audio_buffer.commit"
	responseEventType = "response.create"
)

// DefaultResponseModalities are requested when CommitResponder has none configured.
var DefaultResponseModalities = []string{"audio", "text"}

// CommitResponder asks the peer for a response every time the client commits
// its input audio buffer.
type CommitResponder struct {
	create []byte
}

type responseCreate struct {
	Type     string         `json:"type"`
	Response responseConfig `json:"response"`
}

type responseConfig struct {
	Modalities []string `json:"modalities"`
}

// NewCommitResponder builds a responder that requests the given modalities.
func NewCommitResponder(modalities []string) (*CommitResponder, error) {
	if len(modalities) == 0 {
		modalities = DefaultResponseModalities
	}
	data, err := json.Marshal(responseCreate{
		Type:     responseEventType,
		Response: responseConfig{Modalities: slices.Clone(modalities)},
	})
	if err != nil {
		return nil, fmt.Errorf("encode response.create: %w", err)
	}
	return &CommitResponder{create: data}, nil
}

// eventEnvelope is the only part of a control message the relay reads.
type eventEnvelope struct {
	Type string `json:"type"`
}

func (c *CommitResponder) OnDownstreamMessage(msg wsconn.Message) Verdict {
	v := Verdict{Forward: msg}
	if msg.Type != wsconn.TextMessage {
		return v
	}

	var env eventEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		v.Err = malformed(err)
		return v
	}
	if env.Type == commitEventType {
		v.Also = []wsconn.Message{{Type: wsconn.TextMessage, Data: slices.Clone(c.create)}}
	}
	return v
}

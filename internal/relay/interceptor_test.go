package relay

import (
	"errors"
	"testing"

	"github.com/lukasbauer/voicerelay/internal/wsconn"
)

func TestCommitResponder(t *testing.T) {
	c, err := NewCommitResponder(nil)
	if err != nil {
		t.Fatalf("NewCommitResponder() error = %v", err)
	}

	tests := []struct {
		name      string
		msg       wsconn.Message
		wantAlso  []string
		malformed bool
	}{
		{"commit", wsconn.Text(`{"type":"input_audio_buffer.commit"}`), []string{`{"type":"response.create","response":{"modalities":["audio","text"]}}`}, false},
		{"commit with event id", wsconn.Text(`{"event_id":"e1","type":"input_audio_buffer.commit"}`), []string{`{"type":"response.create","response":{"modalities":["audio","text"]}}`}, false},
		{"append", wsconn.Text(`{"type":"input_audio_buffer.append","audio":"AAAA"}`), nil, false},
		{"no type", wsconn.Text(`{"hello":"world"}`), nil, false},
		{"not json", wsconn.Text(`input_audio_buffer.commit`), nil, true},
		{"binary is never parsed", wsconn.Binary([]byte(`{"type":"input_audio_buffer.commit"}`)), nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := c.OnDownstreamMessage(tt.msg)

			if v.Forward.Type != tt.msg.Type || string(v.Forward.Data) != string(tt.msg.Data) {
				t.Errorf("Forward = %s %q, want the input unchanged", v.Forward.Type, v.Forward.Data)
			}
			if len(v.Also) != len(tt.wantAlso) {
				t.Fatalf("Also has %d messages, want %d", len(v.Also), len(tt.wantAlso))
			}
			for i, want := range tt.wantAlso {
				if v.Also[i].Type != wsconn.TextMessage || string(v.Also[i].Data) != want {
					t.Errorf("Also[%d] = %s %q, want text %q", i, v.Also[i].Type, v.Also[i].Data, want)
				}
			}
			if tt.malformed {
				if KindOf(v.Err) != KindMalformedMessage {
					t.Errorf("Err = %v, want malformed_message", v.Err)
				}
				if KindOf(v.Err).IsFatal() {
					t.Error("malformed messages must not be fatal")
				}
			} else if v.Err != nil {
				t.Errorf("Err = %v, want nil", v.Err)
			}
		})
	}
}

func TestCommitResponder_CustomModalities(t *testing.T) {
	c, err := NewCommitResponder([]string{"text"})
	if err != nil {
		t.Fatalf("NewCommitResponder() error = %v", err)
	}
	v := c.OnDownstreamMessage(wsconn.Text(`{"type":"input_audio_buffer.commit"}`))
	want := `{"type":"response.create","response":{"modalities":["text"]}}`
	if len(v.Also) != 1 || string(v.Also[0].Data) != want {
		t.Errorf("Also = %v, want %s", v.Also, want)
	}
}

func TestCommitResponder_SynthesizedFramesAreIndependent(t *testing.T) {
	c, _ := NewCommitResponder(nil)
	commit := wsconn.Text(`{"type":"input_audio_buffer.commit"}`)

	first := c.OnDownstreamMessage(commit)
	first.Also[0].Data[0] = 'X'

	second := c.OnDownstreamMessage(commit)
	if second.Also[0].Data[0] != '{' {
		t.Error("mutating one synthesized frame changed the next one")
	}
}

func TestPassThrough(t *testing.T) {
	msg := wsconn.Text(`{"type":"input_audio_buffer.commit"}`)
	v := PassThrough{}.OnDownstreamMessage(msg)
	if string(v.Forward.Data) != string(msg.Data) || len(v.Also) != 0 || v.Err != nil {
		t.Errorf("PassThrough verdict = %+v", v)
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(nil) != "" {
		t.Error("KindOf(nil) should be empty")
	}
	if KindOf(errors.New("plain")) != KindInternalFault {
		t.Error("unclassified errors should be internal faults")
	}
	wrapped := errors.Join(errors.New("context"), backpressure(SideDownstream, wsconn.ErrQueueFull))
	if KindOf(wrapped) != KindBackpressureExceeded {
		t.Errorf("KindOf(wrapped) = %s, want backpressure_exceeded", KindOf(wrapped))
	}
	if !KindPeerClosed.IsFatal() || KindMalformedMessage.IsFatal() {
		t.Error("IsFatal() classification is wrong")
	}
}

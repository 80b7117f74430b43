package envelope

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// Kind is the value of Header.Type.
type Kind string

// Message kinds exchanged between agents and their callers.
const (
	KindPing        Kind = "Ping"
	KindPong        Kind = "Pong"
	KindPartialPong Kind = "PartialPong"
	// KindStopIteration is always the last envelope of a streamed reply.
	KindStopIteration Kind = "StopIteration"
	// KindEmpty answers a message the handler has nothing to say about.
	KindEmpty Kind = "Empty"
	// KindError carries an ErrorPayload.
	KindError Kind = "Error"
)

// Lifecycle kinds delivered on a factory address.
const (
	KindAgentCreated Kind = "AgentCreated"
	KindAgentDeleted Kind = "AgentDeleted"
)

// ContentTypeJSON is the content type of envelopes whose content is JSON.
const ContentTypeJSON = "application/json"

// Header carries the kind of an envelope and how its content is encoded.
// Extensions are passed through untouched.
type Header struct {
	Type        Kind           `json:"type"`
	ContentType string         `json:"content_type,omitempty"`
	Extensions  map[string]any `json:"extensions,omitempty"`
}

// Envelope is the wire representation of a message.
type Envelope struct {
	Header  Header   `json:"header"`
	Content string   `json:"content,omitempty"`
	Reply   *Address `json:"reply,omitempty"`
}

// New returns an envelope of the given kind without content.
func New(kind Kind) Envelope {
	return Envelope{Header: Header{Type: kind}}
}

// NewJSON returns an envelope whose content is the JSON encoding of v.
func NewJSON(kind Kind, v any) (Envelope, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s content: %w", kind, err)
	}
	env := New(kind)
	if string(b) != "{}" {
		env.Content = string(b)
		env.Header.ContentType = ContentTypeJSON
	}
	return env, nil
}

// StopIteration is the terminal envelope of a streamed reply.
func StopIteration() Envelope {
	return New(KindStopIteration)
}

// Empty is the placeholder reply of a handler that produced nothing.
func Empty() Envelope {
	return New(KindEmpty)
}

// Kind returns the header type.
func (e Envelope) Kind() Kind {
	return e.Header.Type
}

// Is reports whether the envelope is of the given kind.
func (e Envelope) Is(kind Kind) bool {
	return e.Header.Type == kind
}

// ExpectsReply reports whether the sender asked for a response.
func (e Envelope) ExpectsReply() bool {
	return e.Reply != nil && !e.Reply.IsZero()
}

// WithReply returns a copy of the envelope addressed for a response.
func (e Envelope) WithReply(addr Address) Envelope {
	e.Reply = &addr
	return e
}

// Field returns the value at path inside the JSON content.
func (e Envelope) Field(path string) gjson.Result {
	return gjson.Get(e.Content, path)
}

// DecodeContent decodes the JSON content into v.
func (e Envelope) DecodeContent(v any) error {
	if e.Content == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(e.Content), v); err != nil {
		return fmt.Errorf("invalid %s content: %w", e.Header.Type, err)
	}
	return nil
}

// Decode parses a JSON encoded envelope.
func Decode(data []byte) (Envelope, error) {
	if !gjson.ValidBytes(data) {
		return Envelope{}, fmt.Errorf("invalid json: %s", data)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Header.Type == "" {
		return Envelope{}, fmt.Errorf("missing required field 'header.type'")
	}
	return env, nil
}

// Encode returns the JSON encoding of the envelope.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

package envelope

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Lifecycle is a notification delivered on a registration stream.
type Lifecycle interface {
	lifecycle()
}

// AgentCreated announces that the coordinator assigned Addr to a new instance.
type AgentCreated struct {
	Addr Address `json:"addr"`
}

func (AgentCreated) lifecycle() {}

// AgentDeleted announces that the instance at Addr is gone.
type AgentDeleted struct {
	Addr Address `json:"addr"`
}

func (AgentDeleted) lifecycle() {}

// UnknownLifecycle is any notification whose type is not recognized.
type UnknownLifecycle struct {
	Type Kind
}

func (UnknownLifecycle) lifecycle() {}

// DecodeLifecycle maps a registration stream envelope onto its variant.
func DecodeLifecycle(env Envelope) (Lifecycle, error) {
	switch env.Header.Type {
	case KindAgentCreated:
		var ev AgentCreated
		if err := decodeAddr(env, &ev.Addr); err != nil {
			return nil, err
		}
		return ev, nil
	case KindAgentDeleted:
		var ev AgentDeleted
		if err := decodeAddr(env, &ev.Addr); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return UnknownLifecycle{Type: env.Header.Type}, nil
	}
}

func decodeAddr(env Envelope, addr *Address) error {
	raw := env.Field("addr")
	if !raw.Exists() || !raw.IsObject() {
		return fmt.Errorf("%s: missing required field 'addr'", env.Header.Type)
	}
	if err := json.Unmarshal([]byte(raw.Raw), addr); err != nil {
		return fmt.Errorf("%s: invalid addr: %w", env.Header.Type, err)
	}
	if addr.Name == "" {
		return fmt.Errorf("%s: addr has no name", env.Header.Type)
	}
	return nil
}

// Encode returns the envelope that carries the notification.
func (e AgentCreated) Encode() (Envelope, error) {
	return NewJSON(KindAgentCreated, e)
}

// Encode returns the envelope that carries the notification.
func (e AgentDeleted) Encode() (Envelope, error) {
	return NewJSON(KindAgentDeleted, e)
}

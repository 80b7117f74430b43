package envelope

import (
	"log/slog"
	"strings"

	"github.com/casualjim/coagent/pkg/uuidx"
)

const (
	factoryTopicPrefix = "coagent.factory."
	agentTopicPrefix   = "coagent.agent."

	// InboxPrefix marks the name of a reply address.
	InboxPrefix = "_INBOX."
)

// Address identifies an agent instance. Name is the agent type and ID the
// session the instance serves; an empty ID addresses the type itself.
type Address struct {
	Name string `json:"name"`
	ID   string `json:"id,omitempty"`
}

// NewInbox returns a fresh reply address.
func NewInbox() Address {
	return Address{Name: InboxPrefix + uuidx.Short()}
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a.Name == "" && a.ID == ""
}

// IsReply reports whether the address is a reply inbox.
func (a Address) IsReply() bool {
	return strings.HasPrefix(a.Name, InboxPrefix)
}

// Topic returns the broker subject for the address.
func (a Address) Topic() string {
	switch {
	case a.IsReply():
		return a.Name
	case a.ID != "":
		return agentTopicPrefix + a.Name + "." + a.ID
	default:
		return factoryTopicPrefix + a.Name
	}
}

// Factory returns the address of the agent type this instance belongs to.
func (a Address) Factory() Address {
	return Address{Name: a.Name}
}

func (a Address) String() string {
	return a.Topic()
}

func (a Address) LogValue() slog.Value {
	return slog.GroupValue(slog.String("name", a.Name), slog.String("id", a.ID))
}

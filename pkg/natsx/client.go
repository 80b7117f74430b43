package natsx

import (
	"os"

	"github.com/nats-io/nats.go"
)

// DefaultName is the client name reported to the NATS server.
const DefaultName = "coagent"

// NewClient connects to the NATS server at url. An empty url falls back to
// the NATS_URL environment variable and then to nats.DefaultURL. Without
// options the connection is named DefaultName, compressed, and reconnects
// forever.
func NewClient(url string, opts ...nats.Option) (*nats.Conn, error) {
	if url == "" {
		url = os.Getenv("NATS_URL")
	}
	if url == "" {
		url = nats.DefaultURL
	}
	if len(opts) == 0 {
		opts = append(opts,
			nats.Name(DefaultName),
			nats.Compression(true),
			nats.MaxReconnects(-1),
		)
	}
	return nats.Connect(url, opts...)
}

// Package natsx connects to the NATS server that carries scheduler events.
package natsx

import (
	"os"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultName identifies strix connections in the server's monitoring.
const DefaultName = "strix"

// URL returns the server address from NATS_URL, or the NATS default.
func URL() string {
	if url := os.Getenv("NATS_URL"); url != "" {
		return url
	}
	return nats.DefaultURL
}

// NewClient connects to URL(). Without options the connection is named
// DefaultName and compressed, with a short dial timeout.
func NewClient(opts ...nats.Option) (*nats.Conn, error) {
	if len(opts) == 0 {
		opts = append(opts,
			nats.Name(DefaultName),
			nats.Compression(true),
			nats.Timeout(2*time.Second),
		)
	}
	return nats.Connect(URL(), opts...)
}

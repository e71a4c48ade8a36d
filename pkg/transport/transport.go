// Package transport defines the full-duplex message channel a connection
// speaks JSON-RPC over, and the options shared by its websocket engines.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/sblgo/sbl/pkg/logger"
)

// Transport is one open websocket to the database.
//
// Send and Receive may be called from different goroutines, but at most one
// goroutine may be inside Receive at a time. Once Send or Receive has returned
// an error the transport is unusable and should be closed.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close(ctx context.Context) error
}

// Options configure a dial.
type Options struct {
	// URL is the full websocket endpoint, e.g. ws://localhost:8000/rpc.
	URL string
	// DialTimeout bounds the opening handshake. Zero means no bound
	// beyond the dial context.
	DialTimeout time.Duration
	// MaxMessageSize is the largest inbound frame accepted. Zero disables the limit.
	MaxMessageSize int64
	Logger         logger.Logger
}

// Log returns the configured logger or a discarding one.
func (o Options) Log() logger.Logger {
	if o.Logger == nil {
		return logger.Discard
	}
	return o.Logger
}

// ErrEmptyURL is returned by the engines when Options.URL is empty.
var ErrEmptyURL = errors.New("transport: empty url")

package dispatch

import (
	"context"

	"autopost/internal/storage"
)

// Client is the opaque "send" capability the poster core depends on.
// Implementations own their transport, timeouts and credentials; the core
// only classifies the returned error (see Describe).
type Client interface {
	Send(ctx context.Context, dest storage.Destination, msg storage.Message) error
}

// Func adapts a plain function to a Client, mostly for tests.
type Func func(ctx context.Context, dest storage.Destination, msg storage.Message) error

func (f Func) Send(ctx context.Context, dest storage.Destination, msg storage.Message) error {
	return f(ctx, dest, msg)
}

package remote

import (
	"context"
	"net"

	"github.com/seantiz/relay/internal/wire"
)

// SetDialer replaces the dial function for tests.
func (b *Backend) SetDialer(dial func(ctx context.Context, a wire.Address) (net.Conn, error)) {
	b.dial = dial
}

package wire

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/mdlayher/vsock"
)

// Supported transport networks.
const (
	NetworkTCP   = "tcp"
	NetworkUnix  = "unix"
	NetworkVsock = "vsock"
)

// Address identifies a model host endpoint.
type Address struct {
	Network string
	// Host is host:port for TCP and the socket path for Unix.
	Host string
	// CID and Port are set for vsock.
	CID  uint32
	Port uint32
}

// ParseAddress parses tcp://host:port, unix:///path/to.sock and
// vsock://cid:port. An empty vsock CID means "any" when listening.
func ParseAddress(s string) (Address, error) {
	u, err := url.Parse(s)
	if err != nil {
		return Address{}, fmt.Errorf("parse address %q: %w", s, err)
	}

	switch u.Scheme {
	case NetworkTCP:
		if u.Host == "" {
			return Address{}, fmt.Errorf("tcp address %q has no host:port", s)
		}
		return Address{Network: NetworkTCP, Host: u.Host}, nil
	case NetworkUnix:
		if u.Path == "" {
			return Address{}, fmt.Errorf("unix address %q has no socket path", s)
		}
		return Address{Network: NetworkUnix, Host: u.Path}, nil
	case NetworkVsock:
		host, port, err := net.SplitHostPort(u.Host)
		if err != nil {
			return Address{}, fmt.Errorf("vsock address %q: %w", s, err)
		}
		p, err := strconv.ParseUint(port, 10, 32)
		if err != nil {
			return Address{}, fmt.Errorf("vsock port %q: %w", port, err)
		}
		var cid uint64
		if host != "" {
			cid, err = strconv.ParseUint(host, 10, 32)
			if err != nil {
				return Address{}, fmt.Errorf("vsock context id %q: %w", host, err)
			}
		}
		return Address{Network: NetworkVsock, CID: uint32(cid), Port: uint32(p)}, nil
	default:
		return Address{}, fmt.Errorf("unsupported address scheme %q in %q", u.Scheme, s)
	}
}

// String formats the address in the form accepted by ParseAddress.
func (a Address) String() string {
	switch a.Network {
	case NetworkVsock:
		return fmt.Sprintf("vsock://%d:%d", a.CID, a.Port)
	case NetworkUnix:
		return "unix://" + a.Host
	default:
		return a.Network + "://" + a.Host
	}
}

// Dial connects to the address.
func Dial(ctx context.Context, a Address) (net.Conn, error) {
	if a.Network == NetworkVsock {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conn, err := vsock.Dial(a.CID, a.Port, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", a, err)
		}
		return conn, nil
	}

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, a.Network, a.Host)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", a, err)
	}
	return conn, nil
}

// Listen opens a listener on the address.
func Listen(a Address) (net.Listener, error) {
	if a.Network == NetworkVsock {
		l, err := vsock.Listen(a.Port, nil)
		if err != nil {
			return nil, fmt.Errorf("listen %s: %w", a, err)
		}
		return l, nil
	}

	l, err := net.Listen(a.Network, a.Host)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", a, err)
	}
	return l, nil
}

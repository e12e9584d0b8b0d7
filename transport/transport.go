// Package transport provides the byte links an Xcom client can run over:
// a TCP listener the Xcom-LAN/Moxa gateway dials into, a UDP socket, or a
// local serial port (Xcom-232i).
package transport

import (
	"context"
	"errors"
	"io"
	"time"
)

// DefaultPort is the TCP/UDP port Xcom-LAN gateways are configured for.
const DefaultPort = 4001

// ErrNotConnected is returned for reads and writes while no gateway link is
// established.
var ErrNotConnected = errors.New("transport: not connected")

// Transport is a duplex byte link to the Xcom gateway. Implementations are
// safe for one concurrent reader and one concurrent writer.
type Transport interface {
	io.ReadWriteCloser

	// WaitConnected blocks until the link is usable or ctx is done. For the
	// TCP variant this waits for the gateway to dial in.
	WaitConnected(ctx context.Context) error

	// SetReadDeadline bounds subsequent Read calls.
	SetReadDeadline(t time.Time) error

	// Connected reports whether the link is currently usable.
	Connected() bool

	// RemoteAddr describes the peer for logging.
	RemoteAddr() string
}

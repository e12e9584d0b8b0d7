package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"xcomlink/logging"
)

// UDP is a transport for Xcom-LAN gateways in UDP mode. Each package fits
// in a single datagram.
type UDP struct {
	conn *net.UDPConn
	addr string
}

// DialUDP opens a connected UDP socket to the gateway at addr
// (for example "192.168.1.50:4001").
func DialUDP(addr string) (*UDP, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("DialUDP: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("DialUDP: %w", err)
	}
	logging.DebugConnectSuccess("udp", addr, "socket open")
	return &UDP{conn: conn, addr: addr}, nil
}

// WaitConnected is immediate for UDP; the socket is connectionless.
func (u *UDP) WaitConnected(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// Connected always reports true while the socket is open.
func (u *UDP) Connected() bool { return u.conn != nil }

func (u *UDP) Read(p []byte) (int, error) {
	return u.conn.Read(p)
}

func (u *UDP) Write(p []byte) (int, error) {
	return u.conn.Write(p)
}

// SetReadDeadline bounds subsequent reads.
func (u *UDP) SetReadDeadline(deadline time.Time) error {
	return u.conn.SetReadDeadline(deadline)
}

// RemoteAddr returns the gateway address.
func (u *UDP) RemoteAddr() string { return u.addr }

// Close shuts down the socket.
func (u *UDP) Close() error {
	logging.DebugDisconnect("udp", u.addr, "closed")
	return u.conn.Close()
}

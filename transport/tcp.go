package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"xcomlink/logging"
)

// TCP is a transport for Xcom-LAN gateways in client mode: the gateway
// opens the connection to us, so this side listens and accepts.
type TCP struct {
	listener net.Listener

	mu   sync.Mutex
	conn net.Conn
}

// ListenTCP starts listening on addr (for example ":4001"). The returned
// transport is not usable until WaitConnected has seen the gateway dial in.
func ListenTCP(addr string) (*TCP, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ListenTCP: %w", err)
	}
	logging.DebugLog("tcp", "listening on %s for gateway connection", l.Addr())
	return &TCP{listener: l}, nil
}

// WaitConnected blocks until a gateway connects or ctx is done. If a
// connection is already up it returns immediately. A new incoming
// connection replaces a stale one.
func (t *TCP) WaitConnected(ctx context.Context) error {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := t.listener.Accept()
		ch <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("WaitConnected: %w", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("WaitConnected: %w", r.err)
		}
		t.mu.Lock()
		if t.conn != nil {
			t.conn.Close()
		}
		t.conn = r.conn
		t.mu.Unlock()
		logging.DebugConnectSuccess("tcp", r.conn.RemoteAddr().String(), "gateway connected")
		return nil
	}
}

// Connected reports whether a gateway connection is up.
func (t *TCP) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *TCP) current() (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, ErrNotConnected
	}
	return t.conn, nil
}

func (t *TCP) Read(p []byte) (int, error) {
	conn, err := t.current()
	if err != nil {
		return 0, err
	}
	n, err := conn.Read(p)
	if err != nil && !isTimeout(err) {
		t.dropConn(conn)
	}
	return n, err
}

func (t *TCP) Write(p []byte) (int, error) {
	conn, err := t.current()
	if err != nil {
		return 0, err
	}
	n, err := conn.Write(p)
	if err != nil {
		t.dropConn(conn)
	}
	return n, err
}

// dropConn discards conn if it is still the active connection, so the next
// WaitConnected accepts a fresh one.
func (t *TCP) dropConn(conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == conn {
		logging.DebugDisconnect("tcp", conn.RemoteAddr().String(), "connection error")
		t.conn.Close()
		t.conn = nil
	}
}

// SetReadDeadline bounds reads on the active connection.
func (t *TCP) SetReadDeadline(deadline time.Time) error {
	conn, err := t.current()
	if err != nil {
		return err
	}
	return conn.SetReadDeadline(deadline)
}

// RemoteAddr returns the gateway's address, or the listen address while no
// gateway is connected.
func (t *TCP) RemoteAddr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return t.conn.RemoteAddr().String()
	}
	return t.listener.Addr().String()
}

// Close shuts down the listener and any active connection.
func (t *TCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	return t.listener.Close()
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

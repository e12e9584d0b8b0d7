package transport

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.bug.st/serial"

	"xcomlink/logging"
)

// SerialBaudRate is the default rate of the Xcom-232i link (8N1).
const SerialBaudRate = 115200

// settleDelay gives the RS-232 adapter time to flush stale bytes after the
// port is opened.
const settleDelay = time.Second

// Serial is a transport over a local serial port (Xcom-232i).
type Serial struct {
	port serial.Port
	name string
}

// OpenSerial opens the serial port in 8N1 mode. A baud of 0 selects the
// default 115200.
func OpenSerial(portName string, baud int) (*Serial, error) {
	if baud <= 0 {
		baud = SerialBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("OpenSerial: %w", err)
	}

	time.Sleep(settleDelay)
	port.ResetInputBuffer()

	logging.DebugConnectSuccess("serial", portName, fmt.Sprintf("%d 8N1", baud))
	return &Serial{port: port, name: portName}, nil
}

// WaitConnected is immediate for serial; the port is either open or not.
func (s *Serial) WaitConnected(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// Connected always reports true while the port is open.
func (s *Serial) Connected() bool { return s.port != nil }

// Read reads from the port. The serial library signals an expired read
// timeout by returning zero bytes without an error; map that to a deadline
// error so callers can treat all transports alike.
func (s *Serial) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if n == 0 && err == nil {
		return 0, os.ErrDeadlineExceeded
	}
	return n, err
}

func (s *Serial) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

// SetReadDeadline bounds subsequent reads. A zero deadline disables the
// timeout.
func (s *Serial) SetReadDeadline(deadline time.Time) error {
	if deadline.IsZero() {
		return s.port.SetReadTimeout(serial.NoTimeout)
	}
	d := time.Until(deadline)
	if d <= 0 {
		d = time.Millisecond
	}
	return s.port.SetReadTimeout(d)
}

// RemoteAddr returns the port name.
func (s *Serial) RemoteAddr() string { return s.name }

// Close closes the port.
func (s *Serial) Close() error {
	logging.DebugDisconnect("serial", s.name, "closed")
	return s.port.Close()
}

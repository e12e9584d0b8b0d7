// Package xcom implements the request engine and the batch read layer of a
// Studer Xcom client. One Client owns one gateway connection; all requests
// are serialized on it and matched to their responses by service, object
// and property id.
package xcom

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"xcomlink/catalog"
	"xcomlink/family"
	"xcomlink/logging"
	"xcomlink/scom"
	"xcomlink/transport"
)

// Default request handling limits.
const (
	DefaultRequestTimeout = 3 * time.Second
	DefaultRequestRetries = 3
	DefaultStartTimeout   = 30 * time.Second
	DefaultStopTimeout    = 5 * time.Second
)

// Client is an Xcom protocol client over a single gateway transport.
// It is safe for concurrent use; requests are serialized internally.
type Client struct {
	tr           transport.Transport
	timeout      time.Duration
	retries      int
	startTimeout time.Duration
	messages     *catalog.MessageSet

	mu sync.Mutex // serializes request/response cycles on the transport

	diagMu       sync.Mutex
	retriesHist  map[int]int
	durationHist map[string]int
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-attempt response timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRetries sets how many attempts a request gets before its last error
// is returned.
func WithRetries(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.retries = n
		}
	}
}

// WithStartTimeout bounds how long Start waits for the gateway to connect.
func WithStartTimeout(d time.Duration) Option {
	return func(c *Client) { c.startTimeout = d }
}

// WithMessages supplies the message catalog used to attach display texts to
// RequestMessage results.
func WithMessages(set *catalog.MessageSet) Option {
	return func(c *Client) { c.messages = set }
}

// NewClient creates a client over the given transport.
func NewClient(tr transport.Transport, opts ...Option) *Client {
	c := &Client{
		tr:           tr,
		timeout:      DefaultRequestTimeout,
		retries:      DefaultRequestRetries,
		startTimeout: DefaultStartTimeout,
		retriesHist:  make(map[int]int),
		durationHist: make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start waits for the gateway link to come up. For TCP transports this
// blocks until the Moxa gateway dials in, bounded by the start timeout.
func (c *Client) Start(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.startTimeout)
	defer cancel()
	if err := c.tr.WaitConnected(ctx); err != nil {
		return fmt.Errorf("Start: %w", err)
	}
	logging.DebugLog("xcom", "client started, gateway %s", c.tr.RemoteAddr())
	return nil
}

// Connected reports whether the gateway link is up.
func (c *Client) Connected() bool {
	return c.tr.Connected()
}

// Close shuts down the transport.
func (c *Client) Close() error {
	logging.DebugLog("xcom", "client closing")
	return c.tr.Close()
}

// sendPackage performs one request/response cycle under the client lock:
// write the request, then read packages until one correlates. Unrelated
// packages on the shared link are discarded.
func (c *Client) sendPackage(ctx context.Context, req *scom.Package) (*scom.Package, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw := req.Marshal()
	logging.DebugTX("scom", raw)
	if _, err := c.tr.Write(raw); err != nil {
		return nil, fmt.Errorf("sendPackage: write: %w", err)
	}

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	c.tr.SetReadDeadline(deadline)
	defer c.tr.SetReadDeadline(time.Time{})

	for {
		rsp, err := scom.ReadPackage(c.tr)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return nil, ErrTimeout
			}
			return nil, fmt.Errorf("sendPackage: read: %w", err)
		}
		logging.DebugRX("scom", rsp.Marshal())

		if rsp.Matches(req) {
			return rsp, nil
		}
		logging.DebugLog("scom", "discarding unrelated package from addr %d", rsp.Header.Src)
	}
}

// transact sends a request with a bounded retry loop. Timeouts, transport
// failures and error-flagged responses are all retried; only a cancelled
// context cuts the loop short. The last error is returned once retries are
// exhausted.
func (c *Client) transact(ctx context.Context, req *scom.Package) (*scom.Package, error) {
	var lastErr error

	for attempt := 0; attempt < c.retries; attempt++ {
		start := time.Now()
		rsp, err := c.sendPackage(ctx, req)
		c.recordDuration(time.Since(start))
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			logging.DebugLog("xcom", "request for object %d failed, attempt %d/%d: %v",
				req.Frame.ObjectID, attempt+1, c.retries, err)
			continue
		}

		if rsp.Frame.IsError() {
			lastErr = &ResponseError{Code: rsp.Frame.ErrorCode()}
			continue
		}

		c.recordRetries(attempt)
		return rsp, nil
	}

	c.recordRetries(c.retries)
	return nil, lastErr
}

// RequestValue reads one datapoint from the device selected by dst.
// Parameters read their unsaved (RAM) value, infos their current value.
func (c *Client) RequestValue(ctx context.Context, dp catalog.Datapoint, dst Destination) (interface{}, error) {
	addr, err := dst.resolve(dp.FamilyID)
	if err != nil {
		return nil, fmt.Errorf("RequestValue: %w", err)
	}

	propID := scom.PropIDValue
	if dp.ObjType() == scom.ObjTypeParameter {
		propID = scom.PropIDUnsavedValue
	}
	req := scom.GenPackage(scom.ServiceRead, dp.ObjType(), dp.Nr, propID, nil, addr)

	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		start := time.Now()
		rsp, err := c.sendPackage(ctx, req)
		c.recordDuration(time.Since(start))
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if rsp.Frame.IsError() {
			lastErr = &ResponseError{Code: rsp.Frame.ErrorCode()}
			continue
		}

		value, err := scom.Unpack(rsp.Frame.Data, dp.Format)
		if err != nil {
			// Glitched frame length; the vendor documents these as transient.
			lastErr = fmt.Errorf("%w: %v", ErrUnpack, err)
			continue
		}

		c.recordRetries(attempt)
		return value, nil
	}

	c.recordRetries(c.retries)
	return nil, lastErr
}

// UpdateValue writes a parameter's unsaved value on the device selected by
// dst. Writing to a non-parameter datapoint is rejected locally.
func (c *Client) UpdateValue(ctx context.Context, dp catalog.Datapoint, value interface{}, dst Destination) error {
	if dp.ObjType() != scom.ObjTypeParameter {
		return &ParamError{Reason: fmt.Sprintf("datapoint %d (%s) is not a parameter", dp.Nr, dp.Name)}
	}

	addr, err := dst.resolve(dp.FamilyID)
	if err != nil {
		return fmt.Errorf("UpdateValue: %w", err)
	}

	data, err := scom.Pack(value, dp.Format)
	if err != nil {
		return fmt.Errorf("UpdateValue: %w", err)
	}

	req := scom.GenPackage(scom.ServiceWrite, scom.ObjTypeParameter, dp.Nr, scom.PropIDUnsavedValue, data, addr)
	if _, err := c.transact(ctx, req); err != nil {
		return fmt.Errorf("UpdateValue: %w", err)
	}
	return nil
}

// RequestGuid reads the GUID of the device at dst.
func (c *Client) RequestGuid(ctx context.Context, dst Destination) (string, error) {
	addr, err := dst.resolve("")
	if err != nil {
		return "", fmt.Errorf("RequestGuid: %w", err)
	}

	req := scom.GenPackage(scom.ServiceRead, scom.ObjTypeGuid, scom.ObjIDNone, scom.PropIDNone, nil, addr)
	rsp, err := c.transact(ctx, req)
	if err != nil {
		return "", fmt.Errorf("RequestGuid: %w", err)
	}

	value, err := scom.Unpack(rsp.Frame.Data, scom.FormatGuid)
	if err != nil {
		return "", fmt.Errorf("RequestGuid: %w: %v", ErrUnpack, err)
	}
	return value.(string), nil
}

// Message is a pending RCC message with its catalog text attached.
type Message struct {
	scom.MessageRsp
	Text string
}

// RequestMessage reads message nr from the RCC's pending message queue.
func (c *Client) RequestMessage(ctx context.Context, nr uint32) (Message, error) {
	req := scom.GenPackage(scom.ServiceRead, scom.ObjTypeMessage, nr, scom.PropIDNone, nil, scom.AddrRCC)
	rsp, err := c.transact(ctx, req)
	if err != nil {
		return Message{}, fmt.Errorf("RequestMessage: %w", err)
	}

	decoded, err := scom.UnpackMessageRsp(rsp.Frame.Data)
	if err != nil {
		return Message{}, fmt.Errorf("RequestMessage: %w: %v", ErrUnpack, err)
	}

	msg := Message{MessageRsp: decoded}
	if c.messages != nil {
		msg.Text = c.messages.StringByNr(decoded.Number)
	} else {
		msg.Text = fmt.Sprintf("(%d): unknown message", decoded.Number)
	}
	return msg, nil
}

// Diagnostics is a snapshot of the per-connection request statistics. The
// retries histogram counts extra attempts a request needed before
// completing; the durations histogram counts individual wire attempts by
// rounded duration.
type Diagnostics struct {
	Retries   map[int]int    `json:"retries"`   // extra attempts needed -> count
	Durations map[string]int `json:"durations"` // attempt duration rounded to 0.1s -> count
}

// Diagnostics returns a copy of the accumulated request statistics.
func (c *Client) Diagnostics() Diagnostics {
	c.diagMu.Lock()
	defer c.diagMu.Unlock()

	d := Diagnostics{
		Retries:   make(map[int]int, len(c.retriesHist)),
		Durations: make(map[string]int, len(c.durationHist)),
	}
	for k, v := range c.retriesHist {
		d.Retries[k] = v
	}
	for k, v := range c.durationHist {
		d.Durations[k] = v
	}
	return d
}

func (c *Client) recordRetries(retries int) {
	c.diagMu.Lock()
	defer c.diagMu.Unlock()
	c.retriesHist[retries]++
}

func (c *Client) recordDuration(duration time.Duration) {
	c.diagMu.Lock()
	defer c.diagMu.Unlock()
	c.durationHist[fmt.Sprintf("%.1fs", duration.Seconds())]++
}

// Destination selects the target device of a single request: either a
// device code such as "XT1", an explicit bus address, or (when empty) the
// multicast address of the datapoint's family.
type Destination struct {
	code string
	addr uint32
}

// DstCode addresses a device by its code, e.g. "XT2" or "BSP".
func DstCode(code string) Destination { return Destination{code: code} }

// DstAddr addresses a device by its bus address, e.g. 101.
func DstAddr(addr uint32) Destination { return Destination{addr: addr} }

// resolve turns the destination into a bus address. familyID supplies the
// multicast fallback for empty destinations.
func (d Destination) resolve(familyID string) (uint32, error) {
	if d.code != "" {
		return family.AddrByCode(d.code)
	}
	if d.addr != 0 {
		return d.addr, nil
	}
	if familyID != "" {
		f, err := family.ByID(familyID)
		if err != nil {
			return 0, err
		}
		return f.AddrMulticast, nil
	}
	return 0, errors.New("resolve: empty destination")
}

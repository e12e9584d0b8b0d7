// Package poller reads the configured datapoints from the Xcom bus on a
// fixed cycle and fans out value changes to the publishers.
package poller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"xcomlink/catalog"
	"xcomlink/config"
	"xcomlink/logging"
	"xcomlink/scom"
	"xcomlink/xcom"
)

// Status represents the state of the gateway link as the poller sees it.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// PollStats tracks polling statistics for debugging.
type PollStats struct {
	LastPollTime time.Time
	ItemsPolled  int
	ChangesFound int
	LastError    error
}

// pollEntry is a poll item resolved against the datapoint catalog.
type pollEntry struct {
	item config.PollItem
	dp   catalog.Datapoint
	aggr *scom.Aggregation // set for sum/average items
}

// Poller polls a fixed set of datapoints through one Xcom client.
type Poller struct {
	client  *xcom.Client
	dataset *catalog.Dataset

	pollRate      time.Duration
	batchInterval time.Duration

	mu      sync.RWMutex
	entries []pollEntry
	values  map[string]*Reading
	status  Status
	lastErr error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Callbacks
	onChange      func()
	onValueChange func(changes []Reading)

	changeChan  chan []Reading
	statusDirty int32

	statsMu   sync.RWMutex
	lastStats PollStats
}

// NewPoller creates a poller over an established client.
func NewPoller(client *xcom.Client, dataset *catalog.Dataset, pollRate time.Duration) *Poller {
	if pollRate <= 0 {
		pollRate = 5 * time.Second
	}
	return &Poller{
		client:        client,
		dataset:       dataset,
		pollRate:      pollRate,
		batchInterval: 100 * time.Millisecond,
		values:        make(map[string]*Reading),
		changeChan:    make(chan []Reading, 100),
	}
}

// SetItems resolves the configured poll items against the catalog and
// replaces the current poll set. Unresolvable items fail the whole call so
// a config typo is caught at startup.
func (p *Poller) SetItems(items []config.PollItem) error {
	entries := make([]pollEntry, 0, len(items))
	for _, item := range items {
		if !item.Enabled {
			continue
		}
		dp, err := p.dataset.ByNr(item.Nr, item.Family)
		if err != nil {
			return fmt.Errorf("SetItems: poll item %q: %w", item.Name, err)
		}
		entry := pollEntry{item: item, dp: dp}
		if item.Aggregation != "" {
			aggr, err := parseAggregation(item.Aggregation)
			if err != nil {
				return fmt.Errorf("SetItems: poll item %q: %w", item.Name, err)
			}
			if dp.IsParameter() {
				return fmt.Errorf("SetItems: poll item %q: aggregation on a parameter", item.Name)
			}
			entry.aggr = aggr
		}
		entries = append(entries, entry)
	}

	p.mu.Lock()
	p.entries = entries
	p.mu.Unlock()
	logging.DebugLog("poller", "poll set replaced, %d items", len(entries))
	return nil
}

// parseAggregation maps the config's aggregation keyword.
func parseAggregation(s string) (*scom.Aggregation, error) {
	var aggr scom.Aggregation
	switch s {
	case "sum":
		aggr = scom.AggrSum
	case "average":
		aggr = scom.AggrAverage
	default:
		return nil, fmt.Errorf("unknown aggregation %q", s)
	}
	return &aggr, nil
}

// SetOnChange sets a callback that fires when the link status changes.
func (p *Poller) SetOnChange(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

// SetOnValueChange sets a callback that fires when polled values change.
func (p *Poller) SetOnValueChange(fn func(changes []Reading)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onValueChange = fn
}

// Start begins background polling.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.ctx != nil {
		p.mu.Unlock()
		return // Already running
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	p.wg.Add(2)
	go p.pollLoop()
	go p.batchedUpdateLoop()
}

// Stop halts background polling and waits for the loops to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.cancel == nil {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	p.ctx = nil
	p.cancel = nil
	p.mu.Unlock()
}

func (p *Poller) pollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollRate)
	defer ticker.Stop()

	// Poll once right away so publishers have values before the first tick.
	p.poll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

// poll runs one cycle: batch-read every entry, detect changes, push them
// to the aggregator.
func (p *Poller) poll() {
	p.mu.RLock()
	ctx := p.ctx
	entries := make([]pollEntry, len(p.entries))
	copy(entries, p.entries)
	p.mu.RUnlock()

	if !p.client.Connected() {
		p.setStatus(StatusConnecting, nil)
		if err := p.client.Start(ctx); err != nil {
			p.setStatus(StatusDisconnected, err)
			p.recordStats(0, 0, err)
			return
		}
	}
	p.setStatus(StatusConnected, nil)

	if len(entries) == 0 {
		p.recordStats(0, 0, nil)
		return
	}

	// Sum/average items go through the multi-info path, the rest through
	// the batch reader.
	var plain, aggregated []pollEntry
	for _, e := range entries {
		if e.aggr != nil {
			aggregated = append(aggregated, e)
		} else {
			plain = append(plain, e)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.pollRate*4)
	defer cancel()

	var readings []Reading
	var pollErr error

	if len(plain) > 0 {
		items := make([]xcom.Item, len(plain))
		for i, e := range plain {
			items[i] = xcom.Item{Datapoint: e.dp, Code: e.item.Device}
		}
		results, err := p.client.RequestValues(ctx, items)
		if err != nil {
			pollErr = err
		} else {
			for i, res := range results {
				readings = append(readings, p.toReading(plain[i], res))
			}
		}
	}

	if len(aggregated) > 0 {
		items := make([]xcom.Item, len(aggregated))
		for i, e := range aggregated {
			items[i] = xcom.Item{Datapoint: e.dp, Aggregation: e.aggr}
		}
		results, err := p.client.RequestInfos(ctx, items)
		if err != nil {
			if pollErr == nil {
				pollErr = err
			}
		} else {
			for i, res := range results {
				readings = append(readings, p.toReading(aggregated[i], res))
			}
		}
	}

	if pollErr != nil {
		logging.DebugError("poller", "poll cycle", pollErr)
		p.setStatus(StatusError, pollErr)
	}

	changes := p.applyReadings(readings)
	p.recordStats(len(readings), len(changes), pollErr)

	if len(changes) > 0 {
		p.sendChanges(changes)
	}
	p.markStatusDirty()
}

// toReading converts one batch result into a reading.
func (p *Poller) toReading(e pollEntry, res xcom.Item) Reading {
	r := newReading(e)
	r.Timestamp = time.Now()
	if res.Err != nil {
		r.Error = res.Err.Error()
		return r
	}
	r.Value = res.Value
	r.Text = optionText(e.dp, res.Value)
	return r
}

// applyReadings stores the new readings and returns the ones that changed.
func (p *Poller) applyReadings(readings []Reading) []Reading {
	p.mu.Lock()
	defer p.mu.Unlock()

	var changes []Reading
	for _, r := range readings {
		if changed(p.values[r.Name], r) {
			changes = append(changes, r)
		}
		stored := r
		p.values[r.Name] = &stored
	}
	return changes
}

func (p *Poller) setStatus(status Status, err error) {
	p.mu.Lock()
	dirty := p.status != status
	p.status = status
	if err != nil {
		p.lastErr = err
	}
	p.mu.Unlock()
	if dirty {
		p.markStatusDirty()
	}
}

// markStatusDirty signals that status observers need a refresh.
func (p *Poller) markStatusDirty() {
	atomic.StoreInt32(&p.statusDirty, 1)
}

// sendChanges sends value changes to the aggregator channel.
func (p *Poller) sendChanges(changes []Reading) {
	select {
	case p.changeChan <- changes:
	default:
		// Channel full, drop oldest and retry
		select {
		case <-p.changeChan:
		default:
		}
		select {
		case p.changeChan <- changes:
		default:
		}
	}
}

// batchedUpdateLoop aggregates changes and notifies at a controlled rate.
func (p *Poller) batchedUpdateLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.batchInterval)
	defer ticker.Stop()

	var pending []Reading

	for {
		select {
		case <-p.ctx.Done():
			// Flush any remaining changes
			if len(pending) > 0 {
				p.flushValueChanges(pending)
			}
			return

		case changes := <-p.changeChan:
			pending = append(pending, changes...)

		case <-ticker.C:
			if atomic.CompareAndSwapInt32(&p.statusDirty, 1, 0) {
				p.mu.RLock()
				fn := p.onChange
				p.mu.RUnlock()
				if fn != nil {
					fn()
				}
			}

			if len(pending) > 0 {
				p.flushValueChanges(pending)
				pending = nil
			}
		}
	}
}

// flushValueChanges calls the value change callback with accumulated changes.
func (p *Poller) flushValueChanges(changes []Reading) {
	p.mu.RLock()
	fn := p.onValueChange
	p.mu.RUnlock()
	if fn != nil && len(changes) > 0 {
		fn(changes)
	}
}

func (p *Poller) recordStats(polled, changes int, err error) {
	p.statsMu.Lock()
	p.lastStats = PollStats{
		LastPollTime: time.Now(),
		ItemsPolled:  polled,
		ChangesFound: changes,
		LastError:    err,
	}
	p.statsMu.Unlock()
}

// GetPollStats returns the stats of the most recent poll cycle.
func (p *Poller) GetPollStats() PollStats {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()
	return p.lastStats
}

// GetStatus returns the current link status.
func (p *Poller) GetStatus() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// GetError returns the last poll error.
func (p *Poller) GetError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// Values returns a copy of the current readings keyed by poll item name.
func (p *Poller) Values() map[string]*Reading {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make(map[string]*Reading, len(p.values))
	for k, v := range p.values {
		result[k] = v
	}
	return result
}

// Value returns the current reading for one poll item, or nil.
func (p *Poller) Value(name string) *Reading {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.values[name]
}

// AllCurrentReadings returns every cached reading that carries a value.
// Used for the initial publish when a broker connects.
func (p *Poller) AllCurrentReadings() []Reading {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var results []Reading
	for _, v := range p.values {
		if v != nil && v.Error == "" {
			results = append(results, *v)
		}
	}
	return results
}

// ReadNow reads one poll item immediately, outside the poll cycle.
func (p *Poller) ReadNow(ctx context.Context, name string) (Reading, error) {
	entry, err := p.findEntry(name)
	if err != nil {
		return Reading{}, err
	}

	var dst xcom.Destination
	if entry.item.Device != "" {
		dst = xcom.DstCode(entry.item.Device)
	}
	value, err := p.client.RequestValue(ctx, entry.dp, dst)

	r := newReading(entry)
	r.Timestamp = time.Now()
	if err != nil {
		r.Error = err.Error()
		return r, err
	}
	r.Value = value
	r.Text = optionText(entry.dp, value)

	p.applyReadings([]Reading{r})
	return r, nil
}

// Write writes a parameter poll item and re-reads it into the cache.
func (p *Poller) Write(ctx context.Context, name string, value interface{}) error {
	entry, err := p.findEntry(name)
	if err != nil {
		return err
	}

	var dst xcom.Destination
	if entry.item.Device != "" {
		dst = xcom.DstCode(entry.item.Device)
	}
	if err := p.client.UpdateValue(ctx, entry.dp, value, dst); err != nil {
		return fmt.Errorf("Write: %w", err)
	}
	logging.DebugLog("poller", "wrote %v to %s (nr %d)", value, name, entry.dp.Nr)

	if _, err := p.ReadNow(ctx, name); err != nil {
		logging.DebugError("poller", "readback of "+name, err)
	}
	return nil
}

func (p *Poller) findEntry(name string) (pollEntry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, e := range p.entries {
		if e.item.Name == name {
			return e, nil
		}
	}
	return pollEntry{}, fmt.Errorf("unknown poll item %q", name)
}

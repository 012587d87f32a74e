package scheduler

import (
	"sync"

	"github.com/tinoosan/streamctl/internal/data"
)

// Listener receives scheduler notifications. All four methods are
// invoked on the dispatcher's own goroutine (the "observer thread"),
// never on the scheduler loop, and never concurrently with each other.
type Listener interface {
	OnInitialized()
	OnDownloadStateChanged(rec data.DownloadRecord)
	OnIdle()
	OnRequirementsStateChanged(req data.Requirements, notMet uint32)
}

// BaseListener is embeddable by listeners that only care about a
// subset of the four callbacks.
type BaseListener struct{}

func (BaseListener) OnInitialized()                                  {}
func (BaseListener) OnDownloadStateChanged(rec data.DownloadRecord)  {}
func (BaseListener) OnIdle()                                        {}
func (BaseListener) OnRequirementsStateChanged(data.Requirements, uint32) {}

// Dispatcher owns the listener set and the snapshot state exposed to
// callers (downloadStates, idle, initialized): the "observer thread"
// of §5. It runs its own goroutine with a 1024-entry event buffer, so
// posting a notification from the scheduler loop does not wait on a
// slow listener unless that buffer is full.
type Dispatcher struct {
	listenersMu sync.RWMutex
	listeners   []Listener

	stateMu        sync.RWMutex
	downloadStates map[string]data.DownloadRecord
	idle           bool
	initialized    bool

	events chan func()
	done   chan struct{}
}

// NewDispatcher starts the observer goroutine. idle starts true (no
// workers are active before anything has been loaded); this does not
// itself trigger OnIdle, which only fires on a false→true edge.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		downloadStates: make(map[string]data.DownloadRecord),
		idle:           true,
		events:         make(chan func(), 1024),
		done:           make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for fn := range d.events {
		fn()
	}
}

func (d *Dispatcher) AddListener(l Listener) {
	d.listenersMu.Lock()
	d.listeners = append(d.listeners, l)
	d.listenersMu.Unlock()
}

func (d *Dispatcher) RemoveListener(l Listener) {
	d.listenersMu.Lock()
	defer d.listenersMu.Unlock()
	for i, existing := range d.listeners {
		if existing == l {
			d.listeners = append(d.listeners[:i], d.listeners[i+1:]...)
			return
		}
	}
}

func (d *Dispatcher) snapshotListeners() []Listener {
	d.listenersMu.RLock()
	defer d.listenersMu.RUnlock()
	out := make([]Listener, len(d.listeners))
	copy(out, d.listeners)
	return out
}

func (d *Dispatcher) publishInitialized() {
	d.events <- func() {
		d.stateMu.Lock()
		d.initialized = true
		d.stateMu.Unlock()
		for _, l := range d.snapshotListeners() {
			l.OnInitialized()
		}
	}
}

func (d *Dispatcher) publishStateChanged(rec data.DownloadRecord) {
	d.events <- func() {
		d.stateMu.Lock()
		if data.IsFinished(rec.State) {
			delete(d.downloadStates, rec.ID)
		} else {
			d.downloadStates[rec.ID] = rec
		}
		d.stateMu.Unlock()
		for _, l := range d.snapshotListeners() {
			l.OnDownloadStateChanged(rec)
		}
	}
}

func (d *Dispatcher) publishIdle(idle bool) {
	d.events <- func() {
		d.stateMu.Lock()
		rising := idle && !d.idle
		d.idle = idle
		d.stateMu.Unlock()
		if rising {
			for _, l := range d.snapshotListeners() {
				l.OnIdle()
			}
		}
	}
}

func (d *Dispatcher) publishRequirementsChanged(req data.Requirements, notMet uint32) {
	d.events <- func() {
		for _, l := range d.snapshotListeners() {
			l.OnRequirementsStateChanged(req, notMet)
		}
	}
}

// Snapshot returns the last published record for id.
func (d *Dispatcher) Snapshot(id string) (data.DownloadRecord, bool) {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	rec, ok := d.downloadStates[id]
	return rec, ok
}

// AllSnapshots returns every last-published record.
func (d *Dispatcher) AllSnapshots() []data.DownloadRecord {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	out := make([]data.DownloadRecord, 0, len(d.downloadStates))
	for _, rec := range d.downloadStates {
		out = append(out, rec)
	}
	return out
}

func (d *Dispatcher) IsIdle() bool {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.idle
}

func (d *Dispatcher) IsInitialized() bool {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.initialized
}

// Close drains and stops the observer goroutine. Must only be called
// once, after the scheduler loop has guaranteed no further events will
// be posted.
func (d *Dispatcher) Close() {
	close(d.events)
	<-d.done
}

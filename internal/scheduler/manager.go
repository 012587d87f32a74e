package scheduler

import (
	"sync"

	"github.com/tinoosan/streamctl/internal/data"
	"github.com/tinoosan/streamctl/internal/downloader"
	"github.com/tinoosan/streamctl/internal/index"
)

// Manager is the Public Controller (C7): a thin boundary translating
// external calls into events posted to the Scheduler loop. Every
// method is safe to call from any goroutine; all of them are forbidden
// after Release (§6).
type Manager struct {
	sched *Scheduler
	disp  *Dispatcher

	releaseOnce sync.Once
	releasedMu  sync.RWMutex
	released    bool
}

// New constructs a Manager, wires the Scheduler and Dispatcher, and
// kicks off the initial load() event.
func New(cfg Config) *Manager {
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = NewDispatcher()
	}
	s := newScheduler(cfg)
	m := &Manager{sched: s, disp: cfg.Dispatcher}
	s.post(s.load)
	return m
}

func (m *Manager) checkReleased() error {
	m.releasedMu.RLock()
	defer m.releasedMu.RUnlock()
	if m.released {
		return ErrReleased
	}
	return nil
}

// AddDownload posts an add event.
func (m *Manager) AddDownload(action data.Action) error {
	if err := m.checkReleased(); err != nil {
		return err
	}
	m.sched.post(func() { m.sched.addDownloadInternal(action) })
	return nil
}

// RemoveDownload posts a remove event.
func (m *Manager) RemoveDownload(id string) error {
	if err := m.checkReleased(); err != nil {
		return err
	}
	m.sched.post(func() { m.sched.removeDownloadInternal(id) })
	return nil
}

// StartDownloads clears the global manual-stop-reason.
func (m *Manager) StartDownloads() error {
	if err := m.checkReleased(); err != nil {
		return err
	}
	m.sched.post(func() { m.sched.setManualStopReasonGlobal(data.ManualStopReasonNone) })
	return nil
}

// StopDownloads sets the global manual-stop-reason. reason must not be
// NONE.
func (m *Manager) StopDownloads(reason int) error {
	if err := m.checkReleased(); err != nil {
		return err
	}
	if reason == data.ManualStopReasonNone {
		return ErrInvalidStopReason
	}
	m.sched.post(func() { m.sched.setManualStopReasonGlobal(reason) })
	return nil
}

// StartDownload clears the manual-stop-reason for one id.
func (m *Manager) StartDownload(id string) error {
	if err := m.checkReleased(); err != nil {
		return err
	}
	m.sched.post(func() { m.sched.setManualStopReasonForID(id, data.ManualStopReasonNone) })
	return nil
}

// StopDownload sets the manual-stop-reason for one id. reason must not
// be NONE.
func (m *Manager) StopDownload(id string, reason int) error {
	if err := m.checkReleased(); err != nil {
		return err
	}
	if reason == data.ManualStopReasonNone {
		return ErrInvalidStopReason
	}
	m.sched.post(func() { m.sched.setManualStopReasonForID(id, reason) })
	return nil
}

// SetRequirements stops the current watcher and starts a fresh one.
func (m *Manager) SetRequirements(req data.Requirements) error {
	if err := m.checkReleased(); err != nil {
		return err
	}
	m.sched.post(func() { m.sched.setRequirementsInternal(req) })
	return nil
}

// GetDownloadCount returns the number of records currently tracked by
// the observer-thread snapshot.
func (m *Manager) GetDownloadCount() int {
	return len(m.disp.AllSnapshots())
}

// GetAllDownloadStates returns a snapshot of every last-published
// record.
func (m *Manager) GetAllDownloadStates() []data.DownloadRecord {
	return m.disp.AllSnapshots()
}

// GetDownloadState returns the last-published record for id.
func (m *Manager) GetDownloadState(id string) (data.DownloadRecord, bool) {
	return m.disp.Snapshot(id)
}

func (m *Manager) IsIdle() bool        { return m.disp.IsIdle() }
func (m *Manager) IsInitialized() bool { return m.disp.IsInitialized() }

// GetDownloadIndex exposes the durable Index directly, for read paths
// (e.g. listing terminal records already evicted from the live set)
// that don't need to go through the scheduler loop.
func (m *Manager) GetDownloadIndex() index.Index { return m.sched.idx }

// GetFactory exposes the Downloader factory, mostly useful for tests
// and diagnostics.
func (m *Manager) GetFactory() downloader.Factory { return m.sched.factory }

// AddListener registers l for notifications. Safe to call at any time,
// including from within another listener's callback.
func (m *Manager) AddListener(l Listener) { m.disp.AddListener(l) }

// RemoveListener unregisters l.
func (m *Manager) RemoveListener(l Listener) { m.disp.RemoveListener(l) }

// Release is idempotent and blocks until the scheduler drains: every
// active worker is canceled, the last in-flight persistence completes,
// and both the scheduler loop and the observer goroutine exit.
func (m *Manager) Release() {
	m.releaseOnce.Do(func() {
		m.releasedMu.Lock()
		m.released = true
		m.releasedMu.Unlock()

		done := make(chan struct{})
		m.sched.post(func() { m.sched.release(done) })
		<-done
		close(m.sched.loop)
		<-m.sched.stopped
		m.disp.Close()
	})
}

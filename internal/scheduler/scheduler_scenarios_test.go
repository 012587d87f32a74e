package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tinoosan/streamctl/internal/data"
	"github.com/tinoosan/streamctl/internal/downloader"
	"github.com/tinoosan/streamctl/internal/index/memindex"
	"github.com/tinoosan/streamctl/internal/requirements"
	"github.com/tinoosan/streamctl/internal/scheduler"
)

// fakeDownloader blocks Download/Remove until either proceed is closed
// (returning err) or the context is canceled (returning nil), letting
// a test drive worker completion at will.
type fakeDownloader struct {
	proceed  chan struct{}
	err      error
	canceled atomic.Bool
	bytes    atomic.Int64
}

func newFakeDownloader() *fakeDownloader {
	return &fakeDownloader{proceed: make(chan struct{})}
}

func (f *fakeDownloader) Download(ctx context.Context) error {
	select {
	case <-f.proceed:
		return f.err
	case <-ctx.Done():
		return nil
	}
}

func (f *fakeDownloader) Remove(ctx context.Context) error {
	select {
	case <-f.proceed:
		return f.err
	case <-ctx.Done():
		return nil
	}
}

func (f *fakeDownloader) Cancel()                  { f.canceled.Store(true) }
func (f *fakeDownloader) DownloadedBytes() int64   { return f.bytes.Load() }
func (f *fakeDownloader) Counters() data.Counters {
	return data.Counters{BytesDownloaded: f.bytes.Load(), BytesTotal: -1}
}

var _ downloader.Downloader = (*fakeDownloader)(nil)

// scriptedDownloader returns a pre-scripted (error, downloadedBytes)
// pair per call, in order, with no blocking — used to drive the
// worker's retry loop deterministically without racing real time.
type scriptedDownloader struct {
	mu       sync.Mutex
	calls    int
	results  []error
	bytesSeq []int64
	canceled atomic.Bool
	bytes    atomic.Int64
}

func (d *scriptedDownloader) Download(ctx context.Context) error {
	d.mu.Lock()
	idx := d.calls
	d.calls++
	d.mu.Unlock()
	if idx < len(d.bytesSeq) {
		d.bytes.Store(d.bytesSeq[idx])
	}
	if idx < len(d.results) {
		return d.results[idx]
	}
	return nil
}

func (d *scriptedDownloader) Remove(ctx context.Context) error { return nil }
func (d *scriptedDownloader) Cancel()                          { d.canceled.Store(true) }
func (d *scriptedDownloader) DownloadedBytes() int64           { return d.bytes.Load() }
func (d *scriptedDownloader) Counters() data.Counters {
	return data.Counters{BytesDownloaded: d.bytes.Load(), BytesTotal: -1}
}

var _ downloader.Downloader = (*scriptedDownloader)(nil)

// fakeFactory hands out a fresh fakeDownloader per Create call and
// remembers the latest one issued for each id, since a preempted
// retry acquires a brand new worker. A preset downloader is consumed
// on the next Create for its id, for tests that need to script a
// worker's exact call sequence.
type fakeFactory struct {
	mu     sync.Mutex
	byID   map[string]*fakeDownloader
	preset map[string]downloader.Downloader
	err    error // if set, every Create fails with this error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{byID: make(map[string]*fakeDownloader), preset: make(map[string]downloader.Downloader)}
}

func (f *fakeFactory) Create(action data.Action) (downloader.Downloader, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	if p, ok := f.preset[action.ID]; ok {
		delete(f.preset, action.ID)
		f.mu.Unlock()
		return p, nil
	}
	d := newFakeDownloader()
	f.byID[action.ID] = d
	f.mu.Unlock()
	return d, nil
}

func (f *fakeFactory) latest(id string) *fakeDownloader {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id]
}

func (f *fakeFactory) presetNext(id string, d downloader.Downloader) {
	f.mu.Lock()
	f.preset[id] = d
	f.mu.Unlock()
}

var _ downloader.Factory = (*fakeFactory)(nil)

type stateEvent struct {
	id    string
	state data.State
}

type collector struct {
	scheduler.BaseListener
	ch     chan stateEvent
	idleCh chan struct{}
}

func newCollector() *collector {
	return &collector{ch: make(chan stateEvent, 256), idleCh: make(chan struct{}, 32)}
}

func (c *collector) OnDownloadStateChanged(rec data.DownloadRecord) {
	c.ch <- stateEvent{id: rec.ID, state: rec.State}
}

func (c *collector) OnIdle() { c.idleCh <- struct{}{} }

func waitState(t *testing.T, ch <-chan stateEvent, id string, want data.State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.id == id && ev.state == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s to reach %s", id, want)
		}
	}
}

func newManager(t *testing.T, factory *fakeFactory, coll *collector, maxSim, minRetry int) *scheduler.Manager {
	t.Helper()
	disp := scheduler.NewDispatcher()
	disp.AddListener(coll)
	mgr := scheduler.New(scheduler.Config{
		Index:                    memindex.New(),
		Factory:                  factory,
		Dispatcher:               disp,
		MaxSimultaneousDownloads: maxSim,
		MinRetryCount:            minRetry,
	})
	t.Cleanup(mgr.Release)
	return mgr
}

// Scenario 1: cap enforcement.
func TestScenario_CapEnforcement(t *testing.T) {
	factory := newFakeFactory()
	coll := newCollector()
	mgr := newManager(t, factory, coll, 1, 0)

	if err := mgr.AddDownload(data.Action{ID: "A", URI: "x"}); err != nil {
		t.Fatal(err)
	}
	waitState(t, coll.ch, "A", data.StateDownloading)

	if err := mgr.AddDownload(data.Action{ID: "B", URI: "x"}); err != nil {
		t.Fatal(err)
	}
	waitState(t, coll.ch, "B", data.StateQueued)

	close(factory.latest("A").proceed)
	waitState(t, coll.ch, "A", data.StateCompleted)
	waitState(t, coll.ch, "B", data.StateDownloading)

	close(factory.latest("B").proceed)
	waitState(t, coll.ch, "B", data.StateCompleted)

	select {
	case <-coll.idleCh:
	case <-time.After(time.Second):
		t.Fatal("expected a final onIdle")
	}
}

// fakeWatcher hands the test a way to fire onChange at will while
// reporting a fixed initial mask from Start.
type fakeWatcher struct {
	onChange func(notMet uint32)
	initial  uint32
}

func (w *fakeWatcher) Start(req data.Requirements) (uint32, error) { return w.initial, nil }
func (w *fakeWatcher) Stop()                                       {}

var _ requirements.Watcher = (*fakeWatcher)(nil)

// Scenario 2: precondition gating.
func TestScenario_PreconditionGating(t *testing.T) {
	factory := newFakeFactory()
	coll := newCollector()
	disp := scheduler.NewDispatcher()
	disp.AddListener(coll)

	var change func(uint32)
	mgr := scheduler.New(scheduler.Config{
		Index:                    memindex.New(),
		Factory:                  factory,
		Dispatcher:               disp,
		MaxSimultaneousDownloads: 2,
		WatcherFactory: func(onChange func(uint32)) requirements.Watcher {
			change = onChange
			return &fakeWatcher{onChange: onChange, initial: 0b1}
		},
	})
	t.Cleanup(mgr.Release)

	if err := mgr.SetRequirements(data.Requirements{NetworkRequired: true}); err != nil {
		t.Fatal(err)
	}
	if err := mgr.AddDownload(data.Action{ID: "A", URI: "x"}); err != nil {
		t.Fatal(err)
	}
	waitState(t, coll.ch, "A", data.StateStopped)

	// maxSim is 2, so once the requirement clears the scheduler admits
	// A straight from stopped to downloading; there is no intervening
	// queued state since the fetch slot is immediately available.
	change(0)
	waitState(t, coll.ch, "A", data.StateDownloading)

	close(factory.latest("A").proceed)
	waitState(t, coll.ch, "A", data.StateCompleted)
}

// Scenario 3: manual stop while downloading, then resume.
func TestScenario_ManualStopWhileDownloading(t *testing.T) {
	factory := newFakeFactory()
	coll := newCollector()
	mgr := newManager(t, factory, coll, 1, 0)

	if err := mgr.AddDownload(data.Action{ID: "A", URI: "x"}); err != nil {
		t.Fatal(err)
	}
	waitState(t, coll.ch, "A", data.StateDownloading)

	if err := mgr.StopDownload("A", 7); err != nil {
		t.Fatal(err)
	}
	waitState(t, coll.ch, "A", data.StateStopped)
	if !factory.latest("A").canceled.Load() {
		t.Fatal("expected the fetch worker to have been canceled")
	}

	if err := mgr.StartDownload("A"); err != nil {
		t.Fatal(err)
	}
	// As in Scenario 2, resuming admits A straight from stopped to
	// downloading: admission either succeeds on the freed slot or waits
	// on the canceled worker, and both publish downloading. No queued
	// state is published in between.
	waitState(t, coll.ch, "A", data.StateDownloading)

	close(factory.latest("A").proceed)
	waitState(t, coll.ch, "A", data.StateCompleted)
}

// Scenario 4: remove during download.
func TestScenario_RemoveDuringDownload(t *testing.T) {
	factory := newFakeFactory()
	coll := newCollector()
	mgr := newManager(t, factory, coll, 1, 0)

	if err := mgr.AddDownload(data.Action{ID: "A", URI: "x"}); err != nil {
		t.Fatal(err)
	}
	waitState(t, coll.ch, "A", data.StateDownloading)

	if err := mgr.RemoveDownload("A"); err != nil {
		t.Fatal(err)
	}
	waitState(t, coll.ch, "A", data.StateRemoving)

	close(factory.latest("A").proceed)
	waitState(t, coll.ch, "A", data.StateRemoved)
}

// Scenario 5: retry then success. minRetry=2: the worker fails once
// with no progress, fails again with progress (resetting the error
// count), then succeeds — one downloading notification, one
// completed, no failed.
func TestScenario_RetryThenSuccess(t *testing.T) {
	factory := newFakeFactory()
	coll := newCollector()
	mgr := newManager(t, factory, coll, 1, 2)

	scripted := &scriptedDownloader{
		results:  []error{errors.New("transient"), errors.New("transient"), nil},
		bytesSeq: []int64{0, 1, 1},
	}
	factory.presetNext("A", scripted)

	if err := mgr.AddDownload(data.Action{ID: "A", URI: "x"}); err != nil {
		t.Fatal(err)
	}
	waitState(t, coll.ch, "A", data.StateDownloading)
	waitState(t, coll.ch, "A", data.StateCompleted)
}

// Scenario 6: retry exhausted. minRetry=1: two failures with no
// progress exceed the retry budget, yielding a terminal failed state.
func TestScenario_RetryExhausted(t *testing.T) {
	factory := newFakeFactory()
	coll := newCollector()
	mgr := newManager(t, factory, coll, 1, 1)

	scripted := &scriptedDownloader{
		results:  []error{errors.New("transient"), errors.New("transient")},
		bytesSeq: []int64{0, 0},
	}
	factory.presetNext("A", scripted)

	if err := mgr.AddDownload(data.Action{ID: "A", URI: "x"}); err != nil {
		t.Fatal(err)
	}
	waitState(t, coll.ch, "A", data.StateDownloading)
	waitState(t, coll.ch, "A", data.StateFailed)
}

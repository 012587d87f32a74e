// Package scheduler is the core of the repository: the per-item state
// machine (C4), the single-threaded event loop that owns it (C5), the
// worker glue that turns Downloader calls into loop events (C2 glue),
// the listener dispatch (C6), and the public controller (C7).
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tinoosan/streamctl/internal/data"
	"github.com/tinoosan/streamctl/internal/downloader"
	"github.com/tinoosan/streamctl/internal/index"
	"github.com/tinoosan/streamctl/internal/metrics"
	"github.com/tinoosan/streamctl/internal/requirements"
	"github.com/tinoosan/streamctl/internal/telemetry"
)

// activeWorker is a handle to a running worker goroutine plus the two
// booleans the admission function needs (§3).
type activeWorker struct {
	cancel         context.CancelFunc
	downloader     downloader.Downloader
	isRemoveWorker bool
	isCanceled     atomic.Bool
}

// WatcherFactory builds a fresh requirements.Watcher bound to
// onChange, mirroring a fresh RequirementsWatcher constructed on every
// setRequirements call (§4.5).
type WatcherFactory func(onChange func(notMet uint32)) requirements.Watcher

// Config bundles the Scheduler's fixed collaborators and defaults
// (§6: maxSimultaneousDownloads = 1, minRetryCount = 5).
// MaxSimultaneousDownloads <= 0 and MinRetryCount < 0 take the §6
// defaults; MinRetryCount == 0 is a valid explicit "no retries" setting.
type Config struct {
	Index                    index.Index
	Factory                  downloader.Factory
	Dispatcher               *Dispatcher
	WatcherFactory           WatcherFactory
	MaxSimultaneousDownloads int
	MinRetryCount            int
	Logger                   *slog.Logger
	Now                      func() time.Time
	Telemetry                *telemetry.Telemetry
}

// Scheduler is the event loop described in §4.1/§5. Every field below
// the loop channel is owned exclusively by the loop goroutine; nothing
// outside run() may read or write them directly.
type Scheduler struct {
	idx        index.Index
	factory    downloader.Factory
	disp       *Dispatcher
	watcherNew WatcherFactory
	logger     *slog.Logger
	now        func() time.Time
	tel        *telemetry.Telemetry

	maxSimultaneous int
	minRetryCount   int

	loop    chan func()
	stopped chan struct{}

	downloads             map[string]*Download
	activeWorkers         map[string]*activeWorker
	simultaneousDownloads int
	notMetRequirements    uint32
	manualStopReason      int
	requirementsWanted    data.Requirements
	watcher               requirements.Watcher

	released       bool
	pendingRelease chan struct{}
}

func newScheduler(cfg Config) *Scheduler {
	maxSim := cfg.MaxSimultaneousDownloads
	if maxSim <= 0 {
		maxSim = 1
	}
	minRetry := cfg.MinRetryCount
	if minRetry < 0 {
		minRetry = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	s := &Scheduler{
		idx:             cfg.Index,
		factory:         cfg.Factory,
		disp:            cfg.Dispatcher,
		watcherNew:      cfg.WatcherFactory,
		logger:          logger,
		now:             now,
		tel:             cfg.Telemetry,
		maxSimultaneous: maxSim,
		minRetryCount:   minRetry,
		loop:            make(chan func(), 256),
		stopped:         make(chan struct{}),
		downloads:       make(map[string]*Download),
		activeWorkers:   make(map[string]*activeWorker),
	}
	go s.run()
	return s
}

func (s *Scheduler) run() {
	defer close(s.stopped)
	for fn := range s.loop {
		fn()
		s.evaluateIdle()
	}
}

func (s *Scheduler) post(fn func()) {
	s.loop <- fn
}

func (s *Scheduler) evaluateIdle() {
	s.disp.publishIdle(len(s.activeWorkers) == 0)
}

// publish implements downloadOps.publish: stamp updateTimeMs, persist,
// fan out to the dispatcher, bump the state-transition counter.
func (s *Scheduler) publish(dl *Download) {
	dl.record.UpdateTimeMs = s.now().UnixMilli()
	rec := dl.record.Clone()
	if err := s.idx.Put(context.Background(), rec); err != nil {
		s.logger.Error("index put failed", "id", rec.ID, "err", err)
		metrics.IndexErrors.WithLabelValues("put").Inc()
	}
	metrics.StateTransitions.WithLabelValues(string(rec.State)).Inc()
	s.disp.publishStateChanged(rec)
}

// cancelActiveWorker implements downloadOps.cancelActiveWorker: it is
// advisory-cooperative (§5) — request cancellation via both the
// downloader's own Cancel() and the worker's context, and rely on the
// worker's completion event to observe the actual stop.
func (s *Scheduler) cancelActiveWorker(id string) {
	if w, ok := s.activeWorkers[id]; ok && !w.isCanceled.Load() {
		w.isCanceled.Store(true)
		if w.downloader != nil {
			w.downloader.Cancel()
		}
		w.cancel()
	}
}

// admit implements downloadOps.admit — startDownloadThread, §4.1.
func (s *Scheduler) admit(dl *Download) admitResult {
	id := dl.record.ID
	if w, ok := s.activeWorkers[id]; ok {
		if w.isRemoveWorker {
			return admitWaitRemoval
		}
		if !w.isCanceled.Load() {
			w.isCanceled.Store(true)
			if w.downloader != nil {
				w.downloader.Cancel()
			}
			w.cancel()
		}
		return admitWaitCancellation
	}

	// After release no new worker may start: a canceled worker's
	// completion would otherwise re-admit its download and the worker
	// table would never drain.
	if s.released {
		return admitTooMany
	}

	isRemove := data.IsInRemoveState(dl.record.State)
	if !isRemove && s.simultaneousDownloads >= s.maxSimultaneous {
		return admitTooMany
	}

	ctx, cancel := context.WithCancel(context.Background())
	dlr, err := s.factory.Create(dl.toAction())
	aw := &activeWorker{cancel: cancel, downloader: dlr, isRemoveWorker: isRemove}
	s.activeWorkers[id] = aw
	if !isRemove {
		s.simultaneousDownloads++
	}
	metrics.ActiveDownloads.Set(float64(s.simultaneousDownloads))

	go s.runWorker(ctx, id, aw, dlr, err, dl.record.Counters.BytesDownloaded)
	return admitSucceeded
}

// load is the first event run on the loop: the §4.1 bulk-scan restart
// path, followed by onInitialized and a start() pass over everything
// just loaded.
func (s *Scheduler) load() {
	ctx := context.Background()
	recs, err := s.idx.List(ctx,
		data.StateQueued, data.StateStopped, data.StateDownloading,
		data.StateRemoving, data.StateRestarting)
	if err != nil {
		s.logger.Error("index list failed during load", "err", err)
		metrics.IndexErrors.WithLabelValues("list").Inc()
	}
	for _, rec := range recs {
		rec.NotMetRequirements = s.notMetRequirements
		rec.ManualStopReason = s.manualStopReason
		dl := newDownload(rec)
		s.downloads[rec.ID] = dl
		dl.initialize(s, rec.State)
	}
	s.disp.publishInitialized()
	for _, dl := range s.downloads {
		dl.start(s)
	}
}

func (s *Scheduler) addDownloadInternal(action data.Action) {
	if dl, ok := s.downloads[action.ID]; ok {
		dl.addAction(s, action)
		return
	}
	ctx := context.Background()
	rec, err := s.idx.Get(ctx, action.ID)
	if err != nil {
		rec = data.NewRecord(action, s.now().UnixMilli())
	} else {
		rec.Merge(action)
	}
	rec.NotMetRequirements = s.notMetRequirements
	rec.ManualStopReason = s.manualStopReason
	dl := newDownload(rec)
	s.downloads[action.ID] = dl
	dl.initialize(s, rec.State)
}

func (s *Scheduler) removeDownloadInternal(id string) {
	if dl, ok := s.downloads[id]; ok {
		dl.remove(s)
		return
	}
	ctx := context.Background()
	rec, err := s.idx.Get(ctx, id)
	if err != nil {
		return
	}
	dl := newDownload(rec)
	s.downloads[id] = dl
	dl.initialize(s, data.StateRemoving)
}

func (s *Scheduler) setManualStopReasonGlobal(reason int) {
	s.manualStopReason = reason
	for _, dl := range s.downloads {
		dl.setManualStopReason(reason)
		dl.updateStopState(s)
	}
	if err := s.idx.SetManualStopReason(context.Background(), reason); err != nil {
		s.logger.Error("persist global manual stop reason failed", "err", err)
		metrics.IndexErrors.WithLabelValues("set_manual_stop_reason").Inc()
	}
}

func (s *Scheduler) setManualStopReasonForID(id string, reason int) {
	if dl, ok := s.downloads[id]; ok {
		dl.setManualStopReason(reason)
		dl.updateStopState(s)
	}
	if err := s.idx.SetManualStopReasonByID(context.Background(), id, reason); err != nil {
		s.logger.Error("persist manual stop reason failed", "id", id, "err", err)
		metrics.IndexErrors.WithLabelValues("set_manual_stop_reason_by_id").Inc()
	}
}

func (s *Scheduler) setNotMetRequirementsGlobal(mask uint32) {
	s.notMetRequirements = mask
	for _, dl := range s.downloads {
		dl.setNotMetRequirements(mask)
		dl.updateStopState(s)
	}
}

func (s *Scheduler) setRequirementsInternal(req data.Requirements) {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.watcherNew == nil {
		s.requirementsWanted = req
		return
	}
	w := s.watcherNew(func(notMet uint32) {
		s.post(func() { s.setNotMetRequirementsGlobal(notMet) })
	})
	notMet, err := w.Start(req)
	if err != nil {
		s.logger.Error("requirements watcher start failed", "err", err)
	}
	s.watcher = w
	s.requirementsWanted = req
	s.setNotMetRequirementsGlobal(notMet)
	s.disp.publishRequirementsChanged(req, notMet)
}

// onWorkerStopped is onDownloadThreadStopped, §4.1: the scheduler-level
// half (table bookkeeping, slot accounting, re-drive), delegating the
// per-item transition to the Download.
func (s *Scheduler) onWorkerStopped(id string, isCanceled bool, finalErr error) {
	aw, ok := s.activeWorkers[id]
	if !ok {
		return
	}
	delete(s.activeWorkers, id)
	slotOpened := false
	if !aw.isRemoveWorker {
		s.simultaneousDownloads--
		slotOpened = true
	}
	metrics.ActiveDownloads.Set(float64(s.simultaneousDownloads))

	if dl, ok := s.downloads[id]; ok {
		dl.onWorkerStopped(s, isCanceled, finalErr)
		if data.IsFinished(dl.record.State) {
			delete(s.downloads, id)
		}
	}

	if slotOpened {
		s.admitQueuedDownloads()
	}

	if s.released && len(s.activeWorkers) == 0 && s.pendingRelease != nil {
		close(s.pendingRelease)
		s.pendingRelease = nil
	}
}

// admitQueuedDownloads gives queued items a shot at a freed fetch
// slot. Restricted to queued items deliberately: calling start() on an
// already-downloading item would re-enter admission against its own
// live worker and spuriously preempt it.
func (s *Scheduler) admitQueuedDownloads() {
	for _, dl := range s.downloads {
		if s.simultaneousDownloads >= s.maxSimultaneous {
			return
		}
		if dl.record.State == data.StateQueued {
			dl.start(s)
		}
	}
}

// release cancels every active worker and waits (via the caller's done
// channel) for the table to drain before the loop is allowed to quit.
func (s *Scheduler) release(done chan struct{}) {
	s.released = true
	for id := range s.activeWorkers {
		s.cancelActiveWorker(id)
	}
	if s.watcher != nil {
		s.watcher.Stop()
		s.watcher = nil
	}
	if len(s.activeWorkers) == 0 {
		close(done)
		return
	}
	s.pendingRelease = done
}

package scheduler

import "github.com/tinoosan/streamctl/internal/data"

// admitResult mirrors the four outcomes of startDownloadThread.
type admitResult int

const (
	admitWaitRemoval admitResult = iota
	admitWaitCancellation
	admitTooMany
	admitSucceeded
)

// downloadOps is the slice of scheduler-owned behavior a Download
// needs to carry out its own transitions: admission, worker
// cancellation, and publishing. Implemented by *Scheduler; kept as an
// interface so the state machine in this file reads independently of
// the event loop that drives it.
type downloadOps interface {
	admit(dl *Download) admitResult
	cancelActiveWorker(id string)
	publish(dl *Download)
}

// Download is the in-memory state machine for one content id (C4). It
// is owned exclusively by the scheduler loop goroutine for its
// lifetime; nothing outside that goroutine may touch its fields.
type Download struct {
	record data.DownloadRecord
}

func newDownload(rec data.DownloadRecord) *Download {
	return &Download{record: rec}
}

func (dl *Download) canStart() bool {
	return dl.record.ManualStopReason == data.ManualStopReasonNone && dl.record.NotMetRequirements == 0
}

func (dl *Download) isIdle() bool {
	return dl.record.State != data.StateDownloading && !data.IsInRemoveState(dl.record.State)
}

func (dl *Download) toAction() data.Action {
	return data.Action{
		ID:             dl.record.ID,
		Type:           dl.record.Type,
		URI:            dl.record.URI,
		StreamKeys:     dl.record.StreamKeys,
		CacheKey:       dl.record.CacheKey,
		CustomMetadata: dl.record.CustomMetadata,
	}
}

func (dl *Download) setState(ops downloadOps, s data.State) {
	dl.record.State = s
	ops.publish(dl)
}

// initialize sets state to initialState and drives the INITIAL branch
// of the §4.2 diagram. It always results in exactly one publish.
func (dl *Download) initialize(ops downloadOps, initialState data.State) {
	dl.record.State = initialState
	switch {
	case data.IsInRemoveState(initialState):
		dl.admitRemoveOrRestart(ops)
	case dl.canStart():
		dl.startOrQueue(ops)
	default:
		dl.setState(ops, data.StateStopped)
	}
}

// admitRemoveOrRestart is the isInRemoveState() branch of initialize:
// the state was already set to removing/restarting above, so this
// only needs to acquire (or wait for) a worker and publish once.
func (dl *Download) admitRemoveOrRestart(ops downloadOps) {
	ops.admit(dl)
	ops.publish(dl)
}

// addAction merges action into the record and re-runs initialize on
// whatever state the record now holds.
func (dl *Download) addAction(ops downloadOps, action data.Action) {
	dl.record.Merge(action)
	dl.initialize(ops, dl.record.State)
}

// remove transitions into the tear-down branch.
func (dl *Download) remove(ops downloadOps) {
	dl.initialize(ops, data.StateRemoving)
}

// start is called whenever the scheduler wants to give a Download a
// chance to acquire a worker: on startup, and when a fetch slot opens.
func (dl *Download) start(ops downloadOps) {
	switch {
	case dl.record.State == data.StateQueued || dl.record.State == data.StateDownloading:
		dl.startOrQueue(ops)
	case data.IsInRemoveState(dl.record.State):
		ops.admit(dl)
	}
}

// startOrQueue requires ¬isInRemoveState(). It is a leaf transition:
// exactly one publish.
func (dl *Download) startOrQueue(ops downloadOps) {
	switch ops.admit(dl) {
	case admitSucceeded, admitWaitCancellation:
		dl.setState(ops, data.StateDownloading)
	case admitTooMany:
		dl.setState(ops, data.StateQueued)
	case admitWaitRemoval:
		panic("scheduler: WAIT_REMOVAL_TO_FINISH returned to startOrQueue")
	}
}

func (dl *Download) setNotMetRequirements(mask uint32) {
	dl.record.NotMetRequirements = mask
}

func (dl *Download) setManualStopReason(reason int) {
	dl.record.ManualStopReason = reason
}

// updateStopState is fed by both setNotMetRequirements and
// setManualStopReason. Either branch, if taken, is itself a leaf
// publish; when neither condition holds the state is unchanged but
// the mutation still needs to be published and persisted, so it
// publishes once itself.
func (dl *Download) updateStopState(ops downloadOps) {
	switch {
	case dl.canStart() && dl.record.State == data.StateStopped:
		dl.startOrQueue(ops)
	case !dl.canStart() && (dl.record.State == data.StateDownloading || dl.record.State == data.StateQueued):
		ops.cancelActiveWorker(dl.record.ID)
		dl.setState(ops, data.StateStopped)
	default:
		ops.publish(dl)
	}
}

// onWorkerStopped is the Download-level half of onDownloadThreadStopped:
// the scheduler has already removed the worker from its table and
// adjusted simultaneousDownloads by the time this runs.
func (dl *Download) onWorkerStopped(ops downloadOps, isCanceled bool, finalErr error) {
	switch {
	case dl.isIdle():
		// Spurious: this Download already left the active branch.
		return
	case isCanceled:
		ops.admit(dl)
	case dl.record.State == data.StateRestarting:
		dl.initialize(ops, data.StateQueued)
	case dl.record.State == data.StateRemoving:
		dl.setState(ops, data.StateRemoved)
	default: // downloading
		if finalErr != nil {
			dl.record.FailureReason = data.FailureReasonUnknown
			dl.setState(ops, data.StateFailed)
		} else {
			dl.setState(ops, data.StateCompleted)
		}
	}
}

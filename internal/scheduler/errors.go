package scheduler

import "errors"

// Sentinel errors for programmer-error rejections at the API boundary
// (§7): these are never produced by a valid event sequence and are
// returned synchronously, before anything is posted to the loop.
var (
	// ErrReleased is returned by every Manager call made after Release.
	ErrReleased = errors.New("scheduler: manager released")

	// ErrInvalidStopReason is returned when stopDownload(s) is called
	// with reason == data.ManualStopReasonNone; NONE means "resume",
	// it is never a valid reason to stop.
	ErrInvalidStopReason = errors.New("scheduler: manual stop reason must not be NONE")
)

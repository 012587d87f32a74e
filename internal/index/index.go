// Package index defines the durable Index contract (C1): a
// key/value store over DownloadRecords, opaque on disk beyond the
// operations the scheduler needs.
package index

import (
	"context"

	"github.com/tinoosan/streamctl/internal/data"
)

// Index is the durable mapping from content id to record. All
// operations may raise an I/O error; per the source design, callers
// (the scheduler) log and swallow it rather than propagate it through
// the event loop.
type Index interface {
	// Get returns data.ErrNotFound if id has no record.
	Get(ctx context.Context, id string) (data.DownloadRecord, error)
	// List returns every record whose State is one of states. No
	// states filters to nothing; callers pass the full set they want.
	List(ctx context.Context, states ...data.State) ([]data.DownloadRecord, error)
	// Put upserts rec.
	Put(ctx context.Context, rec data.DownloadRecord) error
	// Delete removes the record for id, if any.
	Delete(ctx context.Context, id string) error
	// SetManualStopReason updates every stored record's manual stop
	// reason field, for §4.1's global setManualStopReason(nil, reason).
	SetManualStopReason(ctx context.Context, reason int) error
	// SetManualStopReasonByID updates a single record's manual stop
	// reason field.
	SetManualStopReasonByID(ctx context.Context, id string, reason int) error
}

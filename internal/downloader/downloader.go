// Package downloader defines the per-item worker contract (C2): a
// Downloader fetches or deletes the bytes for one content id, owned
// exclusively by the scheduler's worker goroutine for its lifetime.
package downloader

import (
	"context"

	"github.com/tinoosan/streamctl/internal/data"
)

// Downloader performs the blocking I/O for one Download. Download and
// Remove are mutually exclusive over the Downloader's lifetime — a
// factory produces one per worker, not one shared across modes.
type Downloader interface {
	// Download fetches bytes, resuming from DownloadedBytes() if the
	// implementation supports it. It blocks until done, canceled, or
	// an I/O error occurs.
	Download(ctx context.Context) error
	// Remove deletes any cached bytes for this item. Blocking.
	Remove(ctx context.Context) error
	// Cancel is idempotent and advisory-cooperative: it requests that
	// an in-flight Download or Remove exit promptly, but does not
	// guarantee synchronous termination.
	Cancel()
	// DownloadedBytes is monotonic and safe to call concurrently with
	// Download/Remove.
	DownloadedBytes() int64
	// Counters returns an opaque progress snapshot.
	Counters() data.Counters
}

// Factory creates a Downloader bound to one Action's fetch
// parameters. The scheduler calls Create once per worker.
type Factory interface {
	Create(action data.Action) (Downloader, error)
}

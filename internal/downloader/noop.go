package downloader

import (
	"context"
	"sync/atomic"

	"github.com/tinoosan/streamctl/internal/data"
)

// Noop is a Downloader that succeeds immediately without doing any
// I/O. Useful in tests of the scheduler that don't want to exercise a
// real fetch path.
type Noop struct {
	canceled atomic.Bool
	bytes    atomic.Int64
	total    int64
}

var _ Downloader = (*Noop)(nil)

func NewNoop(total int64) *Noop {
	return &Noop{total: total}
}

func (d *Noop) Download(ctx context.Context) error {
	if d.canceled.Load() {
		return nil
	}
	d.bytes.Store(d.total)
	return nil
}

func (d *Noop) Remove(ctx context.Context) error { return nil }

func (d *Noop) Cancel() { d.canceled.Store(true) }

func (d *Noop) DownloadedBytes() int64 { return d.bytes.Load() }

func (d *Noop) Counters() data.Counters {
	return data.Counters{BytesDownloaded: d.bytes.Load(), BytesTotal: d.total}
}

// NoopFactory produces Noop downloaders, ignoring the action.
type NoopFactory struct{ Total int64 }

var _ Factory = NoopFactory{}

func (f NoopFactory) Create(action data.Action) (Downloader, error) {
	return NewNoop(f.Total), nil
}

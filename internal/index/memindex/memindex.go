// Package memindex is an in-memory Index, used in tests and as the
// backend whenever INDEX_BACKEND is not "postgres".
package memindex

import (
	"context"
	"sync"

	"github.com/tinoosan/streamctl/internal/data"
	"github.com/tinoosan/streamctl/internal/index"
)

type Index struct {
	mu      sync.RWMutex
	records map[string]data.DownloadRecord
}

var _ index.Index = (*Index)(nil)

func New() *Index {
	return &Index{records: make(map[string]data.DownloadRecord)}
}

func (idx *Index) Get(ctx context.Context, id string) (data.DownloadRecord, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	rec, ok := idx.records[id]
	if !ok {
		return data.DownloadRecord{}, data.ErrNotFound
	}
	return rec.Clone(), nil
}

func (idx *Index) List(ctx context.Context, states ...data.State) ([]data.DownloadRecord, error) {
	want := make(map[data.State]struct{}, len(states))
	for _, s := range states {
		want[s] = struct{}{}
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]data.DownloadRecord, 0, len(idx.records))
	for _, rec := range idx.records {
		if _, ok := want[rec.State]; ok {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (idx *Index) Put(ctx context.Context, rec data.DownloadRecord) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.records[rec.ID] = rec.Clone()
	return nil
}

func (idx *Index) Delete(ctx context.Context, id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.records, id)
	return nil
}

func (idx *Index) SetManualStopReason(ctx context.Context, reason int) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for id, rec := range idx.records {
		rec.ManualStopReason = reason
		idx.records[id] = rec
	}
	return nil
}

func (idx *Index) SetManualStopReasonByID(ctx context.Context, id string, reason int) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	rec, ok := idx.records[id]
	if !ok {
		return data.ErrNotFound
	}
	rec.ManualStopReason = reason
	idx.records[id] = rec
	return nil
}

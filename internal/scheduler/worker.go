package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tinoosan/streamctl/internal/downloader"
	"github.com/tinoosan/streamctl/internal/metrics"
)

// runWorker is the DownloadThread of §4.4. It owns dl for its entire
// run and posts exactly one completion event back to the scheduler
// loop on exit, success or failure, canceled or not. Whether the run
// was canceled is read from aw.isCanceled once the run completes,
// rather than inferred from the downloader's return value — a
// cooperative downloader may itself return a nil error when asked to
// stop, which must not be mistaken for success.
//
// startBytes is the downloadedBytes value observed at admission time,
// used as the initial "last error position" for the retry loop's
// progress check.
func (s *Scheduler) runWorker(ctx context.Context, id string, aw *activeWorker, dlr downloader.Downloader, createErr error, startBytes int64) {
	if createErr != nil {
		s.post(func() { s.onWorkerStopped(id, false, createErr) })
		return
	}

	var finalErr error
	if aw.isRemoveWorker {
		finalErr = s.tel.InstrumentWorkerIO(ctx, "remove", func(ctx context.Context) error {
			return dlr.Remove(ctx)
		})
	} else {
		finalErr = s.runFetchWithRetry(ctx, id, dlr, startBytes, &aw.isCanceled)
	}

	isCanceled := aw.isCanceled.Load()
	if isCanceled {
		finalErr = nil
	}
	s.post(func() { s.onWorkerStopped(id, isCanceled, finalErr) })
}

// runFetchWithRetry implements the fetch worker's retry loop: linear
// backoff capped at 5s, reset on progress, permanent failure once the
// count of errors without intervening progress exceeds minRetryCount.
func (s *Scheduler) runFetchWithRetry(ctx context.Context, id string, dlr downloader.Downloader, startBytes int64, canceled *atomic.Bool) error {
	lastErrorBytes := startBytes
	errorCount := 0

	for {
		if canceled.Load() {
			return nil
		}
		err := s.tel.InstrumentWorkerIO(ctx, "fetch", func(ctx context.Context) error {
			return dlr.Download(ctx)
		})
		if canceled.Load() {
			return nil
		}
		if err == nil {
			return nil
		}

		current := dlr.DownloadedBytes()
		if current > lastErrorBytes {
			errorCount = 0
		} else {
			errorCount++
		}
		lastErrorBytes = current
		s.logger.Debug("fetch retry", "id", id, "errorCount", errorCount, "err", err)

		if errorCount > s.minRetryCount {
			return err
		}
		metrics.WorkerRetries.Inc()

		backoff := time.Duration(errorCount-1) * time.Second
		if backoff > 5*time.Second {
			backoff = 5 * time.Second
		}
		if backoff > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}
	}
}

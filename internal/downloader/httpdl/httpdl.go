// Package httpdl is a concrete HTTP Downloader (C2): it fetches each of
// an Action's streamKeys concurrently, bounded by a semaphore, and
// deletes cached bytes on Remove. Download does not resume: every call
// requests each file from the start, with no Range header.
package httpdl

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/tinoosan/streamctl/internal/data"
	"github.com/tinoosan/streamctl/internal/downloader"
	"github.com/tinoosan/streamctl/internal/downloadcfg"
)

const progressIntervalBytes = 4 * 1024 * 1024

// Factory builds httpdl Downloaders sharing a base directory, HTTP
// client, collision policy, and (optionally) an OAuth2 token source
// applied to every outgoing request.
type Factory struct {
	BaseDir     string
	MaxParallel int
	Policy      downloadcfg.CollisionPolicy
	Client      *http.Client
	TokenSource oauth2.TokenSource
	Logger      *slog.Logger
}

var _ downloader.Factory = (*Factory)(nil)

func (f *Factory) Create(action data.Action) (downloader.Downloader, error) {
	if action.URI == "" {
		return nil, fmt.Errorf("httpdl: action %s has no uri", action.ID)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	maxParallel := f.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 4
	}
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		action:      action,
		baseDir:     f.BaseDir,
		client:      client,
		policy:      f.Policy,
		tokenSource: f.TokenSource,
		maxParallel: maxParallel,
		logger:      logger.With("id", action.ID),
	}, nil
}

// Downloader is one Action's worker, created fresh per scheduler
// worker and used for exactly one Download or one Remove call.
type Downloader struct {
	action      data.Action
	baseDir     string
	client      *http.Client
	policy      downloadcfg.CollisionPolicy
	tokenSource oauth2.TokenSource
	maxParallel int
	logger      *slog.Logger

	mu       sync.Mutex
	cancelFn context.CancelFunc
	canceled atomic.Bool

	bytesDownloaded atomic.Int64
	bytesTotal      atomic.Int64
}

var _ downloader.Downloader = (*Downloader)(nil)

func (d *Downloader) targetDir() string {
	key := d.action.CacheKey
	if key == "" {
		key = d.action.ID
	}
	return filepath.Join(d.baseDir, key)
}

func (d *Downloader) Download(ctx context.Context) error {
	if d.canceled.Load() {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancelFn = cancel
	d.mu.Unlock()
	defer cancel()

	keys := d.action.StreamKeys
	if len(keys) == 0 {
		keys = []string{""}
	}
	d.bytesTotal.Store(-1)

	grp, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, d.maxParallel)
	for _, key := range keys {
		key := key
		sem <- struct{}{}
		grp.Go(func() error {
			defer func() { <-sem }()
			return d.fetchOne(ctx, key)
		})
	}
	if err := grp.Wait(); err != nil {
		if d.canceled.Load() {
			return nil
		}
		return fmt.Errorf("httpdl: download %s: %w", d.action.ID, err)
	}
	return nil
}

func (d *Downloader) fetchOne(ctx context.Context, streamKey string) error {
	target := filepath.Join(d.targetDir(), streamKeyFileName(streamKey))
	if err := d.applyCollisionPolicy(&target); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.action.URI, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if d.tokenSource != nil {
		tok, err := d.tokenSource.Token()
		if err != nil {
			return fmt.Errorf("oauth2 token: %w", err)
		}
		tok.SetAuthHeader(req)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, d.action.URI)
	}

	if resp.ContentLength > 0 {
		d.bytesTotal.Add(resp.ContentLength)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	defer out.Close()

	counted := &countingReader{r: resp.Body, onRead: func(n int) { d.bytesDownloaded.Add(int64(n)) }}
	logged := newProgressReader(counted, resp.ContentLength, progressIntervalBytes, func(written, total int64) {
		if total > 0 {
			d.logger.Debug("download progress", "stream_key", streamKey, "downloaded", humanize.Bytes(uint64(written)), "total", humanize.Bytes(uint64(total)))
		} else {
			d.logger.Debug("download progress", "stream_key", streamKey, "downloaded", humanize.Bytes(uint64(written)))
		}
	})

	if _, err := io.Copy(out, logged); err != nil {
		return fmt.Errorf("copy %s: %w", target, err)
	}
	return nil
}

func (d *Downloader) applyCollisionPolicy(target *string) error {
	_, err := os.Stat(*target)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	switch d.policy {
	case downloadcfg.CollisionOverwrite, "":
		return nil
	case downloadcfg.CollisionRename:
		*target = *target + ".1"
		return nil
	case downloadcfg.CollisionError:
		fallthrough
	default:
		return fmt.Errorf("target %s already exists", *target)
	}
}

func streamKeyFileName(streamKey string) string {
	if streamKey == "" {
		return "content"
	}
	return streamKey
}

func (d *Downloader) Remove(ctx context.Context) error {
	if err := os.RemoveAll(d.targetDir()); err != nil {
		return fmt.Errorf("httpdl: remove %s: %w", d.action.ID, err)
	}
	return nil
}

func (d *Downloader) Cancel() {
	d.canceled.Store(true)
	d.mu.Lock()
	cancel := d.cancelFn
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (d *Downloader) DownloadedBytes() int64 { return d.bytesDownloaded.Load() }

func (d *Downloader) Counters() data.Counters {
	return data.Counters{
		BytesDownloaded: d.bytesDownloaded.Load(),
		BytesTotal:      d.bytesTotal.Load(),
	}
}

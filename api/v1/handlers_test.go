package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/tinoosan/streamctl/internal/data"
	"github.com/tinoosan/streamctl/internal/downloader"
	"github.com/tinoosan/streamctl/internal/index/memindex"
	"github.com/tinoosan/streamctl/internal/scheduler"
)

// stateCapture is a scheduler.Listener that remembers the latest
// OnDownloadStateChanged record per id. Needed because finished
// downloads are evicted from the Manager's own snapshot the instant
// they're published (mirroring the source's notifyListenersDownloadStateChange),
// so a terminal state can only be observed through the listener feed,
// not by polling GetDownloadState afterwards.
type stateCapture struct {
	scheduler.BaseListener
	mu   sync.Mutex
	last map[string]data.DownloadRecord
}

func newStateCapture() *stateCapture {
	return &stateCapture{last: make(map[string]data.DownloadRecord)}
}

func (c *stateCapture) OnDownloadStateChanged(rec data.DownloadRecord) {
	c.mu.Lock()
	c.last[rec.ID] = rec
	c.mu.Unlock()
}

func (c *stateCapture) get(id string) (data.DownloadRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.last[id]
	return rec, ok
}

// blockingDownloader blocks Download until proceed is closed, letting
// a test observe a record while it's still in-flight before letting it
// reach a terminal state.
type blockingDownloader struct {
	proceed chan struct{}
}

func newBlockingDownloader() *blockingDownloader {
	return &blockingDownloader{proceed: make(chan struct{})}
}

func (d *blockingDownloader) Download(ctx context.Context) error {
	select {
	case <-d.proceed:
		return nil
	case <-ctx.Done():
		return nil
	}
}
func (d *blockingDownloader) Remove(ctx context.Context) error { return nil }
func (d *blockingDownloader) Cancel()                          {}
func (d *blockingDownloader) DownloadedBytes() int64           { return 0 }
func (d *blockingDownloader) Counters() data.Counters {
	return data.Counters{BytesDownloaded: 0, BytesTotal: -1}
}

var _ downloader.Downloader = (*blockingDownloader)(nil)

type blockingFactory struct {
	mu   sync.Mutex
	byID map[string]*blockingDownloader
}

func newBlockingFactory() *blockingFactory {
	return &blockingFactory{byID: make(map[string]*blockingDownloader)}
}

func (f *blockingFactory) Create(action data.Action) (downloader.Downloader, error) {
	d := newBlockingDownloader()
	f.mu.Lock()
	f.byID[action.ID] = d
	f.mu.Unlock()
	return d, nil
}

func (f *blockingFactory) get(id string) *blockingDownloader {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id]
}

var _ downloader.Factory = (*blockingFactory)(nil)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	h, _ := newTestHandlerWithCapture(t, downloader.NoopFactory{Total: -1})
	return h
}

func newTestHandlerWithCapture(t *testing.T, factory downloader.Factory) (*Handler, *stateCapture) {
	t.Helper()
	mgr := scheduler.New(scheduler.Config{
		Index:   memindex.New(),
		Factory: factory,
	})
	t.Cleanup(mgr.Release)
	cap := newStateCapture()
	mgr.AddListener(cap)
	return NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), mgr, nil), cap
}

// waitForState polls cap (not Manager.GetDownloadState) since a
// terminal want is evicted from the Manager's snapshot the moment
// it's published.
func waitForState(t *testing.T, cap *stateCapture, id string, want data.State) data.DownloadRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec, ok := cap.get(id); ok && rec.State == want {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s to reach %s", id, want)
	return data.DownloadRecord{}
}

func withRoute(r *http.Request, key, val string) *http.Request {
	return mux.SetURLVars(r, map[string]string{key: val})
}

func TestHandler_AddAndGetDownload(t *testing.T) {
	factory := newBlockingFactory()
	h, cap := newTestHandlerWithCapture(t, factory)

	body, _ := json.Marshal(addDownloadRequest{ID: "a", Type: "video", URI: "http://x/a"})
	req := httptest.NewRequest(http.MethodPost, "/v1/downloads", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.AddDownload(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("AddDownload: expected 202 got %d: %s", rr.Code, rr.Body.String())
	}

	waitForState(t, cap, "a", data.StateDownloading)

	getReq := withRoute(httptest.NewRequest(http.MethodGet, "/v1/downloads/a", nil), "id", "a")
	getRR := httptest.NewRecorder()
	h.GetDownload(getRR, getReq)
	if getRR.Code != http.StatusOK {
		t.Fatalf("GetDownload: expected 200 got %d", getRR.Code)
	}
	var rec data.DownloadRecord
	if err := json.Unmarshal(getRR.Body.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.ID != "a" {
		t.Fatalf("expected id 'a' got %q", rec.ID)
	}

	close(factory.get("a").proceed)
	waitForState(t, cap, "a", data.StateCompleted)

	getRR2 := httptest.NewRecorder()
	h.GetDownload(getRR2, getReq)
	if getRR2.Code != http.StatusNotFound {
		t.Fatalf("GetDownload after completion: expected 404 (terminal record evicted) got %d", getRR2.Code)
	}
}

func TestHandler_AddDownload_MissingFields(t *testing.T) {
	h := newTestHandler(t)

	body, _ := json.Marshal(addDownloadRequest{ID: "a"})
	req := httptest.NewRequest(http.MethodPost, "/v1/downloads", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.AddDownload(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestHandler_GetDownload_NotFound(t *testing.T) {
	h := newTestHandler(t)

	req := withRoute(httptest.NewRequest(http.MethodGet, "/v1/downloads/missing", nil), "id", "missing")
	rr := httptest.NewRecorder()
	h.GetDownload(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestHandler_ListDownloads(t *testing.T) {
	factory := newBlockingFactory()
	h, cap := newTestHandlerWithCapture(t, factory)

	for _, id := range []string{"a", "b"} {
		body, _ := json.Marshal(addDownloadRequest{ID: id, Type: "video", URI: "http://x/" + id})
		req := httptest.NewRequest(http.MethodPost, "/v1/downloads", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		h.AddDownload(rr, req)
	}
	// The default cap is one simultaneous download, so b waits in
	// queued while a holds the only fetch slot.
	waitForState(t, cap, "a", data.StateDownloading)
	waitForState(t, cap, "b", data.StateQueued)

	req := httptest.NewRequest(http.MethodGet, "/v1/downloads", nil)
	rr := httptest.NewRecorder()
	h.ListDownloads(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	var recs []data.DownloadRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records got %d", len(recs))
	}

	close(factory.get("a").proceed)
	waitForState(t, cap, "a", data.StateCompleted)
	waitForState(t, cap, "b", data.StateDownloading)
	close(factory.get("b").proceed)
	waitForState(t, cap, "b", data.StateCompleted)

	rr2 := httptest.NewRecorder()
	h.ListDownloads(rr2, req)
	var recs2 []data.DownloadRecord
	if err := json.Unmarshal(rr2.Body.Bytes(), &recs2); err != nil {
		t.Fatal(err)
	}
	if len(recs2) != 0 {
		t.Fatalf("expected finished downloads evicted from the list, got %d", len(recs2))
	}
}

func TestHandler_StopAndStartDownload(t *testing.T) {
	h, cap := newTestHandlerWithCapture(t, downloader.NoopFactory{Total: -1})

	body, _ := json.Marshal(addDownloadRequest{ID: "a", Type: "video", URI: "http://x/a"})
	addReq := httptest.NewRequest(http.MethodPost, "/v1/downloads", bytes.NewReader(body))
	addReq.Header.Set("Content-Type", "application/json")
	h.AddDownload(httptest.NewRecorder(), addReq)
	waitForState(t, cap, "a", data.StateCompleted)

	stopBody, _ := json.Marshal(stopRequest{Reason: data.ManualStopReasonUndefined})
	stopReq := withRoute(httptest.NewRequest(http.MethodPost, "/v1/downloads/a/stop", bytes.NewReader(stopBody)), "id", "a")
	stopReq.Header.Set("Content-Type", "application/json")
	stopRR := httptest.NewRecorder()
	h.StopDownload(stopRR, stopReq)
	if stopRR.Code != http.StatusAccepted {
		t.Fatalf("StopDownload: expected 202 got %d: %s", stopRR.Code, stopRR.Body.String())
	}

	startReq := withRoute(httptest.NewRequest(http.MethodPost, "/v1/downloads/a/start", nil), "id", "a")
	startRR := httptest.NewRecorder()
	h.StartDownload(startRR, startReq)
	if startRR.Code != http.StatusAccepted {
		t.Fatalf("StartDownload: expected 202 got %d: %s", startRR.Code, startRR.Body.String())
	}
}

func TestHandler_StopDownload_RejectsZeroReason(t *testing.T) {
	h := newTestHandler(t)

	stopBody, _ := json.Marshal(stopRequest{Reason: data.ManualStopReasonNone})
	stopReq := withRoute(httptest.NewRequest(http.MethodPost, "/v1/downloads/a/stop", bytes.NewReader(stopBody)), "id", "a")
	stopReq.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.StopDownload(rr, stopReq)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestHandler_SetRequirements(t *testing.T) {
	h := newTestHandler(t)

	body, _ := json.Marshal(data.Requirements{NetworkRequired: true})
	req := httptest.NewRequest(http.MethodPut, "/v1/requirements", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.SetRequirements(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandler_HealthzAndReadyz(t *testing.T) {
	h := newTestHandler(t)

	hzRR := httptest.NewRecorder()
	h.Healthz(hzRR, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if hzRR.Code != http.StatusOK {
		t.Fatalf("Healthz: expected 200 got %d", hzRR.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !h.mgr.IsInitialized() {
		time.Sleep(5 * time.Millisecond)
	}
	rzRR := httptest.NewRecorder()
	h.Readyz(rzRR, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rzRR.Code != http.StatusOK {
		t.Fatalf("Readyz: expected 200 got %d", rzRR.Code)
	}
}

func TestHandler_RemoveDownload(t *testing.T) {
	h, cap := newTestHandlerWithCapture(t, downloader.NoopFactory{Total: -1})

	body, _ := json.Marshal(addDownloadRequest{ID: "a", Type: "video", URI: "http://x/a"})
	addReq := httptest.NewRequest(http.MethodPost, "/v1/downloads", bytes.NewReader(body))
	addReq.Header.Set("Content-Type", "application/json")
	h.AddDownload(httptest.NewRecorder(), addReq)
	waitForState(t, cap, "a", data.StateCompleted)

	delReq := withRoute(httptest.NewRequest(http.MethodDelete, "/v1/downloads/a", nil), "id", "a")
	delRR := httptest.NewRecorder()
	h.RemoveDownload(delRR, delReq)
	if delRR.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d", delRR.Code)
	}
	waitForState(t, cap, "a", data.StateRemoved)

	if _, ok := h.mgr.GetDownloadState("a"); ok {
		t.Fatal("expected removed download to be evicted from the tracked snapshot")
	}
}

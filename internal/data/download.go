// Package data defines the core record and action types shared by the
// index, scheduler, and downloader packages.
package data

import (
	"encoding/json"
	"errors"
	"io"
)

// State is the lifecycle state of a Download; the transitions between
// states are implemented by the scheduler package.
type State string

const (
	StateQueued      State = "queued"
	StateStopped     State = "stopped"
	StateDownloading State = "downloading"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateRemoving    State = "removing"
	StateRestarting  State = "restarting"
	StateRemoved     State = "removed"
)

// IsFinished reports whether s is a terminal state.
func IsFinished(s State) bool {
	return s == StateFailed || s == StateCompleted || s == StateRemoved
}

// IsInRemoveState reports whether s belongs to the tear-down branch
// of the state machine.
func IsInRemoveState(s State) bool {
	return s == StateRemoving || s == StateRestarting
}

// FailureReason mirrors the source's single defined failure reason;
// the zero value means "not applicable".
type FailureReason int

const (
	FailureReasonNone    FailureReason = 0
	FailureReasonUnknown FailureReason = 1
)

// Manual stop reason constants. NONE means "may run"; UNDEFINED is a
// reserved sentinel meaning "stopped without a specific reason"; any
// other positive value is application-defined and must not equal NONE.
const (
	ManualStopReasonNone      = 0
	ManualStopReasonUndefined = 1
)

// Counters is the opaque, non-durable progress snapshot returned by a
// Downloader. Total is -1 when the downloader cannot report a
// content length up front.
type Counters struct {
	BytesDownloaded int64 `json:"bytesDownloaded"`
	BytesTotal      int64 `json:"bytesTotal"`
}

// Requirements describes the OS-level preconditions the shipped
// network watcher understands. Charging and idle are always reported
// met — a headless service has no hook for either.
type Requirements struct {
	NetworkRequired bool
	RequireCharging bool
	RequireIdle     bool
}

// Bits of the not-met-requirements mask.
const (
	ReqNetwork uint32 = 1 << iota
	ReqCharging
	ReqIdle
)

// DownloadRecord is the persisted, durable unit: one row per content
// id. It is rematerialized from a Download's in-memory fields plus
// wall-clock time whenever the Download publishes.
type DownloadRecord struct {
	ID                 string        `json:"id"`
	Type               string        `json:"type"`
	URI                string        `json:"uri"`
	CacheKey           string        `json:"cacheKey"`
	StreamKeys         []string      `json:"streamKeys"`
	CustomMetadata     []byte        `json:"customMetadata,omitempty"`
	State              State         `json:"state"`
	FailureReason      FailureReason `json:"failureReason"`
	NotMetRequirements uint32        `json:"notMetRequirements"`
	ManualStopReason   int           `json:"manualStopReason"`
	StartTimeMs        int64         `json:"startTimeMs"`
	UpdateTimeMs       int64         `json:"updateTimeMs"`
	Counters           Counters      `json:"counters"`
}

// Clone returns a copy safe to hand to a caller outside the
// scheduler loop.
func (r DownloadRecord) Clone() DownloadRecord {
	out := r
	if r.StreamKeys != nil {
		out.StreamKeys = append([]string(nil), r.StreamKeys...)
	}
	if r.CustomMetadata != nil {
		out.CustomMetadata = append([]byte(nil), r.CustomMetadata...)
	}
	return out
}

// Action is the merge input accepted by addDownload: a request to
// create or update the fetch parameters of a content id.
type Action struct {
	ID             string
	Type           string
	URI            string
	StreamKeys     []string
	CacheKey       string
	CustomMetadata []byte
}

// Merge unions streamKeys and replaces fetch parameters on the
// receiver in place. A type mismatch is reported to the caller for
// logging but never aborts the merge.
func (r *DownloadRecord) Merge(a Action) (typeMismatch bool) {
	if r.Type != "" && a.Type != "" && r.Type != a.Type {
		typeMismatch = true
	}
	r.Type = a.Type
	r.URI = a.URI
	r.CacheKey = a.CacheKey
	r.CustomMetadata = a.CustomMetadata
	r.StreamKeys = unionStrings(r.StreamKeys, a.StreamKeys)
	return typeMismatch
}

func unionStrings(existing, added []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(added))
	out := make([]string, 0, len(existing)+len(added))
	for _, s := range existing {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range added {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// NewRecord constructs a fresh queued record from an Action at the
// given wall-clock time, in milliseconds since the epoch.
func NewRecord(a Action, nowMs int64) DownloadRecord {
	return DownloadRecord{
		ID:             a.ID,
		Type:           a.Type,
		URI:            a.URI,
		CacheKey:       a.CacheKey,
		StreamKeys:     append([]string(nil), a.StreamKeys...),
		CustomMetadata: a.CustomMetadata,
		State:          StateQueued,
		StartTimeMs:    nowMs,
		UpdateTimeMs:   nowMs,
	}
}

// ErrNotFound is returned by an Index when no record exists for an id.
var ErrNotFound = errors.New("data: download not found")

func (r DownloadRecord) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(r) }

func (r *DownloadRecord) FromJSON(rd io.Reader) error { return json.NewDecoder(rd).Decode(r) }

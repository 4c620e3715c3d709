package batch

import (
	"time"

	"github.com/google/uuid"

	"image-compressor-go/internal/config"
)

// Status is the lifecycle state of a record. Transitions are strictly
// Pending -> Running -> one of Done/Failed/Skipped, except that a Pending
// record may move straight to Skipped on cancellation.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Terminal reports whether no further transitions occur from the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// Record tracks one input file through the batch. A record is owned by at
// most one worker while Running; everyone else sees it only through the
// committed copies returned by the Batch store.
type Record struct {
	ID              uuid.UUID     `json:"id"`
	SourcePath      string        `json:"source_path"`
	Status          Status        `json:"status"`
	OriginalSize    int64         `json:"original_size"`
	CompressedSize  int64         `json:"compressed_size,omitempty"`
	OutputPath      string        `json:"output_path,omitempty"`
	EffectiveFormat config.Format `json:"effective_format,omitempty"`
	KeptOriginal    bool          `json:"kept_original,omitempty"`
	ErrKind         string        `json:"error_kind,omitempty"`
	ErrMessage      string        `json:"error_message,omitempty"`
	AddedAt         time.Time     `json:"added_at"`
	FinishedAt      time.Time     `json:"finished_at,omitempty"`
}

// BytesSaved returns how many bytes the compression saved for a Done record.
func (r *Record) BytesSaved() int64 {
	if r.Status != StatusDone || r.CompressedSize <= 0 {
		return 0
	}
	return r.OriginalSize - r.CompressedSize
}

// Event is a progress notification produced by a worker and consumed by the
// single event sink. Events for the same record are strictly ordered; events
// across records are not.
type Event struct {
	RecordID        uuid.UUID     `json:"record_id"`
	SourcePath      string        `json:"source_path"`
	Status          Status        `json:"status"`
	OriginalSize    int64         `json:"original_size,omitempty"`
	CompressedSize  int64         `json:"compressed_size,omitempty"`
	OutputPath      string        `json:"output_path,omitempty"`
	EffectiveFormat config.Format `json:"effective_format,omitempty"`
	KeptOriginal    bool          `json:"kept_original,omitempty"`
	ErrKind         string        `json:"error_kind,omitempty"`
	ErrMessage      string        `json:"error_message,omitempty"`
	Timestamp       time.Time     `json:"timestamp"`
}

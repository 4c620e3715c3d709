// Package batch holds the per-file records of a compression run and the
// progress events that move them through their lifecycle.
package batch

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Batch is the set of records submitted together for processing. Records are
// mutated only through Apply, called from the single event sink consumer, so
// readers never observe a half-written size/status combination.
type Batch struct {
	mu      sync.RWMutex
	records []*Record
	byID    map[uuid.UUID]*Record
	byPath  map[string]*Record
}

// New returns an empty batch.
func New() *Batch {
	return &Batch{
		byID:   make(map[uuid.UUID]*Record),
		byPath: make(map[string]*Record),
	}
}

// Add registers a new input file and returns a copy of its record. Each
// source path gets exactly one record; adding the same path again is an error.
func (b *Batch) Add(sourcePath string) (Record, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return Record{}, fmt.Errorf("stat input file: %w", err)
	}
	if info.IsDir() {
		return Record{}, fmt.Errorf("input is a directory: %s", sourcePath)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.byPath[sourcePath]; exists {
		return Record{}, fmt.Errorf("file already in batch: %s", sourcePath)
	}

	rec := &Record{
		ID:           uuid.New(),
		SourcePath:   sourcePath,
		Status:       StatusPending,
		OriginalSize: info.Size(),
		AddedAt:      time.Now(),
	}
	b.records = append(b.records, rec)
	b.byID[rec.ID] = rec
	b.byPath[sourcePath] = rec
	return *rec, nil
}

// Len returns the number of records in the batch.
func (b *Batch) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}

// Records returns committed copies of all records in insertion order.
func (b *Batch) Records() []Record {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Record, len(b.records))
	for i, rec := range b.records {
		out[i] = *rec
	}
	return out
}

// Get returns a committed copy of the record with the given id.
func (b *Batch) Get(id uuid.UUID) (Record, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.byID[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Apply commits an event to its record and returns the updated copy. The
// status transition is validated so a terminal record can never regress and
// no record is processed twice.
func (b *Batch) Apply(ev Event) (Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.byID[ev.RecordID]
	if !ok {
		return Record{}, fmt.Errorf("unknown record: %s", ev.RecordID)
	}
	if err := validTransition(rec.Status, ev.Status); err != nil {
		return Record{}, fmt.Errorf("record %s: %w", ev.RecordID, err)
	}

	rec.Status = ev.Status
	if ev.OriginalSize > 0 {
		rec.OriginalSize = ev.OriginalSize
	}
	if ev.Status == StatusDone {
		rec.CompressedSize = ev.CompressedSize
		rec.OutputPath = ev.OutputPath
		rec.EffectiveFormat = ev.EffectiveFormat
		rec.KeptOriginal = ev.KeptOriginal
	}
	if ev.Status == StatusFailed {
		rec.ErrKind = ev.ErrKind
		rec.ErrMessage = ev.ErrMessage
	}
	if ev.Status.Terminal() {
		rec.FinishedAt = ev.Timestamp
	}
	return *rec, nil
}

func validTransition(from, to Status) error {
	ok := false
	switch from {
	case StatusPending:
		ok = to == StatusPending || to == StatusRunning || to == StatusSkipped
	case StatusRunning:
		ok = to.Terminal()
	}
	if !ok {
		return fmt.Errorf("invalid status transition %s -> %s", from, to)
	}
	return nil
}

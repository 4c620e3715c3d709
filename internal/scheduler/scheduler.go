// Package scheduler dispatches batch records to a bounded pool of workers
// and delivers their progress events to a single consumer.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"image-compressor-go/internal/batch"
	"image-compressor-go/internal/config"
	"image-compressor-go/internal/logger"
	"image-compressor-go/internal/pipeline"
	"image-compressor-go/internal/resolver"
	"image-compressor-go/internal/statistics"
)

// Callbacks are what the core exposes to the presentation layer. Both are
// invoked from the single event sink goroutine, never from workers, so the
// embedding UI needs no locking of its own.
type Callbacks struct {
	OnRecordStatusChanged func(rec batch.Record, ev batch.Event)
	OnBatchComplete       func(summary statistics.Summary)
}

// Scheduler runs one batch at a time through a fixed-size worker pool.
type Scheduler struct {
	cfg       *config.Config
	log       *logrus.Logger
	callbacks Callbacks
}

// New returns a Scheduler.
func New(cfg *config.Config, log *logrus.Logger, cb Callbacks) *Scheduler {
	return &Scheduler{cfg: cfg, log: log, callbacks: cb}
}

// Run processes every record of the batch exactly once and blocks until all
// terminal events have been consumed. Cancelling the context stops dispatch
// immediately; in-flight files abort at their next pipeline checkpoint and
// everything not yet terminal settles as Skipped.
func (s *Scheduler) Run(ctx context.Context, b *batch.Batch) (statistics.Summary, error) {
	records := b.Records()

	stats := statistics.NewStatistics()
	stats.SetTotalRecords(int64(len(records)))

	if len(records) == 0 {
		stats.Finalize()
		summary := stats.GetSummary()
		if s.callbacks.OnBatchComplete != nil {
			s.callbacks.OnBatchComplete(summary)
		}
		return summary, nil
	}

	if err := s.cfg.Compression.ValidateOutputDir(); err != nil {
		return stats.GetSummary(), fmt.Errorf("prepare output directory: %w", err)
	}

	// Every record emits at most Pending+Running+terminal, so the channel
	// can hold the whole batch and producers never block on a slow consumer.
	events := make(chan batch.Event, 3*len(records))

	pipe := pipeline.New(s.cfg.Compression, resolver.New(), s.log)

	jobs := make(chan batch.Record, len(records))
	for _, rec := range records {
		events <- statusEvent(rec, batch.StatusPending)
		jobs <- rec
	}
	close(jobs)

	workers := s.cfg.Workers()
	if workers > len(records) {
		workers = len(records)
	}
	s.log.Infof("Starting batch of %d files with %d workers", len(records), workers)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			s.worker(ctx, pipe, jobs, events)
		}()
	}

	go func() {
		wg.Wait()
		close(events)
	}()

	s.consume(b, events, stats)

	stats.Finalize()
	summary := stats.GetSummary()
	s.log.Infof("Batch complete: %d done, %d failed, %d skipped, %s saved",
		summary.Done, summary.Failed, summary.Skipped, statistics.FormatBytes(summary.BytesSaved))
	s.log.Debug(stats.FormatSummary())
	if summary.Failed > 0 {
		s.log.Warn(stats.GetErrorSummary())
		s.log.Debug(stats.GetErrorKindBreakdown())
	}

	if s.callbacks.OnBatchComplete != nil {
		s.callbacks.OnBatchComplete(summary)
	}
	return summary, nil
}

// worker owns one record at a time from its Running event to its terminal
// event. Records claimed after cancellation go straight to Skipped.
func (s *Scheduler) worker(ctx context.Context, pipe *pipeline.Pipeline, jobs <-chan batch.Record, events chan<- batch.Event) {
	for rec := range jobs {
		if ctx.Err() != nil {
			events <- statusEvent(rec, batch.StatusSkipped)
			continue
		}

		events <- statusEvent(rec, batch.StatusRunning)

		result, err := pipe.Process(ctx, rec.SourcePath)
		switch {
		case err == nil:
			events <- doneEvent(rec, result)
		case pipeline.KindOf(err) == "":
			// Aborted at a cancellation checkpoint; no partial results.
			events <- statusEvent(rec, batch.StatusSkipped)
		default:
			events <- failedEvent(rec, err)
		}
	}
}

// consume is the single event sink: it commits each event to the store in
// arrival order, updates counters, and forwards the committed record to the
// presentation callback.
func (s *Scheduler) consume(b *batch.Batch, events <-chan batch.Event, stats *statistics.Statistics) {
	for ev := range events {
		rec, err := b.Apply(ev)
		if err != nil {
			s.log.Errorf("Dropping inconsistent event: %v", err)
			continue
		}

		switch ev.Status {
		case batch.StatusDone:
			stats.IncrementDone()
			stats.AddBytes(ev.OriginalSize, ev.CompressedSize)
			if ev.KeptOriginal {
				stats.IncrementFellBack()
			}
			logger.WithFile(s.log, ev.SourcePath).Infof("Compressed to %s (%s -> %s)",
				ev.OutputPath,
				statistics.FormatBytes(ev.OriginalSize), statistics.FormatBytes(ev.CompressedSize))
		case batch.StatusFailed:
			stats.IncrementFailed()
			stats.IncrementErrorKind(ev.ErrKind)
			stats.AddError(ev.SourcePath, ev.ErrKind, ev.ErrMessage)
			logger.WithFile(s.log, ev.SourcePath).Warnf("Failed: %s: %s", ev.ErrKind, ev.ErrMessage)
		case batch.StatusSkipped:
			stats.IncrementSkipped()
			logger.WithFile(s.log, ev.SourcePath).Debug("Skipped")
		}

		if s.callbacks.OnRecordStatusChanged != nil {
			s.callbacks.OnRecordStatusChanged(rec, ev)
		}
	}
}

func statusEvent(rec batch.Record, status batch.Status) batch.Event {
	return batch.Event{
		RecordID:     rec.ID,
		SourcePath:   rec.SourcePath,
		Status:       status,
		OriginalSize: rec.OriginalSize,
		Timestamp:    time.Now(),
	}
}

func doneEvent(rec batch.Record, result pipeline.Result) batch.Event {
	size := result.CompressedSize
	if result.KeptOriginal {
		size = result.OriginalSize
	}
	return batch.Event{
		RecordID:        rec.ID,
		SourcePath:      rec.SourcePath,
		Status:          batch.StatusDone,
		OriginalSize:    result.OriginalSize,
		CompressedSize:  size,
		OutputPath:      result.OutputPath,
		EffectiveFormat: result.EffectiveFormat,
		KeptOriginal:    result.KeptOriginal,
		Timestamp:       time.Now(),
	}
}

func failedEvent(rec batch.Record, err error) batch.Event {
	return batch.Event{
		RecordID:     rec.ID,
		SourcePath:   rec.SourcePath,
		Status:       batch.StatusFailed,
		OriginalSize: rec.OriginalSize,
		ErrKind:      string(pipeline.KindOf(err)),
		ErrMessage:   err.Error(),
		Timestamp:    time.Now(),
	}
}

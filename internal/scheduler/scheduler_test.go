package scheduler

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-compressor-go/internal/batch"
	"image-compressor-go/internal/config"
	"image-compressor-go/internal/statistics"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testConfig(outDir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Compression.Format = config.FormatPNG
	cfg.Compression.OutputDir = outDir
	cfg.Performance.WorkerThreads = 2
	return cfg
}

func noiseImage(width, height int) image.Image {
	rng := rand.New(rand.NewSource(7))
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}
	return img
}

func writeImage(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, imaging.Save(noiseImage(48, 48), path))
	return path
}

// eventRecorder collects callback invocations. The scheduler promises to call
// both callbacks from a single goroutine, but the mutex keeps the test honest
// if that ever breaks.
type eventRecorder struct {
	mu        sync.Mutex
	events    []batch.Event
	summaries []statistics.Summary
}

func (r *eventRecorder) callbacks() Callbacks {
	return Callbacks{
		OnRecordStatusChanged: func(rec batch.Record, ev batch.Event) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, ev)
		},
		OnBatchComplete: func(summary statistics.Summary) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.summaries = append(r.summaries, summary)
		},
	}
}

func (r *eventRecorder) byRecord() map[uuid.UUID][]batch.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uuid.UUID][]batch.Status)
	for _, ev := range r.events {
		out[ev.RecordID] = append(out[ev.RecordID], ev.Status)
	}
	return out
}

func TestRun_AllDone(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	b := batch.New()
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		_, err := b.Add(writeImage(t, srcDir, name))
		require.NoError(t, err)
	}

	rec := &eventRecorder{}
	s := New(testConfig(outDir), testLogger(), rec.callbacks())

	summary, err := s.Run(context.Background(), b)
	require.NoError(t, err)

	assert.Equal(t, int64(3), summary.Total)
	assert.Equal(t, int64(3), summary.Done)
	assert.Zero(t, summary.Failed)
	assert.Zero(t, summary.Skipped)
	assert.Positive(t, summary.BytesIn)
	assert.Positive(t, summary.BytesOut)

	for _, r := range b.Records() {
		assert.Equal(t, batch.StatusDone, r.Status)
		assert.Equal(t, ".png", filepath.Ext(r.OutputPath))
		assert.FileExists(t, r.OutputPath)
	}

	require.Len(t, rec.summaries, 1)
	assert.Equal(t, summary, rec.summaries[0])
}

func TestRun_FailureDoesNotAbortBatch(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	broken := filepath.Join(srcDir, "broken.jpg")
	require.NoError(t, os.WriteFile(broken, []byte("not an image"), 0644))

	b := batch.New()
	_, err := b.Add(writeImage(t, srcDir, "ok1.jpg"))
	require.NoError(t, err)
	_, err = b.Add(broken)
	require.NoError(t, err)
	_, err = b.Add(writeImage(t, srcDir, "ok2.jpg"))
	require.NoError(t, err)

	log, hook := logtest.NewNullLogger()

	rec := &eventRecorder{}
	s := New(testConfig(outDir), log, rec.callbacks())

	summary, err := s.Run(context.Background(), b)
	require.NoError(t, err)

	assert.Equal(t, int64(2), summary.Done)
	assert.Equal(t, int64(1), summary.Failed)

	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Data["file"] == broken {
			warned = true
		}
	}
	assert.True(t, warned)

	var failed batch.Record
	for _, r := range b.Records() {
		if r.Status == batch.StatusFailed {
			failed = r
		}
	}
	assert.Equal(t, broken, failed.SourcePath)
	assert.Equal(t, "DecodeError", failed.ErrKind)
	assert.NotEmpty(t, failed.ErrMessage)
}

func TestRun_DuplicateBasenames(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	outDir := t.TempDir()

	b := batch.New()
	_, err := b.Add(writeImage(t, dirA, "photo.jpg"))
	require.NoError(t, err)
	_, err = b.Add(writeImage(t, dirB, "photo.jpg"))
	require.NoError(t, err)

	s := New(testConfig(outDir), testLogger(), Callbacks{})
	summary, err := s.Run(context.Background(), b)
	require.NoError(t, err)
	require.Equal(t, int64(2), summary.Done)

	outputs := make(map[string]struct{})
	for _, r := range b.Records() {
		outputs[r.OutputPath] = struct{}{}
		assert.FileExists(t, r.OutputPath)
	}
	assert.Len(t, outputs, 2)
	assert.Contains(t, outputs, filepath.Join(outDir, "photo.png"))
	assert.Contains(t, outputs, filepath.Join(outDir, "photo (1).png"))
}

func TestRun_PreCancelledContextSkipsEverything(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()

	b := batch.New()
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg"} {
		_, err := b.Add(writeImage(t, srcDir, name))
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &eventRecorder{}
	s := New(testConfig(outDir), testLogger(), rec.callbacks())

	summary, err := s.Run(ctx, b)
	require.NoError(t, err)

	assert.Zero(t, summary.Done)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, int64(4), summary.Skipped)

	for _, r := range b.Records() {
		assert.Equal(t, batch.StatusSkipped, r.Status)
	}

	// No record ever started running.
	for _, statuses := range rec.byRecord() {
		assert.NotContains(t, statuses, batch.StatusRunning)
	}

	// Nothing was written.
	entries, readErr := os.ReadDir(outDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestRun_EventOrderingPerRecord(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()

	b := batch.New()
	for i := 0; i < 6; i++ {
		_, err := b.Add(writeImage(t, srcDir, fmt.Sprintf("img%d.jpg", i)))
		require.NoError(t, err)
	}

	rec := &eventRecorder{}
	s := New(testConfig(outDir), testLogger(), rec.callbacks())

	_, err := s.Run(context.Background(), b)
	require.NoError(t, err)

	perRecord := rec.byRecord()
	assert.Len(t, perRecord, b.Len())
	for id, statuses := range perRecord {
		require.Equal(t, []batch.Status{batch.StatusPending, batch.StatusRunning, batch.StatusDone},
			statuses, "record %s", id)
	}
}

func TestRun_EmptyBatch(t *testing.T) {
	rec := &eventRecorder{}
	s := New(testConfig(t.TempDir()), testLogger(), rec.callbacks())

	summary, err := s.Run(context.Background(), batch.New())
	require.NoError(t, err)

	assert.Zero(t, summary.Total)
	assert.Zero(t, summary.Done)
	require.Len(t, rec.summaries, 1)
	assert.Empty(t, rec.events)
}

func TestRun_SizeGuardReportedInSummary(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()

	// A flat PNG re-encoded as BMP always grows, forcing the original bytes
	// to be kept.
	src := filepath.Join(srcDir, "flat.png")
	require.NoError(t, imaging.Save(imaging.New(64, 64, color.NRGBA{R: 1, G: 2, B: 3, A: 255}), src))

	b := batch.New()
	added, err := b.Add(src)
	require.NoError(t, err)

	cfg := testConfig(outDir)
	cfg.Compression.Format = config.FormatBMP

	s := New(cfg, testLogger(), Callbacks{})
	summary, err := s.Run(context.Background(), b)
	require.NoError(t, err)

	assert.Equal(t, int64(1), summary.Done)
	assert.Zero(t, summary.BytesSaved)

	got, ok := b.Get(added.ID)
	require.True(t, ok)
	assert.True(t, got.KeptOriginal)
	assert.Equal(t, got.OriginalSize, got.CompressedSize)
	assert.Equal(t, config.FormatPNG, got.EffectiveFormat)
	assert.Equal(t, ".bmp", filepath.Ext(got.OutputPath))
}

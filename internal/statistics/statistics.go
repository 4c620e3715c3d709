package statistics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Statistics accumulates counters for one batch run. Counters are atomic so
// the event sink can update them while the presentation layer reads
// snapshots through the getters.
type Statistics struct {
	TotalRecords    int64
	FilesDone       int64
	FilesFailed     int64
	FilesSkipped    int64
	FilesFellBack   int64
	BytesOriginal   int64
	BytesCompressed int64

	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	FilesPerSecond float64

	mutex sync.RWMutex

	ErrorKindStats map[string]int64

	Errors []FileError
}

// FileError records one per-file failure.
type FileError struct {
	FilePath  string
	Kind      string
	Message   string
	Timestamp time.Time
}

// Summary is the aggregate handed to the batch-complete callback.
type Summary struct {
	Total      int64         `json:"total"`
	Done       int64         `json:"done"`
	Failed     int64         `json:"failed"`
	Skipped    int64         `json:"skipped"`
	BytesIn    int64         `json:"bytes_in"`
	BytesOut   int64         `json:"bytes_out"`
	BytesSaved int64         `json:"bytes_saved"`
	Duration   time.Duration `json:"duration"`
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:      time.Now(),
		ErrorKindStats: make(map[string]int64),
		Errors:         make([]FileError, 0),
	}
}

// SetTotalRecords records the batch size.
func (s *Statistics) SetTotalRecords(n int64) {
	atomic.StoreInt64(&s.TotalRecords, n)
}

// IncrementDone increases the count of successfully compressed files by 1.
func (s *Statistics) IncrementDone() {
	atomic.AddInt64(&s.FilesDone, 1)
}

// IncrementFailed increases the count of failed files by 1.
func (s *Statistics) IncrementFailed() {
	atomic.AddInt64(&s.FilesFailed, 1)
}

// IncrementSkipped increases the count of skipped files by 1.
func (s *Statistics) IncrementSkipped() {
	atomic.AddInt64(&s.FilesSkipped, 1)
}

// IncrementFellBack increases the count of files kept as original bytes by 1.
func (s *Statistics) IncrementFellBack() {
	atomic.AddInt64(&s.FilesFellBack, 1)
}

// AddBytes adds one file's before/after byte sizes.
func (s *Statistics) AddBytes(original, compressed int64) {
	atomic.AddInt64(&s.BytesOriginal, original)
	atomic.AddInt64(&s.BytesCompressed, compressed)
}

// IncrementErrorKind increases the count for a specific failure kind by 1.
func (s *Statistics) IncrementErrorKind(kind string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.ErrorKindStats[kind]++
}

// AddError records a per-file failure.
func (s *Statistics) AddError(filePath, kind, message string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, FileError{
		FilePath:  filePath,
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// Finalize calculates duration and throughput once the batch settles.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	processed := atomic.LoadInt64(&s.FilesDone) + atomic.LoadInt64(&s.FilesFailed)
	if s.Duration.Seconds() > 0 {
		s.FilesPerSecond = float64(processed) / s.Duration.Seconds()
	}
}

// GetSummary returns the aggregate outcome of the batch.
func (s *Statistics) GetSummary() Summary {
	s.mutex.RLock()
	duration := s.Duration
	s.mutex.RUnlock()

	bytesIn := atomic.LoadInt64(&s.BytesOriginal)
	bytesOut := atomic.LoadInt64(&s.BytesCompressed)

	return Summary{
		Total:      atomic.LoadInt64(&s.TotalRecords),
		Done:       atomic.LoadInt64(&s.FilesDone),
		Failed:     atomic.LoadInt64(&s.FilesFailed),
		Skipped:    atomic.LoadInt64(&s.FilesSkipped),
		BytesIn:    bytesIn,
		BytesOut:   bytesOut,
		BytesSaved: bytesIn - bytesOut,
		Duration:   duration,
	}
}

// FormatSummary returns a formatted, human-readable batch summary.
func (s *Statistics) FormatSummary() string {
	sum := s.GetSummary()

	return fmt.Sprintf(`Batch Summary:

Files:
		Total: %d
		Done: %d
		Failed: %d
		Skipped: %d
		Kept Original (size guard): %d

Sizes:
		Before: %s
		After: %s
		Saved: %s

Performance:
		Duration: %v
		Files/Second: %.2f`,
		sum.Total,
		sum.Done,
		sum.Failed,
		sum.Skipped,
		atomic.LoadInt64(&s.FilesFellBack),
		FormatBytes(sum.BytesIn),
		FormatBytes(sum.BytesOut),
		FormatBytes(sum.BytesSaved),
		sum.Duration,
		s.FilesPerSecond)
}

// GetErrorSummary returns a summary of per-file failures.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Kind,
			err.FilePath,
			err.Message)
	}
	return result
}

// GetErrorKindBreakdown returns a formatted breakdown of failure kinds.
func (s *Statistics) GetErrorKindBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.ErrorKindStats) == 0 {
		return "No failures recorded"
	}

	result := "Failure Breakdown:\n"
	for kind, count := range s.ErrorKindStats {
		result += fmt.Sprintf("  %s: %d\n", kind, count)
	}
	return result
}

// FormatBytes returns a human-readable string for a byte count.
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		return "-" + FormatBytes(-bytes)
	}
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

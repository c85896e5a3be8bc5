// Package analytics implements BookingAnalytics: aggregates success
// metrics across attempts and writes a per-run JSON report, one file per
// correlation ID.
package analytics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/trytofly94/squash-booker/internal/retry"
	"github.com/trytofly94/squash-booker/internal/selector"
	"github.com/trytofly94/squash-booker/internal/success"
)

// DetectionRecord is one SuccessDetector strategy attempt with its timing.
type DetectionRecord struct {
	Method     success.Method `json:"method"`
	Succeeded  bool           `json:"succeeded"`
	DurationMs int64          `json:"durationMs"`
}

// RunSummary aggregates one booking attempt for the per-run report.
type RunSummary struct {
	CorrelationID  string            `json:"correlationId"`
	Timestamp      time.Time         `json:"timestamp"`
	Success        bool              `json:"success"`
	Method         success.Method    `json:"method"`
	ConfirmationID string            `json:"confirmationId,omitempty"`
	CourtID        string            `json:"courtId,omitempty"`
	RetryAttempts  int               `json:"retryAttempts"`
	RetryDetails   []retry.Attempt   `json:"retryDetails,omitempty"`
	CacheMetrics   selector.Metrics  `json:"cacheMetrics"`
	Detections     []DetectionRecord `json:"detections,omitempty"`
	DryRun         bool              `json:"dryRun"`
}

// Totals is the process-lifetime aggregate across runs.
type Totals struct {
	Runs      int
	Successes int
	Failures  int
	ByMethod  map[success.Method]int
}

// Analytics implements BookingAnalytics.
type Analytics struct {
	mu        sync.Mutex
	outputDir string
	totals    Totals
}

// New constructs an Analytics writer rooted at outputDir.
func New(outputDir string) *Analytics {
	return &Analytics{outputDir: outputDir, totals: Totals{ByMethod: map[success.Method]int{}}}
}

// RunBuilder accumulates one booking attempt's observations before Finish
// writes the report and folds totals.
type RunBuilder struct {
	a       *Analytics
	summary RunSummary
}

// NewRun starts a RunBuilder for one booking attempt.
func (a *Analytics) NewRun(correlationID string, dryRun bool) *RunBuilder {
	return &RunBuilder{a: a, summary: RunSummary{CorrelationID: correlationID, DryRun: dryRun}}
}

// RecordDetectionAttempt appends one SuccessDetector strategy's outcome.
func (b *RunBuilder) RecordDetectionAttempt(method success.Method, succeeded bool, duration time.Duration) {
	b.summary.Detections = append(b.summary.Detections, DetectionRecord{Method: method, Succeeded: succeeded, DurationMs: duration.Milliseconds()})
}

// Finish finalizes the run with its terminal result, writes the per-run
// report, and folds the outcome into process totals.
func (b *RunBuilder) Finish(result success.Result, courtID string, retryResult retry.Result, cacheMetrics selector.Metrics) (RunSummary, error) {
	b.summary.Timestamp = result.Timestamp
	b.summary.Success = result.Success
	b.summary.Method = result.Method
	b.summary.ConfirmationID = result.ConfirmationID
	b.summary.CourtID = courtID
	b.summary.RetryAttempts = retryResult.Attempts
	b.summary.RetryDetails = retryResult.RetryDetails
	b.summary.CacheMetrics = cacheMetrics

	b.a.mu.Lock()
	b.a.totals.Runs++
	if result.Success {
		b.a.totals.Successes++
	} else {
		b.a.totals.Failures++
	}
	b.a.totals.ByMethod[result.Method]++
	b.a.mu.Unlock()

	if err := b.a.writeReport(b.summary); err != nil {
		return b.summary, err
	}
	return b.summary, nil
}

func (a *Analytics) writeReport(summary RunSummary) error {
	if a.outputDir == "" {
		return nil
	}
	if err := os.MkdirAll(a.outputDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(a.outputDir, summary.CorrelationID+".json")
	return os.WriteFile(path, data, 0o644)
}

// LiveDetectionSink adapts whichever RunBuilder is currently active to
// success.Analytics. The sink is created once per process and handed to
// every attempt's SuccessDetector, but each RunBuilder is scoped to a
// single attempt, so the state machine binds
// this sink to its RunBuilder at the start of Run and clears it at the
// end, avoiding cross-attempt contamination of detection records.
type LiveDetectionSink struct {
	mu      sync.Mutex
	current *RunBuilder
}

// NewLiveDetectionSink constructs an unbound sink; Detect calls are no-ops
// until Bind is called.
func NewLiveDetectionSink() *LiveDetectionSink {
	return &LiveDetectionSink{}
}

// Bind attaches rb as the current attempt's detection sink.
func (s *LiveDetectionSink) Bind(rb *RunBuilder) {
	s.mu.Lock()
	s.current = rb
	s.mu.Unlock()
}

// Clear detaches the current attempt, so any detection activity after the
// attempt ends (e.g. a straggling network listener) is discarded rather
// than attributed to the next attempt.
func (s *LiveDetectionSink) Clear() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

// RecordDetectionAttempt implements success.Analytics.
func (s *LiveDetectionSink) RecordDetectionAttempt(method success.Method, succeeded bool, duration time.Duration) {
	s.mu.Lock()
	rb := s.current
	s.mu.Unlock()
	if rb != nil {
		rb.RecordDetectionAttempt(method, succeeded, duration)
	}
}

// Totals returns a snapshot of aggregate success metrics across all runs
// this process has completed.
func (a *Analytics) Totals() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	byMethod := make(map[success.Method]int, len(a.totals.ByMethod))
	for k, v := range a.totals.ByMethod {
		byMethod[k] = v
	}
	return Totals{Runs: a.totals.Runs, Successes: a.totals.Successes, Failures: a.totals.Failures, ByMethod: byMethod}
}

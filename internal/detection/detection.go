// SPDX-License-Identifier: MIT

// Package detection implements the priority-ordered meeting-end probe
// ensemble: a Detector interface every probe satisfies, and an Orchestrator
// that registers detectors, sorts them by priority, and tallies votes each
// time the worker's main loop asks "has the meeting ended?".
//
// The registration/sort-at-add idiom mirrors supervisor.Supervisor.Add
// (internal/supervisor), generalized from "detect a duplicate service name"
// to "detect a duplicate detector type".
package detection

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"github.com/eyeduck-ai/meeting-recorder/internal/model"
)

// Result is one probe's outcome.
type Result struct {
	Type       string
	Detected   bool
	Confidence float64
	Reason     string
	Timestamp  time.Time
}

// Detector is the capability set every meeting-end probe implements.
type Detector interface {
	Type() string
	Priority() int
	Enabled() bool
	Setup(ctx context.Context, page *rod.Page) error
	Check(ctx context.Context, page *rod.Page) (Result, error)
	Reset()
}

// LogWriter is the narrow persistence seam the Orchestrator writes every
// positive probe result to (internal/persistence.DetectionLogRepository,
// depended on here only through this one-method interface so this package
// never imports internal/persistence directly).
type LogWriter interface {
	Create(ctx context.Context, log *model.DetectionLog) error
}

// Orchestrator registers detectors, sorts them by priority, and tallies
// votes on each CheckAll call. One Orchestrator instance is reused across
// many jobs; Reset prepares it for the next run.
type Orchestrator struct {
	mu                sync.Mutex
	detectors         []Detector
	minDetectorsAgree int
	dryRun            bool
	logs              LogWriter
	jobID             string
}

// New returns an Orchestrator with no detectors registered. minAgree
// defaults to 1 when <= 0.
func New(minAgree int, logs LogWriter) *Orchestrator {
	if minAgree <= 0 {
		minAgree = 1
	}
	return &Orchestrator{minDetectorsAgree: minAgree, logs: logs}
}

// SetDryRun toggles dry-run mode for the next CheckAll run: detections are
// still logged but should_end is forced to false regardless of vote count —
// this is how the system gathers training signal for threshold tuning
// without ever truncating a real recording.
func (o *Orchestrator) SetDryRun(dryRun bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dryRun = dryRun
}

// SetJobID scopes subsequent DetectionLog writes to a job.
func (o *Orchestrator) SetJobID(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.jobID = jobID
}

// Add registers a detector, sorted into place by ascending Priority (lower
// runs/sorts first). Panics on a duplicate Type, the same guard shape
// Supervisor.Add uses for duplicate service names — a programming error
// that should fail loudly at wiring time, not silently at runtime.
func (o *Orchestrator) Add(d Detector) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, existing := range o.detectors {
		if existing.Type() == d.Type() {
			panic(fmt.Sprintf("detection: duplicate detector type %q", d.Type()))
		}
	}
	o.detectors = append(o.detectors, d)
	sort.Slice(o.detectors, func(i, k int) bool { return o.detectors[i].Priority() < o.detectors[k].Priority() })
}

// Setup runs Setup on every enabled detector, e.g. injecting the
// webrtc_connection probe's patch script into the page. Called once, right
// after navigation.
func (o *Orchestrator) Setup(ctx context.Context, page *rod.Page) error {
	o.mu.Lock()
	detectors := append([]Detector(nil), o.detectors...)
	o.mu.Unlock()

	for _, d := range detectors {
		if !d.Enabled() {
			continue
		}
		if err := d.Setup(ctx, page); err != nil {
			return fmt.Errorf("detection: setup %s: %w", d.Type(), err)
		}
	}
	return nil
}

// CheckAll runs Check on every enabled detector in priority order, logs
// every positive result, and reports whether enough detectors currently
// agree the meeting has ended. In dry-run mode the agreement count is still
// computed (and still logged) but ShouldEnd is forced false.
func (o *Orchestrator) CheckAll(ctx context.Context, page *rod.Page) (results []Result, shouldEnd bool) {
	o.mu.Lock()
	detectors := append([]Detector(nil), o.detectors...)
	dryRun := o.dryRun
	jobID := o.jobID
	logs := o.logs
	minAgree := o.minDetectorsAgree
	o.mu.Unlock()

	agree := 0
	for _, d := range detectors {
		if !d.Enabled() {
			continue
		}
		res, err := d.Check(ctx, page)
		if err != nil {
			continue
		}
		results = append(results, res)
		if res.Detected {
			agree++
			if logs != nil && jobID != "" {
				_ = logs.Create(ctx, &model.DetectionLog{
					JobID:        jobID,
					DetectorType: res.Type,
					Detected:     res.Detected,
					Confidence:   res.Confidence,
					Reason:       res.Reason,
					TriggeredAt:  res.Timestamp,
				})
			}
		}
	}

	if dryRun {
		return results, false
	}
	return results, agree >= minAgree
}

// ResetAll clears every detector's accumulated state, so the Orchestrator
// instance can be reused for the next job.
func (o *Orchestrator) ResetAll() {
	o.mu.Lock()
	detectors := append([]Detector(nil), o.detectors...)
	o.mu.Unlock()
	for _, d := range detectors {
		d.Reset()
	}
}

// Detectors returns a snapshot of the registered detectors, in priority order.
func (o *Orchestrator) Detectors() []Detector {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Detector(nil), o.detectors...)
}

// SPDX-License-Identifier: MIT

package detection

import (
	"context"
	"testing"
	"time"

	"github.com/go-rod/rod"

	"github.com/eyeduck-ai/meeting-recorder/internal/model"
)

// fakeDetector is a Detector that never touches the *rod.Page it is given,
// so it can be driven in tests without a real browser.
type fakeDetector struct {
	typ      string
	priority int
	enabled  bool
	result   Result
	err      error
	resets   int
}

func (f *fakeDetector) Type() string     { return f.typ }
func (f *fakeDetector) Priority() int     { return f.priority }
func (f *fakeDetector) Enabled() bool     { return f.enabled }
func (f *fakeDetector) Setup(context.Context, *rod.Page) error { return nil }
func (f *fakeDetector) Check(context.Context, *rod.Page) (Result, error) {
	return f.result, f.err
}
func (f *fakeDetector) Reset() { f.resets++ }

func TestAddSortsByPriority(t *testing.T) {
	o := New(1, nil)
	o.Add(&fakeDetector{typ: "c", priority: 3, enabled: true})
	o.Add(&fakeDetector{typ: "a", priority: 1, enabled: true})
	o.Add(&fakeDetector{typ: "b", priority: 2, enabled: true})

	got := o.Detectors()
	want := []string{"a", "b", "c"}
	for i, d := range got {
		if d.Type() != want[i] {
			t.Fatalf("Detectors()[%d].Type() = %q, want %q", i, d.Type(), want[i])
		}
	}
}

func TestAddPanicsOnDuplicateType(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Add() with duplicate type: want panic, got none")
		}
	}()
	o := New(1, nil)
	o.Add(&fakeDetector{typ: "dup", priority: 1, enabled: true})
	o.Add(&fakeDetector{typ: "dup", priority: 2, enabled: true})
}

type fakeLogWriter struct {
	logs []*model.DetectionLog
}

func (w *fakeLogWriter) Create(ctx context.Context, log *model.DetectionLog) error {
	w.logs = append(w.logs, log)
	return nil
}

func TestCheckAllTalliesAgreementAndLogsPositives(t *testing.T) {
	logs := &fakeLogWriter{}
	o := New(2, logs)
	o.SetJobID("job-1")
	o.Add(&fakeDetector{typ: "a", priority: 1, enabled: true, result: Result{Type: "a", Detected: true, Timestamp: time.Now()}})
	o.Add(&fakeDetector{typ: "b", priority: 2, enabled: true, result: Result{Type: "b", Detected: true, Timestamp: time.Now()}})
	o.Add(&fakeDetector{typ: "c", priority: 3, enabled: true, result: Result{Type: "c", Detected: false, Timestamp: time.Now()}})
	o.Add(&fakeDetector{typ: "disabled", priority: 4, enabled: false, result: Result{Type: "disabled", Detected: true, Timestamp: time.Now()}})

	results, shouldEnd := o.CheckAll(context.Background(), nil)
	if len(results) != 3 {
		t.Fatalf("CheckAll() returned %d results, want 3 (disabled detector skipped)", len(results))
	}
	if !shouldEnd {
		t.Fatal("CheckAll() shouldEnd = false, want true (2 of min 2 agreed)")
	}
	if len(logs.logs) != 2 {
		t.Fatalf("logged %d detections, want 2", len(logs.logs))
	}
}

func TestCheckAllBelowMinAgreeDoesNotEnd(t *testing.T) {
	o := New(2, nil)
	o.Add(&fakeDetector{typ: "a", priority: 1, enabled: true, result: Result{Type: "a", Detected: true, Timestamp: time.Now()}})

	_, shouldEnd := o.CheckAll(context.Background(), nil)
	if shouldEnd {
		t.Fatal("CheckAll() shouldEnd = true, want false (only 1 of min 2 agreed)")
	}
}

func TestCheckAllDryRunNeverEndsButStillTallies(t *testing.T) {
	o := New(1, nil)
	o.SetDryRun(true)
	o.Add(&fakeDetector{typ: "a", priority: 1, enabled: true, result: Result{Type: "a", Detected: true, Timestamp: time.Now()}})

	results, shouldEnd := o.CheckAll(context.Background(), nil)
	if shouldEnd {
		t.Fatal("CheckAll() in dry-run: shouldEnd = true, want false")
	}
	if len(results) != 1 {
		t.Fatalf("CheckAll() returned %d results, want 1", len(results))
	}
}

func TestResetAllResetsEveryDetector(t *testing.T) {
	o := New(1, nil)
	d1 := &fakeDetector{typ: "a", priority: 1, enabled: true}
	d2 := &fakeDetector{typ: "b", priority: 2, enabled: true}
	o.Add(d1)
	o.Add(d2)

	o.ResetAll()
	if d1.resets != 1 || d2.resets != 1 {
		t.Fatalf("resets = %d,%d, want 1,1", d1.resets, d2.resets)
	}
}

func TestNewDefaultsMinAgreeToOne(t *testing.T) {
	o := New(0, nil)
	if o.minDetectorsAgree != 1 {
		t.Fatalf("minDetectorsAgree = %d, want 1", o.minDetectorsAgree)
	}
	o = New(-5, nil)
	if o.minDetectorsAgree != 1 {
		t.Fatalf("minDetectorsAgree = %d, want 1", o.minDetectorsAgree)
	}
}

// SPDX-License-Identifier: MIT

package notifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/eyeduck-ai/meeting-recorder/internal/model"
)

type fakeSink struct {
	mu     sync.Mutex
	events []Kind
	msgID  string
}

func (f *fakeSink) record(k Kind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, k)
}

func (f *fakeSink) Started(ctx context.Context, job model.Job) (string, error) {
	f.record(KindStarted)
	return f.msgID, nil
}
func (f *fakeSink) Completed(ctx context.Context, job model.Job) error {
	f.record(KindCompleted)
	return nil
}
func (f *fakeSink) Failed(ctx context.Context, job model.Job) error {
	f.record(KindFailed)
	return nil
}
func (f *fakeSink) Canceled(ctx context.Context, job model.Job) error {
	f.record(KindCanceled)
	return nil
}
func (f *fakeSink) Retry(ctx context.Context, job model.Job, attempt int, nextDelaySec float64, errMsg string) error {
	f.record(KindRetry)
	return nil
}
func (f *fakeSink) Uploaded(ctx context.Context, job model.Job, videoURL string) error {
	f.record(KindUploaded)
	return nil
}

func (f *fakeSink) snapshot() []Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Kind, len(f.events))
	copy(out, f.events)
	return out
}

func TestStartedReturnsSinkMessageID(t *testing.T) {
	sink := &fakeSink{msgID: "msg-42"}
	n := New(sink, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = n.Run(ctx) }()

	got := n.Started(model.Job{ID: "job-1"})
	if got != "msg-42" {
		t.Fatalf("Started() = %q, want %q", got, "msg-42")
	}
}

func TestStartedOnFullChannelReturnsEmptyWithoutBlocking(t *testing.T) {
	sink := &fakeSink{}
	n := New(sink, 1, nil)
	// Fill the channel without a dispatcher draining it.
	n.post(Event{Kind: KindCompleted, Job: model.Job{ID: "filler"}})

	done := make(chan string, 1)
	go func() { done <- n.Started(model.Job{ID: "job-1"}) }()

	select {
	case got := <-done:
		if got != "" {
			t.Fatalf("Started() on full channel = %q, want \"\"", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Started() blocked instead of returning immediately on a full channel")
	}
}

func TestDispatchPreservesPerJobOrdering(t *testing.T) {
	sink := &fakeSink{}
	n := New(sink, 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = n.Run(ctx) }()

	job := model.Job{ID: "job-1"}
	n.Completed(job)
	n.Uploaded(job, "https://example.com/video")

	deadline := time.After(2 * time.Second)
	for {
		if got := sink.snapshot(); len(got) == 2 {
			if got[0] != KindCompleted || got[1] != KindUploaded {
				t.Fatalf("dispatch order = %v, want [completed uploaded]", got)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("dispatcher never delivered both events, got %v", sink.snapshot())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	n := New(&fakeSink{}, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- n.Run(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Fatalf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}

func TestNameIsNotifier(t *testing.T) {
	n := New(&fakeSink{}, 0, nil)
	if n.Name() != "notifier" {
		t.Fatalf("Name() = %q, want %q", n.Name(), "notifier")
	}
}

// SPDX-License-Identifier: MIT

// Package notifier is the lifecycle-event port: rather than spawning a
// background task from inside the worker's synchronous status callback,
// callers post an Event to a bounded channel, and a single dedicated
// dispatcher goroutine (a supervisor.Service) drains it in order. This
// preserves per-job event ordering (started -> completed|failed|canceled ->
// optional uploaded) without spawning ad hoc goroutines from a callback.
package notifier

import (
	"context"
	"log/slog"

	"github.com/eyeduck-ai/meeting-recorder/internal/model"
)

// Kind identifies the lifecycle event being delivered.
type Kind string

const (
	KindStarted   Kind = "started"
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
	KindCanceled  Kind = "canceled"
	KindRetry     Kind = "retry"
	KindUploaded  Kind = "uploaded"
)

// Event is one notification, carrying the full Job snapshot.
type Event struct {
	Kind Kind
	Job  model.Job

	// Retry-only fields.
	Attempt       int
	NextDelaySec  float64
	RetryError    string

	// Uploaded-only field.
	VideoURL string

	// Reply, for KindStarted only: the channel the dispatcher uses to hand
	// back the opaque message id the Sink returns, so the caller (job
	// runner) can persist it on the Job for later in-place updates.
	reply chan<- string
}

// Sink is the notification channel a deployment wires in (chat bot, email,
// webhook...). Delivery is best-effort: Notifier logs and swallows Sink
// errors rather than letting them affect Job state.
type Sink interface {
	// Started returns an opaque message id the caller may pass back into
	// later calls to support in-place message updates.
	Started(ctx context.Context, job model.Job) (string, error)
	Completed(ctx context.Context, job model.Job) error
	Failed(ctx context.Context, job model.Job) error
	Canceled(ctx context.Context, job model.Job) error
	Retry(ctx context.Context, job model.Job, attempt int, nextDelaySec float64, errMsg string) error
	Uploaded(ctx context.Context, job model.Job, videoURL string) error
}

// Notifier owns the bounded event channel and the dispatcher goroutine that
// drains it. It implements supervisor.Service (Name/Run) so it is started
// and stopped alongside the scheduler and job runner.
type Notifier struct {
	sink   Sink
	logger *slog.Logger
	events chan Event
}

// New returns a Notifier posting to sink, with a channel of the given
// capacity. A capacity of 0 uses a reasonable default (64): large enough
// that a slow Sink does not block the worker's status callback under
// normal operation, small enough that a wedged Sink surfaces as a full
// channel rather than unbounded memory growth.
func New(sink Sink, capacity int, logger *slog.Logger) *Notifier {
	if capacity <= 0 {
		capacity = 64
	}
	return &Notifier{sink: sink, logger: logger, events: make(chan Event, capacity)}
}

// Name implements supervisor.Service.
func (n *Notifier) Name() string { return "notifier" }

// Run drains events until ctx is canceled. It implements supervisor.Service.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-n.events:
			n.dispatch(ctx, ev)
		}
	}
}

func (n *Notifier) dispatch(ctx context.Context, ev Event) {
	var err error
	switch ev.Kind {
	case KindStarted:
		var msgID string
		msgID, err = n.sink.Started(ctx, ev.Job)
		if ev.reply != nil {
			ev.reply <- msgID
		}
	case KindCompleted:
		err = n.sink.Completed(ctx, ev.Job)
	case KindFailed:
		err = n.sink.Failed(ctx, ev.Job)
	case KindCanceled:
		err = n.sink.Canceled(ctx, ev.Job)
	case KindRetry:
		err = n.sink.Retry(ctx, ev.Job, ev.Attempt, ev.NextDelaySec, ev.RetryError)
	case KindUploaded:
		err = n.sink.Uploaded(ctx, ev.Job, ev.VideoURL)
	}
	if err != nil && n.logger != nil {
		n.logger.Warn("notifier: delivery failed", "kind", ev.Kind, "job", ev.Job.ID, "err", err)
	}
}

// post is the shared non-blocking-with-log-on-drop enqueue path. It
// reports whether the event was actually enqueued.
func (n *Notifier) post(ev Event) bool {
	select {
	case n.events <- ev:
		return true
	default:
		if n.logger != nil {
			n.logger.Warn("notifier: event channel full, dropping event", "kind", ev.Kind, "job", ev.Job.ID)
		}
		return false
	}
}

// Started enqueues a started notification and blocks for the Sink's
// returned opaque message id, which the caller may store on the Job for
// later in-place message updates. If the event channel is full the event
// is dropped and Started returns "" immediately rather than blocking
// forever on a reply nothing will ever send.
func (n *Notifier) Started(job model.Job) string {
	reply := make(chan string, 1)
	if !n.post(Event{Kind: KindStarted, Job: job, reply: reply}) {
		return ""
	}
	return <-reply
}

// Completed enqueues a completed notification.
func (n *Notifier) Completed(job model.Job) { n.post(Event{Kind: KindCompleted, Job: job}) }

// Failed enqueues a failed notification.
func (n *Notifier) Failed(job model.Job) { n.post(Event{Kind: KindFailed, Job: job}) }

// Canceled enqueues a canceled notification.
func (n *Notifier) Canceled(job model.Job) { n.post(Event{Kind: KindCanceled, Job: job}) }

// Retry enqueues a retry notification.
func (n *Notifier) Retry(job model.Job, attempt int, nextDelaySec float64, errMsg string) {
	n.post(Event{Kind: KindRetry, Job: job, Attempt: attempt, NextDelaySec: nextDelaySec, RetryError: errMsg})
}

// Uploaded enqueues an uploaded notification.
func (n *Notifier) Uploaded(job model.Job, videoURL string) {
	n.post(Event{Kind: KindUploaded, Job: job, VideoURL: videoURL})
}

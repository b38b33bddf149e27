// SPDX-License-Identifier: MIT

package detection

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
)

// VideoElement is priority 3: fires once zero <video> elements have been
// observed on the page for at least noVideoTimeout.
type VideoElement struct {
	enabled       atomic.Bool
	noVideoTimeout time.Duration

	mu          sync.Mutex
	noVideoSince time.Time // zero value means "currently has video (or never checked)"
}

// NewVideoElement returns an enabled VideoElement detector with the given
// consecutive-zero-video timeout (defaults to 5s).
func NewVideoElement(noVideoTimeout time.Duration) *VideoElement {
	if noVideoTimeout <= 0 {
		noVideoTimeout = 5 * time.Second
	}
	d := &VideoElement{noVideoTimeout: noVideoTimeout}
	d.enabled.Store(true)
	return d
}

func (d *VideoElement) Type() string     { return "video_element" }
func (d *VideoElement) Priority() int     { return 3 }
func (d *VideoElement) Enabled() bool     { return d.enabled.Load() }
func (d *VideoElement) SetEnabled(v bool) { d.enabled.Store(v) }
func (d *VideoElement) Setup(context.Context, *rod.Page) error { return nil }

// Reset clears the accumulated no-video-since timestamp, restoring the
// detector to its post-construct state.
func (d *VideoElement) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.noVideoSince = time.Time{}
}

// Check counts <video> elements; if zero for noVideoTimeout continuously, detects.
func (d *VideoElement) Check(ctx context.Context, page *rod.Page) (Result, error) {
	obj, err := page.Eval(`() => document.querySelectorAll('video').length`)
	if err != nil {
		return Result{}, err
	}
	count := obj.Value.Int()
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if count > 0 {
		d.noVideoSince = time.Time{}
		return Result{Type: d.Type(), Timestamp: now}, nil
	}

	if d.noVideoSince.IsZero() {
		d.noVideoSince = now
		return Result{Type: d.Type(), Timestamp: now}, nil
	}

	elapsed := now.Sub(d.noVideoSince)
	if elapsed >= d.noVideoTimeout {
		return Result{
			Type:       d.Type(),
			Detected:   true,
			Confidence: 0.6,
			Reason:     "no <video> elements for " + elapsed.Round(time.Second).String(),
			Timestamp:  now,
		}, nil
	}
	return Result{Type: d.Type(), Timestamp: now}, nil
}

// SPDX-License-Identifier: MIT

package detection

import (
	"context"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
)

// URLChange is priority 4: detects when the browser has navigated away
// from the original meeting-vendor domain entirely (e.g. redirected to a
// "meeting ended" landing page on a different host).
type URLChange struct {
	enabled      atomic.Bool
	originalHost string
}

// NewURLChange returns an enabled URLChange detector anchored to originalURL's host.
func NewURLChange(originalURL string) *URLChange {
	d := &URLChange{}
	d.enabled.Store(true)
	if u, err := url.Parse(originalURL); err == nil {
		d.originalHost = u.Hostname()
	}
	return d
}

func (d *URLChange) Type() string     { return "url_change" }
func (d *URLChange) Priority() int     { return 4 }
func (d *URLChange) Enabled() bool     { return d.enabled.Load() && d.originalHost != "" }
func (d *URLChange) SetEnabled(v bool) { d.enabled.Store(v) }
func (d *URLChange) Setup(context.Context, *rod.Page) error { return nil }
func (d *URLChange) Reset()                                 {}

// Check compares the current page URL's host against the original domain.
func (d *URLChange) Check(ctx context.Context, page *rod.Page) (Result, error) {
	info, err := page.Info()
	if err != nil {
		return Result{}, err
	}
	now := time.Now()
	current, err := url.Parse(info.URL)
	if err != nil {
		return Result{Type: d.Type(), Timestamp: now}, nil
	}
	if !strings.Contains(current.Hostname(), d.originalHost) {
		return Result{
			Type:       d.Type(),
			Detected:   true,
			Confidence: 0.7,
			Reason:     "navigated away from " + d.originalHost + " to " + current.Hostname(),
			Timestamp:  now,
		}, nil
	}
	return Result{Type: d.Type(), Timestamp: now}, nil
}

// SPDX-License-Identifier: MIT

package detection

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/png"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
)

const (
	thumbWidth  = 100
	thumbHeight = 75
)

// ScreenFreeze is priority 5: resizes/grayscales successive screenshots to
// a fixed small thumbnail and compares mean pixel difference; if the
// similarity stays at or above a threshold for freezeTimeout, the screen is
// considered frozen.
type ScreenFreeze struct {
	enabled       atomic.Bool
	threshold     float64 // similarity in [0,1]; 1 = identical
	freezeTimeout time.Duration

	mu         sync.Mutex
	lastThumb  []byte // grayscale thumbWidth*thumbHeight bytes
	frozenSince time.Time
}

// NewScreenFreeze returns a ScreenFreeze detector. threshold defaults to
// 0.98, freezeTimeout to job.StillnessTimeout when the worker wires it in.
func NewScreenFreeze(threshold float64, freezeTimeout time.Duration) *ScreenFreeze {
	if threshold <= 0 {
		threshold = 0.98
	}
	if freezeTimeout <= 0 {
		freezeTimeout = 30 * time.Second
	}
	d := &ScreenFreeze{threshold: threshold, freezeTimeout: freezeTimeout}
	d.enabled.Store(true)
	return d
}

func (d *ScreenFreeze) Type() string     { return "screen_freeze" }
func (d *ScreenFreeze) Priority() int     { return 5 }
func (d *ScreenFreeze) Enabled() bool     { return d.enabled.Load() }
func (d *ScreenFreeze) SetEnabled(v bool) { d.enabled.Store(v) }
func (d *ScreenFreeze) Setup(context.Context, *rod.Page) error { return nil }

// Reset clears the last-seen thumbnail and frozen-since timestamp.
func (d *ScreenFreeze) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastThumb = nil
	d.frozenSince = time.Time{}
}

// Check screenshots the page, downsamples+grayscales it to a
// thumbWidth x thumbHeight thumbnail, and compares it against the previous
// thumbnail.
func (d *ScreenFreeze) Check(ctx context.Context, page *rod.Page) (Result, error) {
	now := time.Now()
	raw, err := page.Screenshot(true, nil)
	if err != nil {
		return Result{}, fmt.Errorf("screen_freeze: screenshot: %w", err)
	}
	thumb, err := grayscaleThumbnail(raw)
	if err != nil {
		return Result{}, fmt.Errorf("screen_freeze: decode: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lastThumb == nil {
		d.lastThumb = thumb
		return Result{Type: d.Type(), Timestamp: now}, nil
	}

	similarity := thumbnailSimilarity(d.lastThumb, thumb)
	d.lastThumb = thumb

	if similarity < d.threshold {
		d.frozenSince = time.Time{}
		return Result{Type: d.Type(), Timestamp: now}, nil
	}

	if d.frozenSince.IsZero() {
		d.frozenSince = now
		return Result{Type: d.Type(), Timestamp: now}, nil
	}

	elapsed := now.Sub(d.frozenSince)
	if elapsed >= d.freezeTimeout {
		return Result{
			Type:       d.Type(),
			Detected:   true,
			Confidence: similarity,
			Reason:     fmt.Sprintf("screen unchanged (similarity=%.3f) for %s", similarity, elapsed.Round(time.Second)),
			Timestamp:  now,
		}, nil
	}
	return Result{Type: d.Type(), Timestamp: now}, nil
}

// grayscaleThumbnail decodes a PNG and nearest-neighbor-downsamples it to a
// fixed thumWidth x thumbHeight grayscale byte slice.
func grayscaleThumbnail(pngBytes []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(pngBytes))
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("empty image")
	}

	out := make([]byte, thumbWidth*thumbHeight)
	for ty := 0; ty < thumbHeight; ty++ {
		sy := bounds.Min.Y + ty*h/thumbHeight
		for tx := 0; tx < thumbWidth; tx++ {
			sx := bounds.Min.X + tx*w/thumbWidth
			r, g, b, _ := img.At(sx, sy).RGBA()
			// standard luma weights; inputs are 16-bit, output 8-bit.
			gray := (299*r + 587*g + 114*b) / 1000 >> 8
			out[ty*thumbWidth+tx] = byte(gray)
		}
	}
	return out, nil
}

// thumbnailSimilarity returns 1 - meanPixelDiff/255.
func thumbnailSimilarity(a, b []byte) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var sum int
	for i := range a {
		d := int(a[i]) - int(b[i])
		if d < 0 {
			d = -d
		}
		sum += d
	}
	mean := float64(sum) / float64(len(a))
	return 1 - mean/255
}

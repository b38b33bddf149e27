// SPDX-License-Identifier: MIT

package detection

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
)

// endPhrases is the curated list of end-of-meeting phrases (English plus
// common localizations) matched as substrings against on-screen text.
var endPhrases = []string{
	"meeting has ended",
	"meeting ended",
	"call has ended",
	"this meeting has been ended",
	"you have left the meeting",
	"the host ended the meeting",
	"meeting is over",
	// localized (Spanish, French, German)
	"la reunión ha terminado",
	"la réunion a pris fin",
	"das meeting wurde beendet",
}

// TextIndicator is priority 2: substring match of the page's visible text
// against endPhrases.
type TextIndicator struct {
	enabled atomic.Bool
}

// NewTextIndicator returns an enabled TextIndicator detector.
func NewTextIndicator() *TextIndicator {
	d := &TextIndicator{}
	d.enabled.Store(true)
	return d
}

func (d *TextIndicator) Type() string      { return "text_indicator" }
func (d *TextIndicator) Priority() int      { return 2 }
func (d *TextIndicator) Enabled() bool      { return d.enabled.Load() }
func (d *TextIndicator) SetEnabled(v bool)  { d.enabled.Store(v) }
func (d *TextIndicator) Setup(context.Context, *rod.Page) error { return nil }
func (d *TextIndicator) Reset()                                 {}

// Check reads the page's body text and looks for any known end-of-meeting phrase.
func (d *TextIndicator) Check(ctx context.Context, page *rod.Page) (Result, error) {
	obj, err := page.Eval(`() => document.body ? document.body.innerText : ''`)
	if err != nil {
		return Result{}, err
	}
	text := strings.ToLower(obj.Value.Str())

	for _, phrase := range endPhrases {
		if strings.Contains(text, phrase) {
			return Result{
				Type:       d.Type(),
				Detected:   true,
				Confidence: 0.85,
				Reason:     "matched end-of-meeting phrase: " + phrase,
				Timestamp:  time.Now(),
			}, nil
		}
	}
	return Result{Type: d.Type(), Timestamp: time.Now()}, nil
}

// SPDX-License-Identifier: MIT

package detection

import (
	"testing"
	"time"
)

func TestNewVideoElementDefaultsTimeout(t *testing.T) {
	d := NewVideoElement(0)
	if d.noVideoTimeout != 5*time.Second {
		t.Errorf("noVideoTimeout = %v, want 5s", d.noVideoTimeout)
	}
	if !d.Enabled() {
		t.Error("Enabled() = false, want true (enabled by default)")
	}
	if d.Type() != "video_element" || d.Priority() != 3 {
		t.Errorf("Type()/Priority() = %q/%d, want video_element/3", d.Type(), d.Priority())
	}
}

func TestNewVideoElementHonorsExplicitTimeout(t *testing.T) {
	d := NewVideoElement(2 * time.Second)
	if d.noVideoTimeout != 2*time.Second {
		t.Errorf("noVideoTimeout = %v, want 2s", d.noVideoTimeout)
	}
}

func TestVideoElementResetClearsNoVideoSince(t *testing.T) {
	d := NewVideoElement(0)
	d.noVideoSince = time.Now()
	d.Reset()
	if !d.noVideoSince.IsZero() {
		t.Error("Reset() left noVideoSince non-zero")
	}
}

func TestVideoElementSetEnabled(t *testing.T) {
	d := NewVideoElement(0)
	d.SetEnabled(false)
	if d.Enabled() {
		t.Error("Enabled() = true after SetEnabled(false)")
	}
}

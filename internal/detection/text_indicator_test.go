// SPDX-License-Identifier: MIT

package detection

import (
	"strings"
	"testing"
)

func TestNewTextIndicatorEnabledByDefault(t *testing.T) {
	d := NewTextIndicator()
	if !d.Enabled() {
		t.Fatal("Enabled() = false, want true")
	}
	if d.Type() != "text_indicator" || d.Priority() != 2 {
		t.Fatalf("Type()/Priority() = %q/%d, want text_indicator/2", d.Type(), d.Priority())
	}
}

func TestTextIndicatorSetEnabled(t *testing.T) {
	d := NewTextIndicator()
	d.SetEnabled(false)
	if d.Enabled() {
		t.Fatal("Enabled() = true after SetEnabled(false)")
	}
}

func TestEndPhrasesAreLowercaseAndNonEmpty(t *testing.T) {
	if len(endPhrases) == 0 {
		t.Fatal("endPhrases is empty")
	}
	for _, p := range endPhrases {
		if p == "" {
			t.Error("endPhrases contains an empty phrase")
		}
		if strings.ToLower(p) != p {
			t.Errorf("endPhrases entry %q is not lowercase, Check() lowercases page text before matching", p)
		}
	}
}

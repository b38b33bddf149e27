// SPDX-License-Identifier: MIT

package browser

import "testing"

func TestValueOrInt(t *testing.T) {
	if got := valueOrInt(0, 1920); got != 1920 {
		t.Errorf("valueOrInt(0, 1920) = %d, want 1920", got)
	}
	if got := valueOrInt(-5, 1920); got != 1920 {
		t.Errorf("valueOrInt(-5, 1920) = %d, want 1920", got)
	}
	if got := valueOrInt(1280, 1920); got != 1280 {
		t.Errorf("valueOrInt(1280, 1920) = %d, want 1280", got)
	}
}

func TestConsoleLogReturnsSnapshotCopy(t *testing.T) {
	b := &Browser{}
	b.console = []ConsoleEntry{{Level: "log", Text: "hello"}}

	got := b.ConsoleLog()
	if len(got) != 1 || got[0].Text != "hello" {
		t.Fatalf("ConsoleLog() = %+v, want one entry with text %q", got, "hello")
	}

	got[0].Text = "mutated"
	if b.console[0].Text != "hello" {
		t.Fatal("ConsoleLog() did not return an independent copy")
	}
}

func TestScreenshotWithoutPageReturnsError(t *testing.T) {
	b := &Browser{}
	if _, err := b.Screenshot(); err == nil {
		t.Fatal("Screenshot() error = nil, want error when no page is open")
	}
}

func TestHTMLWithoutPageReturnsError(t *testing.T) {
	b := &Browser{}
	if _, err := b.HTML(); err == nil {
		t.Fatal("HTML() error = nil, want error when no page is open")
	}
}

func TestCloseWithoutInstanceIsANoOp(t *testing.T) {
	b := &Browser{}
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v, want nil for an unlaunched Browser", err)
	}
}

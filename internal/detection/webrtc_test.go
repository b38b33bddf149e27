// SPDX-License-Identifier: MIT

package detection

import "testing"

func TestNewWebRTCConnectionEnabledByDefault(t *testing.T) {
	d := NewWebRTCConnection()
	if !d.Enabled() {
		t.Fatal("Enabled() = false, want true")
	}
	if d.Type() != "webrtc_connection" || d.Priority() != 1 {
		t.Fatalf("Type()/Priority() = %q/%d, want webrtc_connection/1", d.Type(), d.Priority())
	}
}

func TestWebRTCConnectionSetEnabled(t *testing.T) {
	d := NewWebRTCConnection()
	d.SetEnabled(false)
	if d.Enabled() {
		t.Fatal("Enabled() = true after SetEnabled(false)")
	}
}

func TestWebRTCConnectionResetIsANoOp(t *testing.T) {
	d := NewWebRTCConnection()
	d.Reset() // must not panic; the detector keeps no local state to clear.
}

package jitsi

import (
	"strings"
	"testing"
)

func TestBuildJoinURL(t *testing.T) {
	j := &Jitsi{}

	u, err := j.BuildJoinURL("my-room", "https://meet.jit.si")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(u, "https://meet.jit.si/my-room#") {
		t.Errorf("unexpected base/path in %q", u)
	}
	if !strings.Contains(u, "config.startWithVideoMuted=true") {
		t.Errorf("missing startWithVideoMuted in %q", u)
	}
	if !strings.Contains(u, "config.startWithAudioMuted=true") {
		t.Errorf("missing startWithAudioMuted in %q", u)
	}
}

func TestBuildJoinURLEmptyCode(t *testing.T) {
	j := &Jitsi{}
	if _, err := j.BuildJoinURL("", "https://meet.jit.si"); err == nil {
		t.Error("expected error for empty room code")
	}
}

func TestBuildJoinURLDefaultBase(t *testing.T) {
	j := &Jitsi{}
	u, err := j.BuildJoinURL("room1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(u, "https://meet.jit.si/room1") {
		t.Errorf("expected default base, got %q", u)
	}
}

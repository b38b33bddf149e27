package webex

import "testing"

func TestBuildJoinURL(t *testing.T) {
	w := &Webex{}

	u, err := w.BuildJoinURL("my-room", "https://company.webex.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "https://company.webex.com/meet/my-room"; u != want {
		t.Errorf("BuildJoinURL() = %q, want %q", u, want)
	}
}

func TestBuildJoinURLTrimsTrailingSlash(t *testing.T) {
	w := &Webex{}
	u, err := w.BuildJoinURL("my-room", "https://company.webex.com/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "https://company.webex.com/meet/my-room"; u != want {
		t.Errorf("BuildJoinURL() = %q, want %q", u, want)
	}
}

func TestBuildJoinURLEmptyCode(t *testing.T) {
	w := &Webex{}
	if _, err := w.BuildJoinURL("", "https://company.webex.com"); err == nil {
		t.Error("expected error for empty room code")
	}
}

func TestBuildJoinURLEmptyBase(t *testing.T) {
	w := &Webex{}
	if _, err := w.BuildJoinURL("my-room", ""); err == nil {
		t.Error("expected error for empty base URL")
	}
}

func TestName(t *testing.T) {
	w := &Webex{}
	if w.Name() != "webex" {
		t.Errorf("Name() = %q, want %q", w.Name(), "webex")
	}
}

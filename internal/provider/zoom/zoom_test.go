package zoom

import "testing"

func TestBuildJoinURLNumericCode(t *testing.T) {
	z := &Zoom{}
	u, err := z.BuildJoinURL("1234567890", "https://zoom.us")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "https://zoom.us/j/1234567890?zc=0"
	if u != want {
		t.Errorf("got %q, want %q", u, want)
	}
}

func TestBuildJoinURLFullURLAppendsZc(t *testing.T) {
	z := &Zoom{}
	u, err := z.BuildJoinURL("https://acme.zoom.us/j/999?pwd=abc", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u != "https://acme.zoom.us/j/999?pwd=abc&zc=0" {
		t.Errorf("unexpected rewritten URL: %q", u)
	}
}

func TestBuildJoinURLEmptyCode(t *testing.T) {
	z := &Zoom{}
	if _, err := z.BuildJoinURL("", "https://zoom.us"); err == nil {
		t.Error("expected error for empty room code")
	}
}

// SPDX-License-Identifier: MIT

package provider

import (
	"context"
	"testing"
	"time"

	"github.com/go-rod/rod"

	"github.com/eyeduck-ai/meeting-recorder/internal/model"
)

// fakeProvider implements Provider with no-ops, enough to exercise the
// registry without touching a real browser.
type fakeProvider struct{ tag string }

func (f fakeProvider) Name() string { return f.tag }
func (f fakeProvider) BuildJoinURL(roomCode, baseURL string) (string, error) {
	return baseURL + "/" + roomCode, nil
}
func (f fakeProvider) Prejoin(ctx context.Context, page *rod.Page, displayName, password string) error {
	return nil
}
func (f fakeProvider) ClickJoin(ctx context.Context, page *rod.Page) error { return nil }
func (f fakeProvider) WaitUntilJoined(ctx context.Context, page *rod.Page, timeout time.Duration, password string) (JoinResult, error) {
	return JoinResult{Success: true}, nil
}
func (f fakeProvider) WaitInLobby(ctx context.Context, page *rod.Page, maxWait time.Duration) bool {
	return false
}
func (f fakeProvider) SetLayout(ctx context.Context, page *rod.Page, preset string)   {}
func (f fakeProvider) DetectMeetingEnd(ctx context.Context, page *rod.Page) bool      { return false }
func (f fakeProvider) ApplyPassword(ctx context.Context, page *rod.Page, pw string) bool { return true }
func (f fakeProvider) CollectDiagnostics(ctx context.Context, page *rod.Page, dir string, errCode model.ErrorCode, errMsg string, console []ConsoleMessage) (DiagnosticData, error) {
	return DiagnosticData{}, nil
}

func TestRegisterAndGetRoundTrip(t *testing.T) {
	tag := "stub-register-roundtrip"
	Register(tag, func() Provider { return fakeProvider{tag} })
	t.Cleanup(func() { deleteForTest(tag) })

	p, err := Get(tag)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if p.Name() != tag {
		t.Fatalf("Get().Name() = %q, want %q", p.Name(), tag)
	}
}

func TestRegisterPanicsOnDuplicateTag(t *testing.T) {
	tag := "stub-duplicate"
	Register(tag, func() Provider { return fakeProvider{tag} })
	t.Cleanup(func() { deleteForTest(tag) })

	defer func() {
		if recover() == nil {
			t.Fatal("Register() did not panic on duplicate tag")
		}
	}()
	Register(tag, func() Provider { return fakeProvider{tag} })
}

func TestGetUnknownTagListsAvailable(t *testing.T) {
	tag := "stub-listed"
	Register(tag, func() Provider { return fakeProvider{tag} })
	t.Cleanup(func() { deleteForTest(tag) })

	_, err := Get("does-not-exist")
	if err == nil {
		t.Fatal("Get() error = nil, want unknown-tag error")
	}
}

func TestTagsIsSortedAndIncludesRegistered(t *testing.T) {
	tag := "stub-zzz-tags"
	Register(tag, func() Provider { return fakeProvider{tag} })
	t.Cleanup(func() { deleteForTest(tag) })

	tags := Tags()
	found := false
	prev := ""
	for _, tg := range tags {
		if tg < prev {
			t.Fatalf("Tags() not sorted: %v", tags)
		}
		prev = tg
		if tg == tag {
			found = true
		}
	}
	if !found {
		t.Fatalf("Tags() = %v, want to contain %q", tags, tag)
	}
}

// deleteForTest removes a tag from the registry so tests can run repeatedly
// without tripping the duplicate-registration panic.
func deleteForTest(tag string) {
	mu.Lock()
	defer mu.Unlock()
	delete(registry, tag)
}

// SPDX-License-Identifier: MIT

package fake

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/eyeduck-ai/meeting-recorder/internal/uploader"
)

func writeArtifact(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recording.mp4")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestUploadPostsArtifactAndReturnsIncrementingIDs(t *testing.T) {
	u := New()
	defer u.Close()

	path := writeArtifact(t, "fake video bytes")
	var progressed int64
	result1, err := u.Upload(context.Background(), path, uploader.Metadata{Title: "one"}, func(n int64) { progressed = n })
	if err != nil {
		t.Fatalf("first Upload() error = %v", err)
	}
	if progressed != int64(len("fake video bytes")) {
		t.Errorf("progress = %d, want %d", progressed, len("fake video bytes"))
	}
	result2, err := u.Upload(context.Background(), path, uploader.Metadata{Title: "two"}, nil)
	if err != nil {
		t.Fatalf("second Upload() error = %v", err)
	}
	if result1.VideoID == result2.VideoID {
		t.Fatalf("VideoID did not change between uploads: %q", result1.VideoID)
	}
	if result1.VideoURL == "" || result2.VideoURL == "" {
		t.Fatal("Upload() left VideoURL empty")
	}
}

func TestUploadConsumesFailNextOnce(t *testing.T) {
	u := New()
	defer u.Close()

	wantErr := errors.New("simulated upload failure")
	u.FailNext = wantErr

	path := writeArtifact(t, "bytes")
	if _, err := u.Upload(context.Background(), path, uploader.Metadata{}, nil); !errors.Is(err, wantErr) {
		t.Fatalf("first Upload() error = %v, want %v", err, wantErr)
	}
	if _, err := u.Upload(context.Background(), path, uploader.Metadata{}, nil); err != nil {
		t.Fatalf("second Upload() error = %v, want nil (FailNext should be consumed)", err)
	}
}

func TestUploadMissingArtifactReturnsError(t *testing.T) {
	u := New()
	defer u.Close()

	if _, err := u.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"), uploader.Metadata{}, nil); err == nil {
		t.Fatal("Upload() with missing artifact: want error, got nil")
	}
}

// SPDX-License-Identifier: MIT

package noop

import (
	"context"
	"strings"
	"testing"

	"github.com/eyeduck-ai/meeting-recorder/internal/uploader"
)

func TestUploadAlwaysFails(t *testing.T) {
	u := New()
	_, err := u.Upload(context.Background(), "/tmp/recording.mp4", uploader.Metadata{Title: "x"}, nil)
	if err == nil {
		t.Fatal("Upload() error = nil, want non-nil")
	}
}

func TestUploadErrorNamesThePath(t *testing.T) {
	u := New()
	_, err := u.Upload(context.Background(), "/tmp/specific-path.mp4", uploader.Metadata{}, nil)
	if err == nil {
		t.Fatal("Upload() error = nil, want non-nil")
	}
	if got := err.Error(); !strings.Contains(got, "/tmp/specific-path.mp4") {
		t.Fatalf("error %q does not mention the artifact path", got)
	}
}

// SPDX-License-Identifier: MIT

// Package noop is an Uploader that refuses every upload. It is the default
// wired into cmd/meeting-recorderd when upload.enabled is false (and the
// one meeting-recorderctl uses), so upload_enabled schedules fail loudly
// instead of silently pretending to succeed.
package noop

import (
	"context"
	"fmt"

	"github.com/eyeduck-ai/meeting-recorder/internal/uploader"
)

// Uploader always returns an error; see package doc.
type Uploader struct{}

// New returns a no-op Uploader.
func New() Uploader { return Uploader{} }

// Upload implements uploader.Uploader.
func (Uploader) Upload(ctx context.Context, path string, meta uploader.Metadata, progress uploader.ProgressFunc) (uploader.Result, error) {
	return uploader.Result{}, fmt.Errorf("uploader: no hosting uploader configured, cannot upload %s", path)
}

var _ uploader.Uploader = Uploader{}

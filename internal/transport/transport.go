// Package transport mirrors stored pictures to the remote site.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/mschirtzinger/sitesync/internal/execx"
	"github.com/mschirtzinger/sitesync/internal/syncerr"
)

// Uploader copies one local file to the remote side. Uploading the same file
// twice is harmless.
type Uploader interface {
	Upload(ctx context.Context, localPath string) error
}

// Noop is the Uploader used when uploading is disabled.
type Noop struct{}

// Upload does nothing.
func (Noop) Upload(context.Context, string) error { return nil }

// SCP uploads with the scp binary into Server:RemoteDir.
type SCP struct {
	Server    string
	RemoteDir string
	Timeout   time.Duration

	// Binary overrides the scp executable, mainly for tests.
	Binary string
}

// Upload runs scp for localPath. Failures are reported as transport errors.
func (s SCP) Upload(ctx context.Context, localPath string) error {
	if s.Server == "" {
		return syncerr.Transport(fmt.Errorf("scp server not configured"))
	}
	bin := s.Binary
	if bin == "" {
		bin = "scp"
	}
	if _, err := execx.Run(ctx, s.Timeout, "", bin, s.args(localPath)...); err != nil {
		return syncerr.Transport(fmt.Errorf("failed to upload %s to %s: %w", localPath, s.Server, err))
	}
	return nil
}

func (s SCP) args(localPath string) []string {
	return []string{"-q", "-B", localPath, s.Server + ":" + s.RemoteDir}
}

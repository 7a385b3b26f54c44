// Package chroot runs commands in, and translates paths for, the ChromiumOS
// SDK chroot.
package chroot

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.chromium.org/chromite/go/exec"
	"go.chromium.org/chromite/go/skerr"
	"go.chromium.org/chromite/go/sklog"
)

// CrosSDK is the command used to enter the chroot.
const CrosSDK = "cros_sdk"

// Chroot describes an SDK chroot.
type Chroot struct {
	// Path is the location of the chroot on the host. When Inside is set it
	// is "/".
	Path string
	// Inside is true if this process already runs inside the chroot, in which
	// case commands are run directly.
	Inside bool
}

// New returns a Chroot rooted at path on the host.
func New(path string) *Chroot {
	return &Chroot{Path: path}
}

// NewInside returns a Chroot for a process already running inside it.
func NewInside() *Chroot {
	return &Chroot{Path: "/", Inside: true}
}

// FullPath returns the host path of a path inside the chroot.
func (c *Chroot) FullPath(parts ...string) string {
	p := filepath.Join(parts...)
	if c.Inside {
		return p
	}
	return filepath.Join(c.Path, p)
}

// ChrootPath returns the path inside the chroot of a host path. Paths
// outside of the chroot are returned unchanged.
func (c *Chroot) ChrootPath(hostPath string) string {
	if c.Inside {
		return hostPath
	}
	rel, err := filepath.Rel(c.Path, hostPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		sklog.Warningf("%s is not inside the chroot at %s", hostPath, c.Path)
		return hostPath
	}
	return filepath.Join("/", rel)
}

// Tmp returns the host path of the chroot's /tmp.
func (c *Chroot) Tmp() string {
	return c.FullPath("/tmp")
}

// TempDir creates a new directory under the chroot's /tmp, returning its host
// path. The caller should RemoveAll it when done.
func (c *Chroot) TempDir(prefix string) (string, error) {
	dir, err := os.MkdirTemp(c.Tmp(), prefix)
	if err != nil {
		return "", skerr.Wrapf(err, "creating temp dir in %s", c.Tmp())
	}
	return dir, nil
}

// Command returns cmd rewritten to run inside the chroot. Arguments must
// already use chroot paths.
func (c *Chroot) Command(cmd *exec.Command) *exec.Command {
	if c.Inside {
		return cmd
	}
	wrapped := *cmd
	wrapped.Name = CrosSDK
	wrapped.Args = append([]string{"--chroot", c.Path, "--", cmd.Name}, cmd.Args...)
	return &wrapped
}

// Run runs cmd inside the chroot.
func (c *Chroot) Run(ctx context.Context, cmd *exec.Command) error {
	if err := exec.Run(ctx, c.Command(cmd)); err != nil {
		return skerr.Wrapf(err, "running %s in chroot", cmd.Name)
	}
	return nil
}

// Package profile merges, redacts and trims AFDO profiles using the LLVM
// profile tools inside the SDK chroot.
package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"go.chromium.org/chromite/go/exec"
	"go.chromium.org/chromite/go/skerr"
	"go.chromium.org/chromite/go/sklog"
	"go.chromium.org/chromite/go/util"
	"go.chromium.org/chromite/toolchain/go/artifact"
	"go.chromium.org/chromite/toolchain/go/chroot"
	"go.chromium.org/chromite/toolchain/go/compress"
	"go.chromium.org/chromite/toolchain/go/gsstore"
)

// ErrEmptyProfile is returned when a produced profile is too small to hold
// any samples.
var ErrEmptyProfile = errors.New("empty AFDO profile")

// CheckSize returns the size of the profile at path, or ErrEmptyProfile if
// it is smaller than artifact.MinProfileSize. Empty binary profiles still
// have a header, but it never exceeds a page.
func CheckSize(path string) (int64, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, skerr.Wrap(err)
	}
	sklog.Infof("Profile %s has size %s", path, humanize.Bytes(uint64(st.Size())))
	if st.Size() < artifact.MinProfileSize {
		return st.Size(), skerr.Wrapf(ErrEmptyProfile, "%s has %d bytes", path, st.Size())
	}
	return st.Size(), nil
}

// Weighted is a profile with its merge weight.
type Weighted struct {
	Path   string
	Weight int
}

// ProcessOptions selects the edits made by Process.
type ProcessOptions struct {
	// Redact removes symbols folded by identical code folding.
	Redact bool
	// RemoveIndirectCalls strips indirect call targets.
	RemoveIndirectCalls bool
	// ReduceFunctions, if positive, drops the coldest functions until at
	// most this many remain.
	ReduceFunctions int
	// ExtBinary writes the extensible binary format.
	ExtBinary bool
}

// Merger runs the profile tools. All paths given to it are host paths
// inside the chroot.
type Merger struct {
	chroot *chroot.Chroot
	store  gsstore.Store
}

// NewMerger returns a Merger.
func NewMerger(c *chroot.Chroot, store gsstore.Store) *Merger {
	return &Merger{chroot: c, store: store}
}

// Merge merges the weighted profiles into output.
func (m *Merger) Merge(ctx context.Context, profiles []Weighted, output string, extBinary bool) error {
	if len(profiles) == 0 {
		return skerr.Fmt("need profiles to merge")
	}
	args := []string{"merge", "-sample", "-output=" + m.chroot.ChrootPath(output)}
	for _, p := range profiles {
		args = append(args, fmt.Sprintf("-weighted-input=%d,%s", p.Weight, m.chroot.ChrootPath(p.Path)))
	}
	if extBinary {
		args = append(args, "--extbinary")
	}
	return m.chroot.Run(ctx, &exec.Command{Name: artifact.LLVMProfdata, Args: args, Verbose: true, LogStderr: true})
}

// Process converts the profile in to text, applies the edits selected by
// opts, and converts the result back into out. Returns ErrEmptyProfile if
// out is implausibly small.
func (m *Merger) Process(ctx context.Context, in, out string, opts ProcessOptions) error {
	run := func(name string, args ...string) error {
		return m.chroot.Run(ctx, &exec.Command{Name: name, Args: args, Verbose: true, LogStderr: true})
	}

	textTemp := in + ".text.temp"
	if err := run(artifact.LLVMProfdata, "merge", "-sample", "-text", m.chroot.ChrootPath(in), "-output", m.chroot.ChrootPath(textTemp)); err != nil {
		return err
	}
	current := textTemp

	if opts.Redact {
		redacted := in + ".redacted.temp"
		err := util.WithReadFile(current, func(r io.Reader) error {
			return util.WithWriteFile(redacted, func(w io.Writer) error {
				return m.chroot.Run(ctx, &exec.Command{
					Name:      artifact.RedactTextualProfile,
					Stdin:     r,
					Stdout:    w,
					Verbose:   true,
					LogStderr: true,
				})
			})
		})
		if err != nil {
			return skerr.Wrapf(err, "redacting %s", current)
		}
		current = redacted
	}

	if opts.RemoveIndirectCalls {
		removed := in + ".removed.temp"
		if err := run(artifact.RemoveIndirectCalls, "--input="+m.chroot.ChrootPath(current), "--output="+m.chroot.ChrootPath(removed)); err != nil {
			return err
		}
		current = removed
	}

	if opts.ReduceFunctions > 0 {
		reduced := in + ".reduced.tmp"
		if err := run(artifact.RemoveColdFunctions, "--input="+m.chroot.ChrootPath(current), "--output="+m.chroot.ChrootPath(reduced), "--number="+strconv.Itoa(opts.ReduceFunctions)); err != nil {
			return err
		}
		current = reduced
	}

	args := []string{"merge", "-sample", m.chroot.ChrootPath(current), "-output", m.chroot.ChrootPath(out)}
	if opts.ExtBinary {
		args = append(args, "--extbinary")
	}
	if err := run(artifact.LLVMProfdata, args...); err != nil {
		return err
	}
	_, err := CheckSize(out)
	return err
}

// fetch copies url into dir and decompresses it, returning the path of the
// decompressed file.
func (m *Merger) fetch(ctx context.Context, url, dir string) (string, error) {
	compressed := filepath.Join(dir, filepath.Base(url))
	if err := m.store.Copy(ctx, url, compressed); err != nil {
		return "", err
	}
	local := compressed[:len(compressed)-len(filepath.Ext(compressed))]
	if err := compress.UncompressFile(ctx, compressed, local); err != nil {
		return "", err
	}
	return local, nil
}

// CreateReleaseProfile merges the CWP and benchmark profiles at the given
// URLs into <outputDir>/<mergedName>, then redacts and trims it into
// <mergedName>-redacted.afdo, whose path is returned.
func (m *Merger) CreateReleaseProfile(ctx context.Context, cwpURL, benchURL, outputDir, mergedName string) (string, error) {
	cwp, err := m.fetch(ctx, cwpURL, outputDir)
	if err != nil {
		return "", err
	}
	bench, err := m.fetch(ctx, benchURL, outputDir)
	if err != nil {
		return "", err
	}
	merged := filepath.Join(outputDir, mergedName)
	if err := m.Merge(ctx, []Weighted{
		{Path: cwp, Weight: artifact.ReleaseCWPMergeWeight},
		{Path: bench, Weight: artifact.ReleaseBenchmarkMergeWeight},
	}, merged, false); err != nil {
		return "", err
	}
	redacted := merged + artifact.RedactedAFDOSuffix
	if err := m.Process(ctx, merged, redacted, ProcessOptions{
		Redact:              true,
		RemoveIndirectCalls: true,
		ReduceFunctions:     artifact.ReleaseProfileReduceFuncs,
		ExtBinary:           true,
	}); err != nil {
		return "", err
	}
	return redacted, nil
}

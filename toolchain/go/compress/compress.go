// Package compress compresses and decompresses artifacts, choosing the
// algorithm from the file name. Gzip and zstd are handled in process; bzip2
// and xz use the standard command line tools.
package compress

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"go.chromium.org/chromite/go/exec"
	"go.chromium.org/chromite/go/skerr"
	"go.chromium.org/chromite/go/sklog"
	"go.chromium.org/chromite/go/util"
)

// Type is a compression algorithm.
type Type int

const (
	None Type = iota
	Gzip
	Bzip2
	Xz
	Zstd
)

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case Gzip:
		return "gzip"
	case Bzip2:
		return "bzip2"
	case Xz:
		return "xz"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Extension returns the file suffix for t.
func (t Type) Extension() string {
	switch t {
	case Gzip:
		return ".gz"
	case Bzip2:
		return ".bz2"
	case Xz:
		return ".xz"
	case Zstd:
		return ".zst"
	}
	return ""
}

// TypeFromName returns the compression Type implied by the suffix of name.
func TypeFromName(name string) Type {
	switch {
	case strings.HasSuffix(name, ".gz"), strings.HasSuffix(name, ".tgz"):
		return Gzip
	case strings.HasSuffix(name, ".bz2"), strings.HasSuffix(name, ".tbz2"):
		return Bzip2
	case strings.HasSuffix(name, ".xz"), strings.HasSuffix(name, ".txz"):
		return Xz
	case strings.HasSuffix(name, ".zst"), strings.HasSuffix(name, ".zstd"):
		return Zstd
	}
	return None
}

// tool returns the external program implementing t.
func tool(t Type) string {
	switch t {
	case Bzip2:
		return "bzip2"
	case Xz:
		return "xz"
	}
	return ""
}

// runTool streams the output of the compression tool for t into out.
func runTool(ctx context.Context, t Type, in, out string, decompress bool) error {
	args := []string{"-c"}
	if decompress {
		args = []string{"-dc"}
	}
	args = append(args, "--", in)
	return util.WithWriteFile(out, func(w io.Writer) error {
		return exec.Run(ctx, &exec.Command{
			Name:      tool(t),
			Args:      args,
			Stdout:    w,
			LogStderr: true,
		})
	})
}

func copyFile(in, out string, wrap func(io.Writer) (io.WriteCloser, error), unwrap func(io.Reader) (io.Reader, func(), error)) error {
	return util.WithReadFile(in, func(r io.Reader) error {
		return util.WithWriteFile(out, func(w io.Writer) error {
			src := r
			if unwrap != nil {
				u, closeFn, err := unwrap(r)
				if err != nil {
					return err
				}
				defer closeFn()
				src = u
			}
			if wrap == nil {
				_, err := io.Copy(w, src)
				return err
			}
			wc, err := wrap(w)
			if err != nil {
				return err
			}
			if _, err := io.Copy(wc, src); err != nil {
				util.Close(wc)
				return err
			}
			return wc.Close()
		})
	})
}

// CompressFile compresses in into out, using the algorithm implied by the
// name of out.
func CompressFile(ctx context.Context, in, out string) error {
	t := TypeFromName(out)
	var err error
	switch t {
	case None:
		err = copyFile(in, out, nil, nil)
	case Gzip:
		err = copyFile(in, out, func(w io.Writer) (io.WriteCloser, error) {
			return gzip.NewWriter(w), nil
		}, nil)
	case Zstd:
		err = copyFile(in, out, func(w io.Writer) (io.WriteCloser, error) {
			return zstd.NewWriter(w)
		}, nil)
	default:
		err = runTool(ctx, t, in, out, false)
	}
	if err != nil {
		return skerr.Wrapf(err, "compressing %s to %s with %s", in, out, t)
	}
	return nil
}

// UncompressFile decompresses in into out, using the algorithm implied by
// the name of in.
func UncompressFile(ctx context.Context, in, out string) error {
	t := TypeFromName(in)
	var err error
	switch t {
	case None:
		err = copyFile(in, out, nil, nil)
	case Gzip:
		err = copyFile(in, out, nil, func(r io.Reader) (io.Reader, func(), error) {
			gz, err := gzip.NewReader(r)
			if err != nil {
				return nil, nil, err
			}
			return gz, func() { util.Close(gz) }, nil
		})
	case Zstd:
		err = copyFile(in, out, nil, func(r io.Reader) (io.Reader, func(), error) {
			d, err := zstd.NewReader(r)
			if err != nil {
				return nil, nil, err
			}
			return d, d.Close, nil
		})
	default:
		err = runTool(ctx, t, in, out, true)
	}
	if err != nil {
		return skerr.Wrapf(err, "decompressing %s to %s with %s", in, out, t)
	}
	return nil
}

// CompressAFDOFiles compresses each target into outputDir, appending suffix
// to its base name. If inputDir is set, targets are looked up there by base
// name. Returns the paths of the compressed files.
func CompressAFDOFiles(ctx context.Context, targets []string, inputDir, outputDir, suffix string) ([]string, error) {
	rv := make([]string, 0, len(targets))
	for _, target := range targets {
		name := filepath.Base(target)
		in := target
		if inputDir != "" {
			in = filepath.Join(inputDir, name)
		}
		if _, err := os.Stat(in); err != nil {
			return nil, skerr.Wrapf(err, "file %s to compress does not exist", in)
		}
		out := filepath.Join(outputDir, name+suffix)
		if err := CompressFile(ctx, in, out); err != nil {
			return nil, err
		}
		if st, err := os.Stat(out); err == nil {
			sklog.Infof("CompressAFDOFiles produced %s, size %s", out, humanize.Bytes(uint64(st.Size())))
		}
		rv = append(rv, out)
	}
	return rv, nil
}

// CreateTarball creates the tarball out from the given inputs, relative to
// cwd. The compression is implied by the name of out.
func CreateTarball(ctx context.Context, out, cwd string, inputs []string) error {
	args := []string{"-c"}
	switch TypeFromName(out) {
	case Gzip:
		args = append(args, "-z")
	case Bzip2:
		args = append(args, "-j")
	case Xz:
		args = append(args, "-J")
	case Zstd:
		args = append(args, "--zstd")
	}
	args = append(args, "-f", out, "-C", cwd, "--")
	args = append(args, inputs...)
	if err := exec.Run(ctx, &exec.Command{Name: "tar", Args: args, LogStderr: true}); err != nil {
		return skerr.Wrapf(err, "creating tarball %s", out)
	}
	return nil
}

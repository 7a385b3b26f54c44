package ebuild

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.chromium.org/chromite/go/exec"
	"go.chromium.org/chromite/go/skerr"
	"go.chromium.org/chromite/go/sklog"
	"go.chromium.org/chromite/go/util"
	"go.chromium.org/chromite/toolchain/go/chroot"
)

// LiveVersion is the version of the unversioned ebuild tracking tip of tree.
const LiveVersion = "9999"

var (
	// ErrPatch is returned when an ebuild cannot be patched, eg. because a
	// variable to substitute is not assigned anywhere.
	ErrPatch = errors.New("ebuild file does not have appropriate marker for AFDO")
	// ErrManifest is returned when the Manifest cannot be regenerated.
	ErrManifest = errors.New("failed to regenerate ebuild manifest")
)

// ManifestGenerator regenerates the Manifest next to an ebuild.
type ManifestGenerator interface {
	GenerateManifest(ctx context.Context, ebuildPath string) error
}

// BoardManifest runs "ebuild-<board> <ebuild> manifest --force" inside a
// chroot.
type BoardManifest struct {
	Chroot *chroot.Chroot
	Board  string
}

// GenerateManifest implements ManifestGenerator.
func (m *BoardManifest) GenerateManifest(ctx context.Context, ebuildPath string) error {
	return m.Chroot.Run(ctx, &exec.Command{
		Name:      "ebuild-" + m.Board,
		Args:      []string{m.Chroot.ChrootPath(ebuildPath), "manifest", "--force"},
		LogStderr: true,
	})
}

// Patcher rewrites variable assignments in ebuilds.
type Patcher struct {
	manifest ManifestGenerator
}

// NewPatcher returns a Patcher. If manifest is nil, Manifests are not
// regenerated.
func NewPatcher(manifest ManifestGenerator) *Patcher {
	return &Patcher{manifest: manifest}
}

type rule struct {
	name  string
	value string
	re    *regexp.Regexp
}

// substitute applies r to the first assignment on line, if any.
func (r rule) substitute(line string) (string, bool) {
	loc := r.re.FindStringSubmatchIndex(line)
	if loc == nil {
		return line, false
	}
	return line[:loc[0]] + line[loc[2]:loc[3]] + `"` + r.value + `"` + line[loc[6]:loc[7]] + line[loc[1]:], true
}

// Patch sets each variable in subs to its value, quoted, in the ebuild
// described by info. Each variable must be assigned on exactly one line,
// and a line is rewritten by at most one variable. If
// bumpRevision is true, the patched ebuild is renamed with its revision
// incremented and the old file removed; otherwise info must describe the
// live ebuild, which is rewritten in place. The original file is not
// modified if any variable is missing or assigned more than once. Returns the Info of the patched
// ebuild.
func (p *Patcher) Patch(ctx context.Context, info Info, subs map[string]string, bumpRevision bool) (Info, error) {
	sklog.Infof("Patching %s with %v", info.Path, subs)
	if bumpRevision && info.Version == LiveVersion {
		return Info{}, skerr.Wrapf(ErrPatch, "cannot bump the revision of live ebuild %s", info.Path)
	}
	if !bumpRevision && info.Version != LiveVersion {
		return Info{}, skerr.Wrapf(ErrPatch, "stable ebuild %s must have its revision bumped", info.Path)
	}

	names := make([]string, 0, len(subs))
	for name := range subs {
		names = append(names, name)
	}
	sort.Strings(names)
	rules := make([]rule, 0, len(names))
	for _, name := range names {
		rules = append(rules, rule{name: name, value: subs[name], re: variableRegex(name)})
	}

	st, err := os.Stat(info.Path)
	if err != nil {
		return Info{}, skerr.Wrapf(err, "patching %s", info.Path)
	}
	tmp, err := os.CreateTemp(filepath.Dir(info.Path), filepath.Base(info.Path)+".new")
	if err != nil {
		return Info{}, skerr.Wrapf(err, "patching %s", info.Path)
	}
	matched := map[string]int{}
	writeErr := util.WithReadFile(info.Path, func(f io.Reader) error {
		r := bufio.NewReader(f)
		w := bufio.NewWriter(tmp)
		for {
			line, err := r.ReadString('\n')
			if line != "" {
				for _, rl := range rules {
					if patched, ok := rl.substitute(line); ok {
						line = patched
						matched[rl.name]++
						break
					}
				}
				if _, err := w.WriteString(line); err != nil {
					return err
				}
			}
			if err == io.EOF {
				break
			} else if err != nil {
				return err
			}
		}
		return w.Flush()
	})
	if err := tmp.Close(); err != nil && writeErr == nil {
		writeErr = err
	}
	if writeErr != nil {
		util.Remove(tmp.Name())
		return Info{}, skerr.Wrapf(writeErr, "patching %s", info.Path)
	}
	var missing, repeated []string
	for _, name := range names {
		switch n := matched[name]; {
		case n == 0:
			missing = append(missing, name)
		case n > 1:
			repeated = append(repeated, name)
		}
	}
	if len(missing) > 0 {
		util.Remove(tmp.Name())
		return Info{}, skerr.Wrapf(ErrPatch, "unable to update %s in %s", strings.Join(missing, ", "), info.Path)
	}
	if len(repeated) > 0 {
		util.Remove(tmp.Name())
		return Info{}, skerr.Wrapf(ErrPatch, "%s assigned more than once in %s", strings.Join(repeated, ", "), info.Path)
	}
	if err := os.Chmod(tmp.Name(), st.Mode().Perm()); err != nil {
		util.Remove(tmp.Name())
		return Info{}, skerr.Wrap(err)
	}

	rv := info
	if bumpRevision {
		rv.Revision = info.Revision + 1
		rv.Path = filepath.Join(filepath.Dir(info.Path), fmt.Sprintf("%s-%s-r%d%s", info.Package, info.Version, rv.Revision, Suffix))
	}
	if err := os.Rename(tmp.Name(), rv.Path); err != nil {
		util.Remove(tmp.Name())
		return Info{}, skerr.Wrapf(err, "patching %s", info.Path)
	}
	if bumpRevision {
		if err := os.Remove(info.Path); err != nil && !os.IsNotExist(err) {
			return Info{}, skerr.Wrapf(err, "removing %s", info.Path)
		}
	}

	if p.manifest == nil {
		sklog.Infof("No build target; not regenerating the Manifest for %s", rv.Path)
		return rv, nil
	}
	if err := p.manifest.GenerateManifest(ctx, rv.Path); err != nil {
		return Info{}, skerr.Wrapf(fmt.Errorf("%w: %w", ErrManifest, err), "%s", rv.Path)
	}
	return rv, nil
}

// Package ebuild reads and patches the assignment lines of ebuild files.
// Ebuilds are treated as line oriented KEY=value text; shell constructs are
// never evaluated.
package ebuild

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.chromium.org/chromite/go/skerr"
	"go.chromium.org/chromite/go/sklog"
	"go.chromium.org/chromite/go/util"
)

// Suffix is the file extension of ebuilds.
const Suffix = ".ebuild"

// pvRegex splits "<package>-<version>[-r<revision>]".
var pvRegex = regexp.MustCompile(`^([\w+][\w+.-]*?)-(\d+(?:\.\d+)*[a-z]?(?:_(?:alpha|beta|pre|rc|p)\d*)*)(?:-r(\d+))?$`)

// Info identifies an ebuild file.
type Info struct {
	Path     string
	Category string
	Package  string
	Version  string
	Revision int
}

// ParseInfo returns the Info for the ebuild at path, which must be named
// <package>-<version>[-r<revision>].ebuild.
func ParseInfo(path, category string) (Info, error) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, Suffix) {
		return Info{}, skerr.Fmt("%s is not an ebuild", path)
	}
	m := pvRegex.FindStringSubmatch(strings.TrimSuffix(base, Suffix))
	if m == nil {
		return Info{}, skerr.Fmt("unable to parse package and version from %s", path)
	}
	rv := Info{
		Path:     path,
		Category: category,
		Package:  m[1],
		Version:  m[2],
	}
	if m[3] != "" {
		rev, err := strconv.Atoi(m[3])
		if err != nil {
			return Info{}, skerr.Wrap(err)
		}
		rv.Revision = rev
	}
	return rv, nil
}

// VR returns the version and revision, eg. 77.0.3849.0_rc-r1.
func (i Info) VR() string {
	if i.Revision == 0 {
		return i.Version
	}
	return fmt.Sprintf("%s-r%d", i.Version, i.Revision)
}

// VersionNoRev returns the version with any suffix removed, eg. 77.0.3849.0.
func (i Info) VersionNoRev() string {
	return strings.SplitN(i.Version, "_", 2)[0]
}

// Branch returns the first component of the version, eg. 77.
func (i Info) Branch() string {
	return strings.SplitN(i.Version, ".", 2)[0]
}

// CPV returns category/package-version[-rN].
func (i Info) CPV() string {
	return fmt.Sprintf("%s/%s-%s", i.Category, i.Package, i.VR())
}

// versionInts returns the numeric components of the version followed by the
// revision.
func (i Info) versionInts() []int {
	var rv []int
	for _, part := range strings.Split(i.VersionNoRev(), ".") {
		n, err := strconv.Atoi(strings.TrimRightFunc(part, func(r rune) bool { return r < '0' || r > '9' }))
		if err != nil {
			n = 0
		}
		rv = append(rv, n)
	}
	return append(rv, i.Revision)
}

func less(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// FindStable returns the stable ebuild of category/pkg in overlay. Stable
// ebuilds have at least one '.' in their version. When there are several,
// the highest version among those with a revision is used.
func FindStable(overlay, category, pkg string) (Info, error) {
	pattern := filepath.Join(overlay, category, pkg, "*-*.*"+Suffix)
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return Info{}, skerr.Wrap(err)
	}
	sklog.Infof("Glob path %s yielded: %v", pattern, paths)
	if len(paths) == 1 {
		return ParseInfo(paths[0], category)
	}
	var best *Info
	for _, p := range paths {
		info, err := ParseInfo(p, category)
		if err != nil {
			return Info{}, err
		}
		if info.Revision == 0 {
			continue
		}
		if best == nil || less(best.versionInts(), info.versionInts()) {
			i := info
			best = &i
		}
	}
	if best == nil {
		return Info{}, skerr.Fmt("no valid stable ebuild found for %s/%s among: %v", category, pkg, paths)
	}
	return *best, nil
}

// variableRegex matches an assignment of name, capturing the text before the
// value, the value (quoted, or the rest of the line) and anything after a
// quoted value.
func variableRegex(name string) *regexp.Regexp {
	return regexp.MustCompile(`(\b` + regexp.QuoteMeta(name) + `\b=)("[^"]*"|.*)(.*)`)
}

// ReadVariable returns the value assigned to name in the ebuild at path,
// without quotes. Returns false if there is no assignment.
func ReadVariable(path, name string) (string, bool, error) {
	re := variableRegex(name)
	var value string
	found := false
	err := util.WithReadFile(path, func(f io.Reader) error {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if m := re.FindStringSubmatch(scanner.Text()); m != nil {
				value = m[2]
				found = true
				return nil
			}
		}
		return scanner.Err()
	})
	if err != nil {
		return "", false, skerr.Wrapf(err, "reading %s", path)
	}
	if !found {
		sklog.Infof("%s is not found in the ebuild: %s", name, path)
		return "", false, nil
	}
	if len(value) >= 2 && strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
		value = value[1 : len(value)-1]
	}
	return value, true, nil
}

// Package profilename parses and formats the names of AFDO profiles.
//
// Three grammars are understood:
//
//	benchmark: chromeos-chrome-amd64-77.0.3849.0_rc-r1[-merged].afdo[.bz2]
//	CWP:       R77-3809.38-1562580965[.afdo|.gcov][.xz]
//	release:   chromeos-chrome-amd64-atom-77-3809.38-1562580965-benchmark-77.0.3849.0-r1-redacted.afdo[.xz]
package profilename

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path"
	"regexp"
	"strconv"
	"time"

	"go.chromium.org/chromite/go/now"
	"go.chromium.org/chromite/go/skerr"
)

var (
	benchmarkRegex = regexp.MustCompile(`^chromeos-chrome-(?:\w+)-(\d+)\.(\d+)\.(\d+)\.(\d+)(?:_rc)?-r(\d+)(-merged)?\.afdo(?:\.bz2)?$`)
	cwpRegex       = regexp.MustCompile(`^R(\d+)-(\d+)\.(\d+)-(\d+)(?:\.afdo|\.gcov)?(?:\.xz)?$`)
	mergedRegex    = regexp.MustCompile(`^chromeos-chrome-(?:amd64|arm)-(?:\w+)-(\d+)-(\d+)\.(\d+)-(\d+)-benchmark-(\d+)\.(\d+)\.(\d+)\.(\d+)-r(\d+)-redacted\.afdo(?:\.xz)?$`)
)

// ErrUnparseableName is returned when a name does not match the expected
// grammar. Callers scanning listings should skip such names.
var ErrUnparseableName = errors.New("unparseable profile name")

// BenchmarkVersion identifies a benchmark profile.
type BenchmarkVersion struct {
	Major    int
	Minor    int
	Build    int
	Patch    int
	Revision int
	IsMerged bool
}

// Ints returns the numeric fields in comparison order.
func (v BenchmarkVersion) Ints() []int64 {
	return []int64{int64(v.Major), int64(v.Minor), int64(v.Build), int64(v.Patch), int64(v.Revision)}
}

// Compare returns -1, 0 or 1 as v is less than, equal to or greater than
// other. IsMerged does not participate.
func (v BenchmarkVersion) Compare(other BenchmarkVersion) int {
	return compareInts(v.Ints(), other.Ints())
}

func (v BenchmarkVersion) String() string {
	return fmt.Sprintf("%d.%d.%d.%d-r%d", v.Major, v.Minor, v.Build, v.Patch, v.Revision)
}

// CWPVersion identifies a CWP profile.
type CWPVersion struct {
	Major int
	Build int
	Patch int
	// Clock is the collection time, in seconds since the epoch.
	Clock int64
}

// Ints returns the numeric fields in comparison order.
func (v CWPVersion) Ints() []int64 {
	return []int64{int64(v.Major), int64(v.Build), int64(v.Patch), v.Clock}
}

// Compare returns -1, 0 or 1 as v is less than, equal to or greater than
// other.
func (v CWPVersion) Compare(other CWPVersion) int {
	return compareInts(v.Ints(), other.Ints())
}

func (v CWPVersion) String() string {
	return fmt.Sprintf("%d-%d.%d-%d", v.Major, v.Build, v.Patch, v.Clock)
}

func compareInts(a, b []int64) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] < b[i] {
			return -1
		} else if a[i] > b[i] {
			return 1
		}
	}
	if len(a) < len(b) {
		return -1
	} else if len(a) > len(b) {
		return 1
	}
	return 0
}

// parseInts returns the integer values of the given capture groups.
func parseInts(groups []string) ([]int64, error) {
	rv := make([]int64, 0, len(groups))
	for _, g := range groups {
		i, err := strconv.ParseInt(g, 10, 64)
		if err != nil {
			return nil, skerr.Wrapf(err, "failed to parse int from %q", g)
		}
		rv = append(rv, i)
	}
	return rv, nil
}

func match(re *regexp.Regexp, kind, name string) ([]string, error) {
	m := re.FindStringSubmatch(name)
	if m == nil {
		return nil, skerr.Wrapf(ErrUnparseableName, "%s profile name %q", kind, name)
	}
	return m[1:], nil
}

// ParseBenchmark parses the basename of a benchmark profile.
func ParseBenchmark(name string) (BenchmarkVersion, error) {
	m, err := match(benchmarkRegex, "benchmark", name)
	if err != nil {
		return BenchmarkVersion{}, err
	}
	ints, err := parseInts(m[:5])
	if err != nil {
		return BenchmarkVersion{}, err
	}
	return BenchmarkVersion{
		Major:    int(ints[0]),
		Minor:    int(ints[1]),
		Build:    int(ints[2]),
		Patch:    int(ints[3]),
		Revision: int(ints[4]),
		IsMerged: m[5] != "",
	}, nil
}

// ParseCWP parses the basename of a CWP or kernel profile.
func ParseCWP(name string) (CWPVersion, error) {
	m, err := match(cwpRegex, "CWP", name)
	if err != nil {
		return CWPVersion{}, err
	}
	ints, err := parseInts(m)
	if err != nil {
		return CWPVersion{}, err
	}
	return CWPVersion{Major: int(ints[0]), Build: int(ints[1]), Patch: int(ints[2]), Clock: ints[3]}, nil
}

// ParseMerged parses the basename of a redacted release profile. The
// benchmark half of a release profile is never merged.
func ParseMerged(name string) (BenchmarkVersion, CWPVersion, error) {
	m, err := match(mergedRegex, "release", name)
	if err != nil {
		return BenchmarkVersion{}, CWPVersion{}, err
	}
	ints, err := parseInts(m)
	if err != nil {
		return BenchmarkVersion{}, CWPVersion{}, err
	}
	cwp := CWPVersion{Major: int(ints[0]), Build: int(ints[1]), Patch: int(ints[2]), Clock: ints[3]}
	bench := BenchmarkVersion{
		Major:    int(ints[4]),
		Minor:    int(ints[5]),
		Build:    int(ints[6]),
		Patch:    int(ints[7]),
		Revision: int(ints[8]),
	}
	return bench, cwp, nil
}

// CombinedName returns the name mixing a CWP and a benchmark profile, eg.
// atom-77-3809.38-1562580965-benchmark-77.0.3849.0-r1.
func CombinedName(cwp CWPVersion, cwpArch string, bench BenchmarkVersion) string {
	return fmt.Sprintf("%s-%d-%d.%d-%d-benchmark-%d.%d.%d.%d-r%d",
		cwpArch, cwp.Major, cwp.Build, cwp.Patch, cwp.Clock,
		bench.Major, bench.Minor, bench.Build, bench.Patch, bench.Revision)
}

// FormatBenchmark returns the uncompressed name of the benchmark profile for
// arch and v, eg. chromeos-chrome-amd64-77.0.3849.0_rc-r1.afdo.
func FormatBenchmark(arch string, v BenchmarkVersion) string {
	merged := ""
	if v.IsMerged {
		merged = "-merged"
	}
	return fmt.Sprintf("chromeos-chrome-%s-%d.%d.%d.%d_rc-r%d%s.afdo", arch, v.Major, v.Minor, v.Build, v.Patch, v.Revision, merged)
}

// ValidBenchmark returns the version of the given benchmark profile, which
// may be a full URL. Returns false for unparseable and merged profiles.
func ValidBenchmark(url string) (BenchmarkVersion, bool) {
	v, err := ParseBenchmark(path.Base(url))
	if err != nil || v.IsMerged {
		return BenchmarkVersion{}, false
	}
	return v, true
}

// Age returns the age in whole days of the given CWP or kernel profile,
// measured from its clock field to now.Now(ctx).
func Age(ctx context.Context, name string) (int, error) {
	v, err := ParseCWP(path.Base(name))
	if err != nil {
		return 0, err
	}
	d := now.Since(ctx, time.Unix(v.Clock, 0))
	return int(math.Floor(d.Hours() / 24)), nil
}

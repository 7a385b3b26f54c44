// Package locator finds AFDO artifacts in cloud storage.
package locator

import (
	"context"
	"errors"
	"path"
	"regexp"
	"strconv"
	"strings"

	"go.chromium.org/chromite/go/skerr"
	"go.chromium.org/chromite/go/sklog"
	"go.chromium.org/chromite/toolchain/go/gsstore"
	"go.chromium.org/chromite/toolchain/go/profilename"
)

var (
	// ErrNoProfilesInBucket is returned by FindLatest when no object in any
	// location belongs to the requested branch or the one before it.
	ErrNoProfilesInBucket = errors.New("no profiles found in bucket")
	// ErrNoValidLatestArtifact is returned by FindLatest when objects exist
	// for the branch but none of them can be ranked.
	ErrNoValidLatestArtifact = errors.New("no valid latest artifact")
	// ErrMultipleArtifacts is returned by FindArtifact when a name matches
	// more than one object.
	ErrMultipleArtifacts = errors.New("multiple artifacts match")
)

// Rank orders candidate artifacts; larger is more preferred. Ranks are
// compared element by element.
type Rank []int64

// Compare returns -1, 0 or 1 as r is less than, equal to or greater than
// other.
func (r Rank) Compare(other Rank) int {
	for i := 0; i < len(r) && i < len(other); i++ {
		if r[i] < other[i] {
			return -1
		} else if r[i] > other[i] {
			return 1
		}
	}
	if len(r) < len(other) {
		return -1
	} else if len(r) > len(other) {
		return 1
	}
	return 0
}

// RankFunc returns the Rank of the artifact at url, or an empty Rank if the
// artifact should not be considered.
type RankFunc func(url string) Rank

// RankCWP ranks CWP and kernel profiles by their clock field.
func RankCWP(url string) Rank {
	v, err := profilename.ParseCWP(path.Base(url))
	if err != nil {
		sklog.Debugf("Skipping %s: %s", url, err)
		return nil
	}
	return Rank{v.Clock}
}

// RankBenchmark ranks unmerged benchmark profiles by version.
func RankBenchmark(url string) Rank {
	v, ok := profilename.ValidBenchmark(url)
	if !ok {
		sklog.Debugf("Skipping %s: not a valid unmerged benchmark profile", url)
		return nil
	}
	return Rank(v.Ints())
}

// Locator searches cloud storage.
type Locator struct {
	store gsstore.Store
}

// New returns a Locator backed by store.
func New(store gsstore.Store) *Locator {
	return &Locator{store: store}
}

// onBranch returns the objects whose names place them on the given Chrome
// branch, either as a CWP profile (R<branch>-...) or as a benchmark profile
// for arch (chromeos-chrome-<arch>-<branch>.*).
func onBranch(objs []gsstore.Object, branch, arch string) []gsstore.Object {
	cwp := regexp.MustCompile(`^R` + regexp.QuoteMeta(branch) + `-`)
	bench := regexp.MustCompile(`^chromeos-chrome-` + regexp.QuoteMeta(arch) + `-` + regexp.QuoteMeta(branch) + `\.`)
	var rv []gsstore.Object
	for _, obj := range objs {
		name := path.Base(obj.URL)
		if cwp.MatchString(name) || bench.MatchString(name) {
			rv = append(rv, obj)
		}
	}
	return rv
}

// FindLatest returns the URL of the highest ranked artifact for the given
// Chrome branch across all locations. If the branch has no artifacts at
// all, the previous branch is used. Locations which do not exist are
// ignored. Equal ranks are broken by preferring the larger URL.
func (l *Locator) FindLatest(ctx context.Context, locations []string, rank RankFunc, branch, arch string) (string, error) {
	var all []gsstore.Object
	for _, loc := range locations {
		objs, err := l.store.List(ctx, loc)
		if err != nil {
			if errors.Is(err, gsstore.ErrNoSuchKey) {
				sklog.Infof("Nothing found in %s", loc)
				continue
			}
			return "", skerr.Wrap(err)
		}
		all = append(all, objs...)
	}

	results := onBranch(all, branch, arch)
	if len(results) == 0 {
		b, err := strconv.Atoi(branch)
		if err != nil {
			return "", skerr.Wrapf(err, "invalid Chrome branch %q", branch)
		}
		prev := strconv.Itoa(b - 1)
		sklog.Infof("No artifacts for branch %s; trying branch %s", branch, prev)
		results = onBranch(all, prev, arch)
	}
	if len(results) == 0 {
		return "", skerr.Wrapf(ErrNoProfilesInBucket, "no files for branch %s found in %s", branch, strings.Join(locations, " "))
	}

	var latest string
	var latestRank Rank
	for _, obj := range results {
		r := rank(obj.URL)
		if len(r) == 0 {
			continue
		}
		if latest == "" {
			latest, latestRank = obj.URL, r
			continue
		}
		if c := r.Compare(latestRank); c > 0 || (c == 0 && obj.URL > latest) {
			latest, latestRank = obj.URL, r
		}
	}
	if latest == "" {
		return "", skerr.Wrapf(ErrNoValidLatestArtifact, "in %s (example of invalid artifact: %s)", strings.Join(locations, ","), results[0].URL)
	}
	sklog.Infof("Latest AFDO artifact is %s", latest)
	return latest, nil
}

// FindArtifact returns the URL of the object called name, which may contain
// '*' wildcards, in the first location where it matches anything. Returns
// "" if no location matches and ErrMultipleArtifacts if the first matching
// location has more than one match.
func (l *Locator) FindArtifact(ctx context.Context, name string, locations []string) (string, error) {
	for _, loc := range locations {
		url := strings.TrimSuffix(loc, "/") + "/" + name
		if !strings.Contains(name, "*") {
			exists, err := l.store.Exists(ctx, url)
			if err != nil {
				return "", skerr.Wrap(err)
			}
			if exists {
				return url, nil
			}
			continue
		}
		objs, err := l.store.List(ctx, url)
		if err != nil {
			if errors.Is(err, gsstore.ErrNoSuchKey) {
				continue
			}
			return "", skerr.Wrap(err)
		}
		if len(objs) > 1 {
			urls := make([]string, 0, len(objs))
			for _, o := range objs {
				urls = append(urls, o.URL)
			}
			return "", skerr.Wrapf(ErrMultipleArtifacts, "%s: %s", name, strings.Join(urls, ", "))
		}
		if len(objs) == 1 {
			return objs[0].URL, nil
		}
	}
	sklog.Infof("%s not found in %s", name, strings.Join(locations, ", "))
	return "", nil
}

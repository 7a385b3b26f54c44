package profile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.chromium.org/chromite/go/skerr"
	"go.chromium.org/chromite/go/sklog"
	"go.chromium.org/chromite/toolchain/go/artifact"
	"go.chromium.org/chromite/toolchain/go/gsstore"
	"go.chromium.org/chromite/toolchain/go/profilename"
)

// BenchmarkPool lists the compressed benchmark profiles for arch under
// benchmarkURL. A location with no profiles yields an empty pool.
func (m *Merger) BenchmarkPool(ctx context.Context, benchmarkURL, arch string) ([]gsstore.Object, error) {
	pattern := strings.TrimSuffix(benchmarkURL, "/") + "/chromeos-chrome-" + arch + "-*" + artifact.AFDOSuffix + artifact.Bzip2Suffix
	objs, err := m.store.List(ctx, pattern)
	if err != nil {
		if errors.Is(err, gsstore.ErrNoSuchKey) {
			sklog.Warningf("Did not find valid benchmark profiles in %s.", pattern)
			return nil, nil
		}
		return nil, skerr.Wrap(err)
	}
	return objs, nil
}

// RecentMerge describes a rolling window merge of benchmark profiles.
type RecentMerge struct {
	// NewProfile is the uncompressed benchmark profile just created.
	NewProfile string
	// Pool holds the published benchmark profiles.
	Pool []gsstore.Object
	// MaxCount is the number of profiles to merge, NewProfile included.
	MaxCount int
	// MaxAge excludes candidates created longer than this before
	// NewProfile was modified.
	MaxAge time.Duration
	// Arch selects redaction for the reduced footprint variant.
	Arch string
	// OutputDir receives the downloaded and merged profiles.
	OutputDir string
}

type candidate struct {
	version profilename.BenchmarkVersion
	obj     gsstore.Object
}

// MergeRecentBenchmarkProfiles merges NewProfile with the most recent
// eligible profiles in the pool, each with equal weight, and trims the
// result. Returns the base name of the merged profile in OutputDir, or ""
// if there is nothing to merge.
func (m *Merger) MergeRecentBenchmarkProfiles(ctx context.Context, req RecentMerge) (string, error) {
	if req.MaxCount == 1 {
		return "", nil
	}
	newName := filepath.Base(req.NewProfile)
	newVersion, err := profilename.ParseBenchmark(newName)
	if err != nil {
		return "", err
	}
	st, err := os.Stat(req.NewProfile)
	if err != nil {
		return "", skerr.Wrap(err)
	}
	cutoff := st.ModTime().Add(-req.MaxAge)

	var candidates []candidate
	for _, obj := range req.Pool {
		v, ok := profilename.ValidBenchmark(obj.URL)
		if !ok || v.Compare(newVersion) > 0 {
			continue
		}
		if strings.TrimSuffix(filepath.Base(obj.URL), artifact.Bzip2Suffix) == newName {
			continue
		}
		if obj.Created.Before(cutoff) {
			continue
		}
		candidates = append(candidates, candidate{version: v, obj: obj})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if c := candidates[i].version.Compare(candidates[j].version); c != 0 {
			return c < 0
		}
		return candidates[i].obj.URL < candidates[j].obj.URL
	})
	if keep := req.MaxCount - 1; keep >= 0 && len(candidates) > keep {
		candidates = candidates[len(candidates)-keep:]
	}
	if len(candidates) == 0 {
		sklog.Warningf("Skipping merged profile creation: no merge candidates found for %s", newName)
		return "", nil
	}
	seen := map[string]bool{}
	for _, c := range candidates {
		if seen[c.obj.URL] {
			return "", skerr.Fmt("duplicate merge candidate %s", c.obj.URL)
		}
		seen[c.obj.URL] = true
	}

	profiles := make([]Weighted, 0, len(candidates)+1)
	for _, c := range candidates {
		local, err := m.fetch(ctx, c.obj.URL, req.OutputDir)
		if err != nil {
			return "", err
		}
		profiles = append(profiles, Weighted{Path: local, Weight: 1})
	}
	profiles = append(profiles, Weighted{Path: req.NewProfile, Weight: 1})

	base := strings.TrimSuffix(newName, artifact.AFDOSuffix)
	raw := filepath.Join(req.OutputDir, "raw-"+base+artifact.MergedSuffix+artifact.AFDOSuffix)
	if err := m.Merge(ctx, profiles, raw, false); err != nil {
		return "", err
	}
	merged := filepath.Join(req.OutputDir, base+artifact.MergedSuffix+artifact.AFDOSuffix)
	if err := m.Process(ctx, raw, merged, ProcessOptions{
		Redact:              req.Arch == artifact.ChromeArchForCWPProfile,
		RemoveIndirectCalls: true,
		ReduceFunctions:     artifact.RecentMergeReduceFuncs,
	}); err != nil {
		return "", err
	}
	return filepath.Base(merged), nil
}

// Package prepare decides, before a build, whether building a toolchain
// artifact is worthwhile, and points ebuilds at the profiles to verify.
package prepare

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.chromium.org/chromite/go/skerr"
	"go.chromium.org/chromite/go/sklog"
	"go.chromium.org/chromite/go/util"
	"go.chromium.org/chromite/toolchain/go/alerts"
	"go.chromium.org/chromite/toolchain/go/artifact"
	"go.chromium.org/chromite/toolchain/go/compress"
	"go.chromium.org/chromite/toolchain/go/config"
	"go.chromium.org/chromite/toolchain/go/locator"
	"go.chromium.org/chromite/toolchain/go/profilename"
)

var (
	// ErrPrepare is returned when the inputs needed to prepare an artifact
	// are missing.
	ErrPrepare = errors.New("prepare for build failed")
	// ErrUnexpectedArtifact is returned for kinds which cannot be prepared
	// directly.
	ErrUnexpectedArtifact = errors.New("unexpected artifact type")
)

// Prior holds the decisions already made for other kinds of the same build.
// Kinds which depend on another kind use its decision when present and
// recompute it otherwise.
type Prior map[artifact.Kind]artifact.PrepareResult

type prepareFunc func(h *Handler, ctx context.Context, prior Prior) (artifact.PrepareResult, error)

var handlers = map[artifact.Kind]prepareFunc{
	artifact.ChromeClangWarningsFile:           (*Handler).prepareChromeClangWarningsFile,
	artifact.UnverifiedChromeBenchmarkPerfFile: (*Handler).prepareUnverifiedChromeBenchmarkPerfFile,
	artifact.UnverifiedChromeBenchmarkAfdoFile: (*Handler).prepareUnverifiedChromeBenchmarkAfdoFile,
	artifact.ChromeAFDOProfileForAndroidLinux:  (*Handler).prepareChromeAFDOProfileForAndroidLinux,
	artifact.ChromeDebugBinary:                 (*Handler).prepareChromeDebugBinary,
	artifact.VerifiedKernelCwpAfdoFile:         (*Handler).prepareVerifiedKernelCwpAfdoFile,
	artifact.VerifiedReleaseAfdoFile:           (*Handler).prepareVerifiedReleaseAfdoFile,
	artifact.ToolchainWarningLogs:              prepareLogs(artifact.ToolchainWarningLogs, artifact.Needed),
	artifact.ClangCrashDiagnoses:               prepareLogs(artifact.ClangCrashDiagnoses, artifact.Unknown),
	artifact.CompilerRusageLogs:                prepareLogs(artifact.CompilerRusageLogs, artifact.Unknown),
}

// Handler prepares artifacts for one BuildContext.
type Handler struct {
	bc *config.BuildContext
}

// New returns a Handler.
func New(bc *config.BuildContext) *Handler {
	return &Handler{bc: bc}
}

// Prepare decides whether kind should be built.
func (h *Handler) Prepare(ctx context.Context, kind artifact.Kind, prior Prior) (artifact.PrepareResult, error) {
	fn, ok := handlers[kind]
	if !ok {
		return artifact.ResultUnspecified, skerr.Wrapf(ErrUnexpectedArtifact, "%s", kind)
	}
	sklog.Infof("Preparing %s", kind)
	rv, err := fn(h, ctx, prior)
	if err != nil {
		return artifact.ResultUnspecified, skerr.Wrapf(err, "preparing %s", kind)
	}
	sklog.Infof("Prepared %s: %s", kind, rv)
	return rv, nil
}

// PrepareAll prepares each kind in order, passing every decision on to the
// kinds after it. Returns the individual decisions and their aggregate.
func (h *Handler) PrepareAll(ctx context.Context, kinds []artifact.Kind) (Prior, artifact.PrepareResult, error) {
	decided := Prior{}
	results := make([]artifact.PrepareResult, 0, len(kinds))
	for _, kind := range kinds {
		r, err := h.Prepare(ctx, kind, decided)
		if err != nil {
			return decided, artifact.ResultUnspecified, err
		}
		decided[kind] = r
		results = append(results, r)
	}
	return decided, artifact.Merge(results...), nil
}

func prepareErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrPrepare, fmt.Sprintf(format, args...))
}

// existsAt checks the first location of kind for name.
func (h *Handler) existsAt(ctx context.Context, kind artifact.Kind, name string) (artifact.PrepareResult, error) {
	locs := h.bc.Locations(kind)
	if len(locs) == 0 {
		return artifact.ResultUnspecified, prepareErr("no locations known for %s", kind)
	}
	url := strings.TrimSuffix(locs[0], "/") + "/" + name
	exists, err := h.bc.Store.Exists(ctx, url)
	if err != nil {
		return artifact.ResultUnspecified, skerr.Wrap(err)
	}
	if exists {
		sklog.Infof("Pointless build: Found %s on %s", name, url)
		return artifact.Pointless, nil
	}
	sklog.Infof("Build needed: No %s found. %s does not exist", kind, url)
	return artifact.Needed, nil
}

// benchmarkProfileExists checks whether the benchmark profile for the current
// Chrome ebuild has been published. The perf.data file is tied to the build
// and is not checked.
func (h *Handler) benchmarkProfileExists(ctx context.Context) (artifact.PrepareResult, error) {
	name, err := h.bc.BenchmarkName(profilename.BenchmarkAFDOTemplate, false)
	if err != nil {
		return artifact.ResultUnspecified, err
	}
	return h.existsAt(ctx, artifact.UnverifiedChromeBenchmarkAfdoFile, name+artifact.Bzip2Suffix)
}

func (h *Handler) prepareChromeClangWarningsFile(context.Context, Prior) (artifact.PrepareResult, error) {
	return artifact.Needed, nil
}

func (h *Handler) prepareUnverifiedChromeBenchmarkPerfFile(ctx context.Context, _ Prior) (artifact.PrepareResult, error) {
	return h.benchmarkProfileExists(ctx)
}

func (h *Handler) prepareUnverifiedChromeBenchmarkAfdoFile(ctx context.Context, _ Prior) (artifact.PrepareResult, error) {
	rv, err := h.benchmarkProfileExists(ctx)
	if err != nil {
		return rv, err
	}
	if h.bc.Chroot == nil {
		return rv, nil
	}

	// Fetch the debug binary and perf.data for the bundle step.
	workdir := h.bc.Chroot.FullPath(artifact.AFDOGenerateTmpDir)
	if err := os.RemoveAll(workdir); err != nil {
		return rv, skerr.Wrapf(err, "cleaning %s", workdir)
	}
	if err := os.MkdirAll(workdir, 0755); err != nil {
		return rv, skerr.Wrap(err)
	}

	// The Chrome version may change between generating and processing the
	// profile, so any debug binary will do as long as there is exactly one.
	binName, err := h.bc.BenchmarkName(profilename.DebugBinaryTemplate, true)
	if err != nil {
		return rv, err
	}
	binName += artifact.Bzip2Suffix
	binLocs := h.bc.Locations(artifact.ChromeDebugBinary)
	binURL, err := h.bc.Locator.FindArtifact(ctx, binName, binLocs)
	if err != nil {
		return rv, fmt.Errorf("%w: %w", ErrPrepare, err)
	}
	if binURL == "" {
		return rv, prepareErr("Could not find an artifact matching the pattern %q in %v", binName, binLocs)
	}
	if err := h.fetchAndUncompress(ctx, binURL, workdir); err != nil {
		return rv, err
	}

	perfName, err := h.bc.BenchmarkName(profilename.PerfDataTemplate, false)
	if err != nil {
		return rv, err
	}
	perfName += artifact.Bzip2Suffix
	perfLocs := h.bc.Locations(artifact.UnverifiedChromeBenchmarkPerfFile)
	perfURL, err := h.bc.Locator.FindArtifact(ctx, perfName, perfLocs)
	if err != nil {
		return rv, fmt.Errorf("%w: %w", ErrPrepare, err)
	}
	if perfURL == "" {
		return rv, prepareErr("Could not find %q in %v", perfName, perfLocs)
	}
	if err := h.fetchAndUncompress(ctx, perfURL, workdir); err != nil {
		return rv, err
	}
	return rv, nil
}

// fetchAndUncompress copies url into dir and replaces it with its
// decompressed contents.
func (h *Handler) fetchAndUncompress(ctx context.Context, url, dir string) error {
	compressed := filepath.Join(dir, path.Base(url))
	if err := h.bc.Store.Copy(ctx, url, compressed); err != nil {
		return err
	}
	out := strings.TrimSuffix(compressed, compress.TypeFromName(compressed).Extension())
	if err := compress.UncompressFile(ctx, compressed, out); err != nil {
		return err
	}
	util.Remove(compressed)
	return nil
}

func (h *Handler) prepareChromeAFDOProfileForAndroidLinux(ctx context.Context, prior Prior) (artifact.PrepareResult, error) {
	bench, ok := prior[artifact.UnverifiedChromeBenchmarkAfdoFile]
	if !ok {
		bench, ok = prior[artifact.UnverifiedChromeBenchmarkPerfFile]
	}
	if !ok {
		var err error
		if bench, err = h.benchmarkProfileExists(ctx); err != nil {
			return artifact.ResultUnspecified, err
		}
	}
	// New Android/Linux profiles are only made alongside new benchmark
	// profiles.
	if bench == artifact.Pointless {
		return artifact.Pointless, nil
	}
	name, err := h.bc.BenchmarkName(profilename.BenchmarkAFDOTemplate, false)
	if err != nil {
		return artifact.ResultUnspecified, err
	}
	merged := strings.TrimSuffix(name, artifact.AFDOSuffix) + artifact.MergedSuffix + artifact.AFDOSuffix + artifact.Bzip2Suffix
	return h.existsAt(ctx, artifact.ChromeAFDOProfileForAndroidLinux, merged)
}

func (h *Handler) prepareChromeDebugBinary(context.Context, Prior) (artifact.PrepareResult, error) {
	// Built alongside UnverifiedChromeBenchmarkPerfFile.
	return artifact.Pointless, nil
}

func (h *Handler) prepareVerifiedKernelCwpAfdoFile(ctx context.Context, _ Prior) (artifact.PrepareResult, error) {
	kver := h.bc.Profile.KernelVersion
	if kver == "" {
		return artifact.ResultUnspecified, prepareErr("Could not find kernel version to verify.")
	}
	branch, err := h.bc.ChromeBranch()
	if err != nil {
		return artifact.ResultUnspecified, err
	}
	afdoURL, err := h.bc.Locator.FindLatest(ctx, h.bc.Locations(artifact.UnverifiedKernelCwpAfdoFile, kver), locator.RankCWP, branch, h.bc.Profile.Arch)
	if err != nil {
		return artifact.ResultUnspecified, err
	}

	rv := artifact.Needed
	published := strings.TrimSuffix(h.bc.Locations(artifact.VerifiedKernelCwpAfdoFile, kver)[0], "/") + "/" + path.Base(afdoURL)
	exists, err := h.bc.Store.Exists(ctx, published)
	if err != nil {
		return artifact.ResultUnspecified, skerr.Wrap(err)
	}
	if exists {
		sklog.Infof("Pointless build: %q exists.", published)
		rv = artifact.Pointless
	}

	trimmed := strings.TrimSuffix(afdoURL, artifact.KernelAFDOSuffix)
	// path.Dir would collapse the "//" of the scheme.
	i := strings.LastIndex(trimmed, "/")
	afdoDir, afdoName := trimmed[:i], trimmed[i+1:]
	pkgVersion := strings.ReplaceAll(kver, ".", "_")

	age, err := profilename.Age(ctx, afdoName)
	if err != nil {
		return artifact.ResultUnspecified, err
	}
	if age > artifact.KernelAllowedStaleDays {
		sklog.Infof("Found an expired afdo for kernel %s: %s, skip.", pkgVersion, afdoName)
		rv = artifact.Pointless
	} else if age > artifact.KernelWarnStaleDays && h.bc.Alerter != nil {
		if err := h.bc.Alerter.Send(ctx, alerts.KernelProfileExpiring(pkgVersion, afdoURL, age)); err != nil {
			sklog.Errorf("Failed to send kernel profile expiration alert: %s", err)
		}
	}

	if rv == artifact.Pointless || h.bc.Chroot == nil {
		return rv, nil
	}
	info, err := h.bc.KernelEbuild(kver)
	if err != nil {
		return artifact.ResultUnspecified, err
	}
	updated, err := h.bc.Patcher.Patch(ctx, info, map[string]string{
		artifact.KernelProfileVariable(h.bc.Profile.Arch): afdoName,
		artifact.KernelAFDOLocation:                       afdoDir,
	}, true)
	if err != nil {
		return artifact.ResultUnspecified, err
	}
	h.bc.Ebuilds.Put(updated)
	return rv, nil
}

// releaseProfileLabel returns the variant label used in the name of a
// release profile. Rollers only follow the "none" arm profile and a single
// "exp" name for all experiments.
func releaseProfileLabel(arch, variant string) string {
	if arch == "arm" && variant == "arm" {
		return "none"
	}
	if strings.HasPrefix(variant, "exp") {
		return "exp"
	}
	return variant
}

// ReleaseProfileName returns the unredacted name of the release profile
// made from the given CWP and benchmark profiles.
func ReleaseProfileName(arch, variant, cwpURL, benchURL string) (string, error) {
	cwp, err := profilename.ParseCWP(path.Base(cwpURL))
	if err != nil {
		return "", err
	}
	bench, err := profilename.ParseBenchmark(path.Base(benchURL))
	if err != nil {
		return "", err
	}
	return artifact.MergedAFDOName(arch, profilename.CombinedName(cwp, releaseProfileLabel(arch, variant), bench)), nil
}

func (h *Handler) prepareVerifiedReleaseAfdoFile(ctx context.Context, _ Prior) (artifact.PrepareResult, error) {
	variant := h.bc.Profile.ChromeCWPProfile
	if variant == "" {
		return artifact.ResultUnspecified, prepareErr("Profile name is not set. Is 'chrome_cwp_profile' missing in profile_info?")
	}
	arch := h.bc.Profile.Arch
	branch, err := h.bc.ChromeBranch()
	if err != nil {
		return artifact.ResultUnspecified, err
	}

	// exp-<arch> experiments take benchmark profiles from <arch>.
	benchArch := arch
	if strings.HasPrefix(variant, "exp-") {
		benchArch = strings.TrimPrefix(variant, "exp-")
	}
	bench, err := h.bc.Locator.FindLatest(ctx, h.bc.Locations(artifact.UnverifiedChromeBenchmarkAfdoFile), locator.RankBenchmark, branch, benchArch)
	if err != nil {
		return artifact.ResultUnspecified, err
	}
	cwp, err := h.bc.Locator.FindLatest(ctx, h.bc.Locations(artifact.UnverifiedChromeCwpAfdoFile), locator.RankCWP, branch, arch)
	if err != nil {
		return artifact.ResultUnspecified, err
	}

	mergedName, err := ReleaseProfileName(arch, variant, cwp, bench)
	if err != nil {
		return artifact.ResultUnspecified, err
	}
	// Verified profiles are only published to the first location.
	published := strings.TrimSuffix(h.bc.Locations(artifact.VerifiedReleaseAfdoFile)[0], "/") + "/" + mergedName + artifact.RedactedAFDOSuffix + artifact.XzSuffix
	exists, err := h.bc.Store.Exists(ctx, published)
	if err != nil {
		return artifact.ResultUnspecified, skerr.Wrap(err)
	}
	if exists {
		sklog.Infof("Pointless build: %q exists.", published)
		return artifact.Pointless, nil
	}
	if h.bc.Chroot == nil {
		return artifact.Needed, nil
	}

	tmp, err := h.bc.Chroot.TempDir("afdo")
	if err != nil {
		return artifact.ResultUnspecified, err
	}
	defer util.RemoveAll(tmp)
	created, err := h.bc.Merger.CreateReleaseProfile(ctx, cwp, bench, tmp, mergedName)
	if err != nil {
		return artifact.ResultUnspecified, err
	}
	profilePath := filepath.Join(h.bc.Chroot.Tmp(), filepath.Base(created))
	if err := os.Rename(created, profilePath); err != nil {
		return artifact.ResultUnspecified, skerr.Wrap(err)
	}
	info, err := h.bc.ChromeEbuild()
	if err != nil {
		return artifact.ResultUnspecified, err
	}
	updated, err := h.bc.Patcher.Patch(ctx, info, map[string]string{
		artifact.UnvettedAFDOVariable: h.bc.Chroot.ChrootPath(profilePath),
	}, true)
	if err != nil {
		return artifact.ResultUnspecified, err
	}
	h.bc.Ebuilds.Put(updated)
	return artifact.Needed, nil
}

// prepareLogs returns a prepareFunc which removes leftover logs of kind, so
// that they cannot leak into this build's bundle.
func prepareLogs(kind artifact.Kind, rv artifact.PrepareResult) prepareFunc {
	return func(h *Handler, _ context.Context, _ Prior) (artifact.PrepareResult, error) {
		if h.bc.Chroot == nil {
			sklog.Infof("toolchain-logs: no chroot; nothing to clean for %s", kind)
			return rv, nil
		}
		dirs := h.bc.ArtifactDirs(artifact.LogCollections[kind].Dir)
		sklog.Infof("toolchain-logs: Cleaning up %v before build", dirs)
		if err := util.RemoveAllDirs(dirs...); err != nil {
			return artifact.ResultUnspecified, skerr.Wrap(err)
		}
		return rv, nil
	}
}

// Package bundle produces the toolchain artifacts after a build, placing
// them in an output directory.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/otiai10/copy"
	"go.chromium.org/chromite/go/exec"
	"go.chromium.org/chromite/go/fileutil"
	"go.chromium.org/chromite/go/now"
	"go.chromium.org/chromite/go/skerr"
	"go.chromium.org/chromite/go/sklog"
	"go.chromium.org/chromite/go/util"
	"go.chromium.org/chromite/toolchain/go/artifact"
	"go.chromium.org/chromite/toolchain/go/compress"
	"go.chromium.org/chromite/toolchain/go/config"
	"go.chromium.org/chromite/toolchain/go/ebuild"
	"go.chromium.org/chromite/toolchain/go/profile"
	"go.chromium.org/chromite/toolchain/go/profilename"
)

// DebugBinaryGlob matches the debug binary fetched by prepare.
const DebugBinaryGlob = "chromeos-chrome*" + artifact.DebugBinarySuffix

var (
	// ErrBundle is returned when the inputs of an artifact are missing or
	// the artifact is unusable. Prepare said the artifact was needed, so
	// this is always fatal.
	ErrBundle = errors.New("bundle artifacts failed")
	// ErrUnexpectedArtifact is returned for kinds which are never bundled
	// directly.
	ErrUnexpectedArtifact = errors.New("unexpected artifact type")
)

type bundleFunc func(h *Handler, ctx context.Context, outputDir string) ([]string, error)

var handlers = map[artifact.Kind]bundleFunc{
	artifact.ChromeClangWarningsFile:           (*Handler).bundleChromeClangWarningsFile,
	artifact.UnverifiedChromeBenchmarkPerfFile: (*Handler).bundleUnverifiedChromeBenchmarkPerfFile,
	artifact.UnverifiedChromeBenchmarkAfdoFile: (*Handler).bundleUnverifiedChromeBenchmarkAfdoFile,
	artifact.ChromeAFDOProfileForAndroidLinux:  (*Handler).bundleChromeAFDOProfileForAndroidLinux,
	artifact.ChromeDebugBinary:                 (*Handler).bundleChromeDebugBinary,
	artifact.VerifiedKernelCwpAfdoFile:         (*Handler).bundleVerifiedKernelCwpAfdoFile,
	artifact.VerifiedReleaseAfdoFile:           (*Handler).bundleVerifiedReleaseAfdoFile,
	artifact.ToolchainWarningLogs:              bundleLogs(artifact.ToolchainWarningLogs),
	artifact.ClangCrashDiagnoses:               bundleLogs(artifact.ClangCrashDiagnoses),
	artifact.CompilerRusageLogs:                bundleLogs(artifact.CompilerRusageLogs),
}

// Handler bundles artifacts for one BuildContext.
type Handler struct {
	bc *config.BuildContext
}

// New returns a Handler.
func New(bc *config.BuildContext) *Handler {
	return &Handler{bc: bc}
}

// Bundle builds kind into outputDir, returning the paths of the files it
// created. An empty result means there was nothing to bundle.
func (h *Handler) Bundle(ctx context.Context, kind artifact.Kind, outputDir string) ([]string, error) {
	fn, ok := handlers[kind]
	if !ok {
		return nil, skerr.Wrapf(ErrUnexpectedArtifact, "%s", kind)
	}
	if !fileutil.IsDir(outputDir) {
		return nil, bundleErr("Non-existent directory %q specified for --out-dir", outputDir)
	}
	if h.bc.Chroot == nil {
		return nil, bundleErr("bundling %s requires a chroot", kind)
	}
	sklog.Infof("Bundling %s into %s", kind, outputDir)
	files, err := fn(h, ctx, outputDir)
	if err != nil {
		return nil, skerr.Wrapf(err, "bundling %s", kind)
	}
	for _, f := range files {
		if st, err := os.Stat(f); err == nil {
			sklog.Infof("Bundled %s (%s)", f, humanize.Bytes(uint64(st.Size())))
		}
	}
	return files, nil
}

func bundleErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrBundle, fmt.Sprintf(format, args...))
}

// dateStamp returns today's date as used in tarball names, eg. 20230415.
func dateStamp(ctx context.Context) string {
	return now.Now(ctx).Format("20060102")
}

func (h *Handler) bundleChromeClangWarningsFile(ctx context.Context, outputDir string) ([]string, error) {
	target := h.bc.BuildTarget
	if target == "" {
		return nil, bundleErr("build_target is required for clang-tidy warnings")
	}
	tmp, err := h.bc.Chroot.TempDir("clang-tidy")
	if err != nil {
		return nil, err
	}
	defer util.RemoveAll(tmp)

	name := fmt.Sprintf("%s.%s.clang_tidy_warnings%s", target, dateStamp(ctx), artifact.TarballSuffix)
	err = h.bc.Chroot.Run(ctx, &exec.Command{
		Name: artifact.GenerateTidyWarnings,
		Args: []string{
			"--out-file", name,
			"--out-dir", h.bc.Chroot.ChrootPath(tmp),
			"--board", target,
			"--logs-dir", path.Join(artifact.ClangTidyLogDir, target),
		},
		Verbose:   true,
		LogStderr: true,
	})
	if err != nil {
		return nil, err
	}
	out := filepath.Join(outputDir, name)
	if err := copy.Copy(filepath.Join(tmp, name), out, copy.Options{PreserveTimes: true}); err != nil {
		return nil, skerr.Wrapf(err, "copying %s", name)
	}
	return []string{out}, nil
}

// The perf.data file is uploaded by the test which records it.
func (h *Handler) bundleUnverifiedChromeBenchmarkPerfFile(context.Context, string) ([]string, error) {
	return []string{}, nil
}

func (h *Handler) bundleChromeDebugBinary(ctx context.Context, outputDir string) ([]string, error) {
	in := h.bc.Chroot.FullPath(h.bc.SysrootPath, artifact.ChromeDebugBinaryPath)
	if !fileutil.FileExists(in) {
		return nil, bundleErr("%q chrome binary does not exist", in)
	}
	name, err := h.bc.BenchmarkName(profilename.DebugBinaryTemplate, false)
	if err != nil {
		return nil, err
	}
	out := filepath.Join(outputDir, name+artifact.Bzip2Suffix)
	if err := compress.CompressFile(ctx, in, out); err != nil {
		return nil, err
	}
	return []string{out}, nil
}

// locateDebugBinary returns the only debug binary in dir.
func locateDebugBinary(dir string) (string, error) {
	pattern := filepath.Join(dir, DebugBinaryGlob)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", skerr.Wrap(err)
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", bundleErr("No files found matching %s", pattern)
	}
	return "", bundleErr("Too many chrome debug files found; results: %v", matches)
}

func (h *Handler) bundleUnverifiedChromeBenchmarkAfdoFile(ctx context.Context, outputDir string) ([]string, error) {
	workdir := h.bc.Chroot.FullPath(artifact.AFDOGenerateTmpDir)
	debugBin, err := locateDebugBinary(workdir)
	if err != nil {
		return nil, err
	}
	// create_llvm_prof requires the binary to be called chrome.unstripped
	// unless it matches the name recorded in the profile.
	unstripped := filepath.Join(workdir, artifact.UnstrippedChromeBin)
	sklog.Infof("Linking %s => %s", filepath.Base(debugBin), unstripped)
	if err := os.Remove(unstripped); err != nil && !os.IsNotExist(err) {
		return nil, skerr.Wrap(err)
	}
	if err := os.Symlink(filepath.Base(debugBin), unstripped); err != nil {
		return nil, skerr.Wrap(err)
	}

	perfName, err := h.bc.BenchmarkName(profilename.PerfDataTemplate, false)
	if err != nil {
		return nil, err
	}
	perf := filepath.Join(workdir, perfName)
	if !fileutil.FileExists(perf) {
		return nil, bundleErr("perf data %s does not exist", perf)
	}
	afdoName, err := h.bc.BenchmarkName(profilename.BenchmarkAFDOTemplate, false)
	if err != nil {
		return nil, err
	}
	afdo := filepath.Join(workdir, afdoName)
	err = h.bc.Chroot.Run(ctx, &exec.Command{
		Name: artifact.CreateLLVMProf,
		Args: []string{
			"--binary=" + h.bc.Chroot.ChrootPath(unstripped),
			"--profile=" + h.bc.Chroot.ChrootPath(perf),
			"--out=" + h.bc.Chroot.ChrootPath(afdo),
			// Keep every sample.
			"--sample_threshold_frac=0",
		},
		Verbose:   true,
		LogStderr: true,
	})
	if err != nil {
		return nil, err
	}
	size, err := profile.CheckSize(afdo)
	if err != nil {
		if errors.Is(err, profile.ErrEmptyProfile) {
			return nil, fmt.Errorf("%w: AFDO profile size has invalid size, %d: %w", ErrBundle, size, err)
		}
		return nil, err
	}
	sklog.Infof("Generated %s AFDO profile %s, size %s", h.bc.Profile.Arch, afdoName, humanize.Bytes(uint64(size)))

	out := filepath.Join(outputDir, afdoName+artifact.Bzip2Suffix)
	if err := compress.CompressFile(ctx, afdo, out); err != nil {
		return nil, err
	}
	return []string{out}, nil
}

func (h *Handler) bundleChromeAFDOProfileForAndroidLinux(ctx context.Context, outputDir string) ([]string, error) {
	workdir := h.bc.Chroot.FullPath(artifact.AFDOGenerateTmpDir)
	afdoName, err := h.bc.BenchmarkName(profilename.BenchmarkAFDOTemplate, false)
	if err != nil {
		return nil, err
	}
	afdo := filepath.Join(workdir, afdoName)
	if !fileutil.FileExists(afdo) {
		return nil, bundleErr("No new AFDO profile created before creating Android/Linux profiles: %s", afdo)
	}

	locs := h.bc.Locations(artifact.ChromeAFDOProfileForAndroidLinux)
	if len(locs) == 0 {
		return nil, bundleErr("no locations known for %s", artifact.ChromeAFDOProfileForAndroidLinux)
	}
	pool, err := h.bc.Merger.BenchmarkPool(ctx, locs[0], h.bc.Profile.Arch)
	if err != nil {
		return nil, err
	}
	merged, err := h.bc.Merger.MergeRecentBenchmarkProfiles(ctx, profile.RecentMerge{
		NewProfile: afdo,
		Pool:       pool,
		MaxCount:   artifact.RecentMergeCount,
		MaxAge:     artifact.RecentMergeMaxAge,
		Arch:       h.bc.Profile.Arch,
		OutputDir:  workdir,
	})
	if err != nil {
		if errors.Is(err, profile.ErrEmptyProfile) {
			return nil, fmt.Errorf("%w: merged Android/Linux profile for %s is too small: %w", ErrBundle, afdoName, err)
		}
		return nil, err
	}
	if merged == "" {
		return []string{}, nil
	}
	out := filepath.Join(outputDir, merged+artifact.Bzip2Suffix)
	if err := compress.CompressFile(ctx, filepath.Join(workdir, merged), out); err != nil {
		return nil, err
	}
	return []string{out}, nil
}

func (h *Handler) bundleVerifiedKernelCwpAfdoFile(ctx context.Context, outputDir string) ([]string, error) {
	kver := h.bc.Profile.KernelVersion
	if kver == "" {
		return nil, bundleErr("kernel_version not provided.")
	}
	info, err := h.bc.KernelEbuild(kver)
	if err != nil {
		return nil, err
	}
	variable := artifact.KernelProfileVariable(h.bc.Profile.Arch)
	name, ok, err := ebuild.ReadVariable(info.Path, variable)
	if err != nil {
		return nil, err
	}
	if !ok || name == "" {
		return nil, bundleErr("Could not find %s in %s.", variable, info.Package)
	}
	name += artifact.KernelAFDOSuffix
	// The verified profile is installed as, eg.
	// /usr/lib/debug/boot/chromeos-kernel-4_4-R82-12874.0-1581935639.gcov.xz
	src := h.bc.Chroot.FullPath(h.bc.SysrootPath, artifact.KernelDebugDir, info.Package+"-"+name)
	if !fileutil.FileExists(src) {
		return nil, bundleErr("verified kernel profile %s does not exist", src)
	}
	out := filepath.Join(outputDir, name)
	if err := copy.Copy(src, out, copy.Options{PreserveTimes: true}); err != nil {
		return nil, skerr.Wrapf(err, "copying %s", src)
	}
	return []string{out}, nil
}

func (h *Handler) bundleVerifiedReleaseAfdoFile(ctx context.Context, outputDir string) ([]string, error) {
	info, err := h.bc.ChromeEbuild()
	if err != nil {
		return nil, err
	}
	value, ok, err := ebuild.ReadVariable(info.Path, artifact.UnvettedAFDOVariable)
	if err != nil {
		return nil, err
	}
	if !ok || value == "" {
		return nil, bundleErr("%s is not set in %s", artifact.UnvettedAFDOVariable, info.Path)
	}
	files, err := compress.CompressAFDOFiles(ctx, []string{h.bc.Chroot.FullPath(value)}, "", outputDir, artifact.XzSuffix)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBundle, err)
	}
	return files, nil
}

// collectFiles copies the files of the given collection, from the chroot
// and the sysroot, into destDir. Colliding names get a "0" inserted before
// their extension. Returns the copied paths relative to destDir.
func (h *Handler) collectFiles(lc artifact.LogCollection, destDir string) ([]string, error) {
	dirs := h.bc.ArtifactDirs(lc.Dir)
	sklog.Infof("toolchain-logs: checking %v", dirs)
	var rv []string
	for _, dir := range dirs {
		if !fileutil.IsDir(dir) {
			sklog.Infof("toolchain-logs: %s doesn't exist", dir)
			continue
		}
		files, err := fileutil.ListFilesRecursive(dir)
		if err != nil {
			return nil, skerr.Wrapf(err, "listing %s", dir)
		}
		for _, rel := range files {
			if lc.Extension != "" && !strings.HasSuffix(rel, lc.Extension) {
				sklog.Warningf("toolchain-logs: skipped file: %s", rel)
				continue
			}
			dest := filepath.Join(destDir, rel)
			for fileutil.FileExists(dest) {
				ext := filepath.Ext(dest)
				dest = strings.TrimSuffix(dest, ext) + "0" + ext
			}
			src := filepath.Join(dir, rel)
			sklog.Infof("toolchain-logs: adding path %s as %s", src, dest)
			if err := copy.Copy(src, dest); err != nil {
				return nil, skerr.Wrapf(err, "copying %s", src)
			}
			relDest, err := filepath.Rel(destDir, dest)
			if err != nil {
				return nil, skerr.Wrap(err)
			}
			rv = append(rv, relDest)
		}
	}
	sklog.Infof("%d files collected", len(rv))
	return rv, nil
}

// bundleLogs returns a bundleFunc which tars up the logs of kind. No logs
// is not an error.
func bundleLogs(kind artifact.Kind) bundleFunc {
	return func(h *Handler, ctx context.Context, outputDir string) ([]string, error) {
		lc := artifact.LogCollections[kind]
		tmp, err := h.bc.Chroot.TempDir(lc.Name)
		if err != nil {
			return nil, err
		}
		defer util.RemoveAll(tmp)

		files, err := h.collectFiles(lc, tmp)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			sklog.Infof("No data found for %s, skip bundle artifact", lc.Name)
			return []string{}, nil
		}
		out := filepath.Join(outputDir, fmt.Sprintf("%s.%s.%s%s", h.bc.BuildTarget, dateStamp(ctx), lc.Name, artifact.TarballSuffix))
		if err := compress.CreateTarball(ctx, out, tmp, files); err != nil {
			return nil, err
		}
		return []string{out}, nil
	}
}

package artifact

import (
	"strings"
	"time"
)

// Storage locations.
const (
	BenchmarkAFDOGSURL      = "gs://chromeos-toolchain-artifacts/afdo/unvetted/benchmark"
	CWPAFDOGSURL            = "gs://chromeos-prebuilt/afdo-job/cwp/chrome/"
	KernelProfileURL        = "gs://chromeos-prebuilt/afdo-job/cwp/kernel/{arch}"
	KernelProfileVettedURL  = "gs://chromeos-prebuilt/afdo-job/vetted/kernel/{arch}"
	ReleaseProfileVettedURL = "gs://chromeos-prebuilt/afdo-job/vetted/release"
)

// File suffixes.
const (
	AFDOSuffix          = ".afdo"
	Bzip2Suffix         = ".bz2"
	XzSuffix            = ".xz"
	KernelAFDOSuffix    = ".gcov" + XzSuffix
	MergedSuffix        = "-merged"
	RedactedAFDOSuffix  = "-redacted" + AFDOSuffix
	DebugBinarySuffix   = ".debug"
	PerfDataSuffix      = ".perf.data"
	TarballSuffix       = ".tar" + XzSuffix
	UnstrippedChromeBin = "chrome.unstripped"
)

// Ebuild packages and variables.
const (
	ChromeCategory = "chromeos-base"
	ChromePackage  = "chromeos-chrome"
	KernelCategory = "sys-kernel"
	// KernelPackagePrefix is followed by the kernel version with dots
	// replaced by underscores, eg. chromeos-kernel-5_4.
	KernelPackagePrefix = "chromeos-kernel-"

	KernelAFDOVariable    = "AFDO_PROFILE_VERSION"
	KernelArmAFDOVariable = "ARM_AFDO_PROFILE_VERSION"
	KernelAFDOLocation    = "AFDO_LOCATION"
	UnvettedAFDOVariable  = "UNVETTED_AFDO_FILE"

	// LiveVersion is the version of the unversioned, always-tip ebuild.
	LiveVersion = "9999"
)

// Tools and well known paths, relative to the chroot.
const (
	CreateLLVMProf          = "/usr/bin/create_llvm_prof"
	LLVMProfdata            = "llvm-profdata"
	RedactTextualProfile    = "redact_textual_afdo_profile"
	RemoveIndirectCalls     = "remove_indirect_calls"
	RemoveColdFunctions     = "remove_cold_functions"
	GenerateTidyWarnings    = "cros_generate_tidy_warnings"
	ChromeDebugBinaryPath   = "/usr/lib/debug/opt/google/chrome/chrome.debug"
	KernelDebugDir          = "/usr/lib/debug/boot"
	AFDOGenerateTmpDir      = "/tmp/benchmark-afdo-generate"
	ClangTidyLogDir         = "/tmp/clang-tidy-logs"
	FatalClangWarningsDir   = "/tmp/fatal_clang_warnings"
	ClangCrashDiagnosesDir  = "/tmp/clang_crash_diagnostics"
	CompilerRusageDir       = "/tmp/compiler_rusage"
	KernelMetadataDir       = "afdo_metadata"
	ToolchainUtilsCheckout  = "src/third_party/toolchain-utils"
	ChromiumOSOverlayPath   = "src/third_party/chromiumos-overlay"
	ChromeArchForCWPProfile = "arm"
)

// Thresholds and weights.
const (
	KernelAllowedStaleDays = 42
	KernelWarnStaleDays    = 14

	ReleaseCWPMergeWeight       = 75
	ReleaseBenchmarkMergeWeight = 25

	// MinProfileSize is the smallest size, in bytes, of a plausible profile.
	MinProfileSize = 4096

	RecentMergeCount          = 5
	RecentMergeMaxAge         = 14 * 24 * time.Hour
	RecentMergeReduceFuncs    = 70000
	ReleaseProfileReduceFuncs = 20000
)

// AlertRecipients receive warnings about stale profiles.
var AlertRecipients = []string{"chromeos-toolchain-oncall1@google.com"}

// LogCollection describes one of the log-collecting kinds.
type LogCollection struct {
	// Dir is the scratch directory, relative to the chroot, which the build
	// writes into. Its twin under the sysroot is collected too.
	Dir string
	// Name is the tarball component, eg. <target>.<date>.<Name>.tar.xz.
	Name string
	// Extension, if set, restricts the collected files.
	Extension string
}

// LogCollections maps each log-collecting Kind to its description.
var LogCollections = map[Kind]LogCollection{
	ToolchainWarningLogs: {Dir: FatalClangWarningsDir, Name: "fatal_clang_warnings", Extension: ".json"},
	ClangCrashDiagnoses:  {Dir: ClangCrashDiagnosesDir, Name: "clang_crash_diagnoses"},
	CompilerRusageLogs:   {Dir: CompilerRusageDir, Name: "compiler_rusage_logs", Extension: ".json"},
}

// DefaultLocations returns the locations used for kind when the caller
// specifies none.
func DefaultLocations(kind Kind, arch string) []string {
	switch kind {
	case UnverifiedChromeBenchmarkAfdoFile, ChromeAFDOProfileForAndroidLinux:
		return []string{BenchmarkAFDOGSURL}
	case UnverifiedChromeCwpAfdoFile:
		return []string{CWPAFDOGSURL}
	case UnverifiedKernelCwpAfdoFile:
		return []string{WithArch(KernelProfileURL, arch)}
	case VerifiedKernelCwpAfdoFile:
		return []string{WithArch(KernelProfileVettedURL, arch)}
	case VerifiedReleaseAfdoFile:
		return []string{ReleaseProfileVettedURL}
	}
	return nil
}

// WithArch substitutes arch into a location template.
func WithArch(tmpl, arch string) string {
	return strings.ReplaceAll(tmpl, "{arch}", arch)
}

// KernelPackage returns the kernel package name for kver, eg. "5.4" becomes
// "chromeos-kernel-5_4".
func KernelPackage(kver string) string {
	return KernelPackagePrefix + strings.ReplaceAll(kver, ".", "_")
}

// KernelProfileVariable returns the ebuild variable holding the kernel
// profile version for arch.
func KernelProfileVariable(arch string) string {
	if arch == "arm" {
		return KernelArmAFDOVariable
	}
	return KernelAFDOVariable
}

// MergedAFDOName returns the name of a merged release profile.
func MergedAFDOName(arch, name string) string {
	return "chromeos-chrome-" + arch + "-" + name
}

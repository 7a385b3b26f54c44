// Package artifact enumerates the toolchain artifact kinds which the AFDO
// prepare and bundle steps know about, along with the fixed catalog of
// storage locations, file suffixes and thresholds they share.
package artifact

import (
	"errors"
	"fmt"
	"sort"
)

// Kind identifies one artifact type.
type Kind int

const (
	Unspecified Kind = iota
	ChromeClangWarningsFile
	UnverifiedChromeBenchmarkPerfFile
	UnverifiedChromeBenchmarkAfdoFile
	ChromeAFDOProfileForAndroidLinux
	ChromeDebugBinary
	VerifiedKernelCwpAfdoFile
	VerifiedReleaseAfdoFile
	ToolchainWarningLogs
	ClangCrashDiagnoses
	CompilerRusageLogs

	// Kinds below are only referenced as inputs of other kinds. Neither
	// PrepareForBuild nor BundleArtifacts accept them directly.
	UnverifiedKernelCwpAfdoFile
	UnverifiedChromeCwpAfdoFile
	VerifiedChromeBenchmarkAfdoFile
	VerifiedChromeCwpAfdoFile
)

var kindNames = map[Kind]string{
	Unspecified:                       "Unspecified",
	ChromeClangWarningsFile:           "ChromeClangWarningsFile",
	UnverifiedChromeBenchmarkPerfFile: "UnverifiedChromeBenchmarkPerfFile",
	UnverifiedChromeBenchmarkAfdoFile: "UnverifiedChromeBenchmarkAfdoFile",
	ChromeAFDOProfileForAndroidLinux:  "ChromeAFDOProfileForAndroidLinux",
	ChromeDebugBinary:                 "ChromeDebugBinary",
	VerifiedKernelCwpAfdoFile:         "VerifiedKernelCwpAfdoFile",
	VerifiedReleaseAfdoFile:           "VerifiedReleaseAfdoFile",
	ToolchainWarningLogs:              "ToolchainWarningLogs",
	ClangCrashDiagnoses:               "ClangCrashDiagnoses",
	CompilerRusageLogs:                "CompilerRusageLogs",
	UnverifiedKernelCwpAfdoFile:       "UnverifiedKernelCwpAfdoFile",
	UnverifiedChromeCwpAfdoFile:       "UnverifiedChromeCwpAfdoFile",
	VerifiedChromeBenchmarkAfdoFile:   "VerifiedChromeBenchmarkAfdoFile",
	VerifiedChromeCwpAfdoFile:         "VerifiedChromeCwpAfdoFile",
}

// ErrUnknownKind is returned by ParseKind for names which do not identify a
// Kind.
var ErrUnknownKind = errors.New("unknown artifact kind")

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// InternalOnly returns true for kinds which may only appear as inputs of
// other kinds.
func (k Kind) InternalOnly() bool {
	switch k {
	case UnverifiedKernelCwpAfdoFile, UnverifiedChromeCwpAfdoFile, VerifiedChromeBenchmarkAfdoFile, VerifiedChromeCwpAfdoFile:
		return true
	}
	return false
}

// ParseKind returns the Kind with the given name.
func ParseKind(name string) (Kind, error) {
	for k, s := range kindNames {
		if s == name && k != Unspecified {
			return k, nil
		}
	}
	return Unspecified, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// AllKinds returns every Kind other than Unspecified, ordered by value.
func AllKinds() []Kind {
	rv := make([]Kind, 0, len(kindNames))
	for k := range kindNames {
		if k != Unspecified {
			rv = append(rv, k)
		}
	}
	sort.Slice(rv, func(i, j int) bool { return rv[i] < rv[j] })
	return rv
}

// PrepareResult is the decision reported by PrepareForBuild.
type PrepareResult int

const (
	ResultUnspecified PrepareResult = iota
	// Needed means the artifact should be built.
	Needed
	// Unknown means the artifact cannot be judged before the build.
	Unknown
	// Pointless means an acceptable artifact already exists.
	Pointless
)

var resultNames = map[PrepareResult]string{
	ResultUnspecified: "UNSPECIFIED",
	Needed:            "NEEDED",
	Unknown:           "UNKNOWN",
	Pointless:         "POINTLESS",
}

func (r PrepareResult) String() string {
	if s, ok := resultNames[r]; ok {
		return s
	}
	return fmt.Sprintf("PrepareResult(%d)", int(r))
}

// ParsePrepareResult returns the PrepareResult with the given name.
func ParsePrepareResult(name string) (PrepareResult, error) {
	for r, s := range resultNames {
		if s == name {
			return r, nil
		}
	}
	return ResultUnspecified, fmt.Errorf("unknown prepare result %q", name)
}

// Merge combines per-artifact decisions into a single one. Any Needed
// result makes the whole build Needed, then Unknown, then Pointless.
// An empty list yields Pointless.
func Merge(results ...PrepareResult) PrepareResult {
	rv := Pointless
	for _, r := range results {
		switch r {
		case Needed:
			return Needed
		case Unknown:
			rv = Unknown
		}
	}
	return rv
}

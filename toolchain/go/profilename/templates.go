package profilename

// Wildcard replaces the version fields of a Fields to match any version.
const Wildcard = "*"

// Fields are the values substituted into a Template, taken from the Chrome
// ebuild.
type Fields struct {
	Package string
	Arch    string
	// Version includes the ebuild revision, eg. 77.0.3849.0_rc-r1.
	Version string
	// VersionNoRev is Version without the release-candidate suffix and
	// revision, eg. 77.0.3849.0.
	VersionNoRev string
}

// WithWildcardVersion returns a copy of f whose versions match anything.
func (f Fields) WithWildcardVersion() Fields {
	f.Version = Wildcard
	f.VersionNoRev = Wildcard
	return f
}

// Template formats an artifact name from Fields.
type Template func(Fields) string

func archVersion(f Fields) string {
	return f.Package + "-" + f.Arch + "-" + f.Version
}

var (
	// BenchmarkAFDOTemplate names the benchmark profile.
	BenchmarkAFDOTemplate Template = func(f Fields) string {
		return archVersion(f) + ".afdo"
	}
	// PerfDataTemplate names the perf samples collected by the benchmark.
	PerfDataTemplate Template = func(f Fields) string {
		return f.Package + "-" + f.Arch + "-" + f.VersionNoRev + ".perf.data"
	}
	// DebugBinaryTemplate names the unstripped Chrome binary.
	DebugBinaryTemplate Template = func(f Fields) string {
		return archVersion(f) + ".debug"
	}
)

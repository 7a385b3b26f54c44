// Package config holds the per-invocation state shared by the prepare and
// bundle handlers, and loads it from a JSON5 file.
package config

import (
	"io"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/flynn/json5"
	"go.chromium.org/chromite/go/skerr"
	"go.chromium.org/chromite/go/util"
	"go.chromium.org/chromite/toolchain/go/alerts"
	"go.chromium.org/chromite/toolchain/go/artifact"
	"go.chromium.org/chromite/toolchain/go/chroot"
	"go.chromium.org/chromite/toolchain/go/ebuild"
	"go.chromium.org/chromite/toolchain/go/gsstore"
	"go.chromium.org/chromite/toolchain/go/locator"
	"go.chromium.org/chromite/toolchain/go/profile"
	"go.chromium.org/chromite/toolchain/go/profilename"
)

// ProfileInfo describes the profile being built or verified.
type ProfileInfo struct {
	// Arch is the architecture of the profile, eg. "amd64" or "arm".
	Arch string `json:"arch"`
	// ChromeCWPProfile is the CWP profile variant, eg. "atom", "bigcore",
	// "arm" or "exp-amd64".
	ChromeCWPProfile string `json:"chrome_cwp_profile" optional:"true"`
	// KernelVersion is the kernel being verified, eg. "5.4".
	KernelVersion string `json:"kernel_version" optional:"true"`
}

// File is the JSON5 representation of a BuildContext.
type File struct {
	// Chroot is the host path of the SDK chroot. Leave empty if there is no
	// chroot, in which case steps needing one are skipped.
	Chroot string `json:"chroot" optional:"true"`

	// InsideChroot is set when running inside the chroot.
	InsideChroot bool `json:"inside_chroot"`

	// SysrootPath is the board sysroot, relative to the chroot, eg. /build/eve.
	SysrootPath string `json:"sysroot_path" optional:"true"`

	// BuildTarget is the board, eg. "eve".
	BuildTarget string `json:"build_target" optional:"true"`

	// SourceRoot is the root of the ChromiumOS checkout.
	SourceRoot string `json:"source_root"`

	// InputArtifacts maps artifact kind names to the gs:// directories in
	// which to look for them, overriding the defaults.
	InputArtifacts map[string][]string `json:"input_artifacts" optional:"true"`

	// ProfileInfo is required by the profile kinds.
	ProfileInfo *ProfileInfo `json:"profile_info" optional:"true"`
}

// Load reads and validates the File at path.
func Load(path string) (*File, error) {
	var f File
	err := util.WithReadFile(path, func(r io.Reader) error {
		return json5.NewDecoder(r).Decode(&f)
	})
	if err != nil {
		return nil, skerr.Wrapf(err, "reading config at %s", path)
	}
	if err := f.Validate(); err != nil {
		return nil, skerr.Wrapf(err, "invalid config at %s", path)
	}
	return &f, nil
}

// Validate returns an error if f is incomplete or inconsistent.
func (f *File) Validate() error {
	if err := checkRequired(reflect.ValueOf(*f)); err != nil {
		return err
	}
	if f.ProfileInfo != nil && f.ProfileInfo.Arch == "" {
		return skerr.Fmt("No 'arch' specified in profile_info")
	}
	if f.Chroot != "" && f.InsideChroot {
		return skerr.Fmt("chroot and inside_chroot are mutually exclusive")
	}
	for name := range f.InputArtifacts {
		if _, err := artifact.ParseKind(name); err != nil {
			return skerr.Wrapf(err, "in input_artifacts")
		}
	}
	return nil
}

// checkRequired returns an error if any non-struct, non-bool field of the
// given value with a json tag is its zero value, unless it is tagged with
// `optional:"true"`.
func checkRequired(rValue reflect.Value) error {
	rType := rValue.Type()
	for i := 0; i < rValue.NumField(); i++ {
		field := rType.Field(i)
		if field.Type.Kind() == reflect.Struct {
			if err := checkRequired(rValue.Field(i)); err != nil {
				return err
			}
			continue
		}
		if field.Type.Kind() == reflect.Bool || field.Tag.Get("json") == "" {
			continue
		}
		if field.Tag.Get("optional") == "true" {
			continue
		}
		if rValue.Field(i).IsZero() {
			return skerr.Fmt("Required %s to be non-zero", field.Name)
		}
	}
	return nil
}

// BuildContext is everything a handler needs to know about one invocation.
// It is not modified after construction, apart from the ebuild Cache it
// owns.
type BuildContext struct {
	// Chroot is nil if there is no chroot.
	Chroot         *chroot.Chroot
	SysrootPath    string
	BuildTarget    string
	InputArtifacts map[artifact.Kind][]string
	Profile        ProfileInfo

	// ToolchainUtilsDir is the host path of the toolchain-utils checkout.
	ToolchainUtilsDir string

	Store   gsstore.Store
	Locator *locator.Locator
	Merger  *profile.Merger
	Ebuilds *ebuild.Cache
	Patcher *ebuild.Patcher
	Alerter alerts.Alerter
}

// New returns the BuildContext described by f. Storage and alerts are
// supplied by the caller.
func New(f *File, store gsstore.Store, alerter alerts.Alerter) (*BuildContext, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var c *chroot.Chroot
	if f.InsideChroot {
		c = chroot.NewInside()
	} else if f.Chroot != "" {
		c = chroot.New(f.Chroot)
	}
	inputs := make(map[artifact.Kind][]string, len(f.InputArtifacts))
	for name, locs := range f.InputArtifacts {
		kind, err := artifact.ParseKind(name)
		if err != nil {
			return nil, err
		}
		inputs[kind] = locs
	}
	var manifest ebuild.ManifestGenerator
	if c != nil && f.BuildTarget != "" {
		manifest = &ebuild.BoardManifest{Chroot: c, Board: f.BuildTarget}
	}
	bc := &BuildContext{
		Chroot:            c,
		SysrootPath:       f.SysrootPath,
		BuildTarget:       f.BuildTarget,
		InputArtifacts:    inputs,
		ToolchainUtilsDir: filepath.Join(f.SourceRoot, artifact.ToolchainUtilsCheckout),
		Store:             store,
		Locator:           locator.New(store),
		Ebuilds:           ebuild.NewCache(filepath.Join(f.SourceRoot, artifact.ChromiumOSOverlayPath)),
		Patcher:           ebuild.NewPatcher(manifest),
		Alerter:           alerter,
	}
	if f.ProfileInfo != nil {
		bc.Profile = *f.ProfileInfo
	}
	if c != nil {
		bc.Merger = profile.NewMerger(c, store)
	}
	return bc, nil
}

// Locations returns the locations to search for kind. The caller's locations
// are used as given; the defaults have defaultSubdirs appended.
func (bc *BuildContext) Locations(kind artifact.Kind, defaultSubdirs ...string) []string {
	if locs, ok := bc.InputArtifacts[kind]; ok && len(locs) > 0 {
		return locs
	}
	defaults := artifact.DefaultLocations(kind, bc.Profile.Arch)
	if len(defaultSubdirs) == 0 {
		return defaults
	}
	rv := make([]string, 0, len(defaults))
	for _, d := range defaults {
		rv = append(rv, strings.Join(append([]string{strings.TrimSuffix(d, "/")}, defaultSubdirs...), "/"))
	}
	return rv
}

// ChromeEbuild returns the stable Chrome ebuild.
func (bc *BuildContext) ChromeEbuild() (ebuild.Info, error) {
	return bc.Ebuilds.Get(artifact.ChromeCategory, artifact.ChromePackage)
}

// ChromeBranch returns the Chrome milestone, eg. "77".
func (bc *BuildContext) ChromeBranch() (string, error) {
	info, err := bc.ChromeEbuild()
	if err != nil {
		return "", err
	}
	return info.Branch(), nil
}

// KernelEbuild returns the stable ebuild of kernel version kver.
func (bc *BuildContext) KernelEbuild(kver string) (ebuild.Info, error) {
	return bc.Ebuilds.Get(artifact.KernelCategory, artifact.KernelPackage(kver))
}

// BenchmarkName formats tmpl with the version of the Chrome ebuild. If
// wildcard is set the version matches anything.
func (bc *BuildContext) BenchmarkName(tmpl profilename.Template, wildcard bool) (string, error) {
	info, err := bc.ChromeEbuild()
	if err != nil {
		return "", err
	}
	fields := profilename.Fields{
		Package:      info.Package,
		Arch:         bc.Profile.Arch,
		Version:      info.VR(),
		VersionNoRev: info.VersionNoRev(),
	}
	if wildcard {
		fields = fields.WithWildcardVersion()
	}
	return tmpl(fields), nil
}

// ArtifactDirs returns the host paths of dir in the chroot and in the
// sysroot, in that order.
func (bc *BuildContext) ArtifactDirs(dir string) []string {
	return []string{
		bc.Chroot.FullPath(dir),
		bc.Chroot.FullPath(bc.SysrootPath, strings.TrimPrefix(dir, "/")),
	}
}


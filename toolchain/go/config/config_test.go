package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.chromium.org/chromite/toolchain/go/alerts"
	"go.chromium.org/chromite/toolchain/go/artifact"
	"go.chromium.org/chromite/toolchain/go/gsstore"
	"go.chromium.org/chromite/toolchain/go/profilename"
)

func writeConfig(t *testing.T, contents string) string {
	p := filepath.Join(t.TempDir(), "config.json5")
	require.NoError(t, os.WriteFile(p, []byte(contents), 0644))
	return p
}

func TestLoad_JSON5(t *testing.T) {
	p := writeConfig(t, `{
  // Comments and trailing commas are allowed.
  chroot: "/work/chroot",
  sysroot_path: "/build/eve",
  build_target: "eve",
  source_root: "/work",
  input_artifacts: {
    UnverifiedChromeBenchmarkAfdoFile: ["gs://bucket/bench"],
  },
  profile_info: {
    arch: "amd64",
    chrome_cwp_profile: "atom",
  },
}`)
	f, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "/work/chroot", f.Chroot)
	assert.Equal(t, "eve", f.BuildTarget)
	assert.Equal(t, []string{"gs://bucket/bench"}, f.InputArtifacts["UnverifiedChromeBenchmarkAfdoFile"])
	require.NotNil(t, f.ProfileInfo)
	assert.Equal(t, "atom", f.ProfileInfo.ChromeCWPProfile)
}

func TestLoad_MissingArch_Error(t *testing.T) {
	p := writeConfig(t, `{source_root: "/work", profile_info: {kernel_version: "5.4"}}`)
	_, err := Load(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No 'arch' specified")
}

func TestLoad_MissingSourceRoot_Error(t *testing.T) {
	p := writeConfig(t, `{build_target: "eve"}`)
	_, err := Load(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Required SourceRoot")
}

func TestValidate(t *testing.T) {
	f := &File{SourceRoot: "/work", Chroot: "/c", InsideChroot: true}
	require.Error(t, f.Validate())

	f = &File{SourceRoot: "/work", InputArtifacts: map[string][]string{"NotAKind": {"gs://b"}}}
	require.ErrorIs(t, f.Validate(), artifact.ErrUnknownKind)

	f = &File{SourceRoot: "/work"}
	require.NoError(t, f.Validate())
}

func TestNew(t *testing.T) {
	f := &File{
		Chroot:         "/work/chroot",
		BuildTarget:    "eve",
		SysrootPath:    "/build/eve",
		SourceRoot:     "/work",
		InputArtifacts: map[string][]string{"VerifiedReleaseAfdoFile": {"gs://b/release"}},
		ProfileInfo:    &ProfileInfo{Arch: "arm", KernelVersion: "5.4"},
	}
	bc, err := New(f, gsstore.NewMemStore(), &alerts.LogAlerter{})
	require.NoError(t, err)
	require.NotNil(t, bc.Chroot)
	assert.Equal(t, "/work/chroot", bc.Chroot.Path)
	assert.NotNil(t, bc.Merger)
	assert.Equal(t, "/work/src/third_party/toolchain-utils", bc.ToolchainUtilsDir)
	assert.Equal(t, "/work/src/third_party/chromiumos-overlay", bc.Ebuilds.Overlay())
	assert.Equal(t, []string{"gs://b/release"}, bc.InputArtifacts[artifact.VerifiedReleaseAfdoFile])

	assert.Equal(t, []string{"/work/chroot/tmp/compiler_rusage", "/work/chroot/build/eve/tmp/compiler_rusage"}, bc.ArtifactDirs("/tmp/compiler_rusage"))
}

func TestNew_NoChroot(t *testing.T) {
	bc, err := New(&File{SourceRoot: "/work"}, gsstore.NewMemStore(), &alerts.LogAlerter{})
	require.NoError(t, err)
	assert.Nil(t, bc.Chroot)
	assert.Nil(t, bc.Merger)
}

func TestLocations(t *testing.T) {
	bc, err := New(&File{
		SourceRoot:     "/work",
		InputArtifacts: map[string][]string{"UnverifiedKernelCwpAfdoFile": {"gs://b/kernel/5.4"}},
		ProfileInfo:    &ProfileInfo{Arch: "amd64"},
	}, gsstore.NewMemStore(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"gs://b/kernel/5.4"}, bc.Locations(artifact.UnverifiedKernelCwpAfdoFile, "5.4"))
	assert.Equal(t, []string{"gs://chromeos-prebuilt/afdo-job/vetted/kernel/amd64/5.4"}, bc.Locations(artifact.VerifiedKernelCwpAfdoFile, "5.4"))
	assert.Equal(t, []string{artifact.BenchmarkAFDOGSURL}, bc.Locations(artifact.UnverifiedChromeBenchmarkAfdoFile))
	assert.Empty(t, bc.Locations(artifact.ChromeDebugBinary))
}

func TestChromeEbuildAndNames(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, artifact.ChromiumOSOverlayPath, "chromeos-base", "chromeos-chrome")
	require.NoError(t, os.MkdirAll(dir, 0755))
	for _, name := range []string{"chromeos-chrome-77.0.3849.0_rc-r1.ebuild", "chromeos-chrome-9999.ebuild"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("EAPI=7\n"), 0644))
	}
	bc, err := New(&File{SourceRoot: root, ProfileInfo: &ProfileInfo{Arch: "amd64"}}, gsstore.NewMemStore(), nil)
	require.NoError(t, err)

	branch, err := bc.ChromeBranch()
	require.NoError(t, err)
	assert.Equal(t, "77", branch)

	name, err := bc.BenchmarkName(profilename.BenchmarkAFDOTemplate, false)
	require.NoError(t, err)
	assert.Equal(t, "chromeos-chrome-amd64-77.0.3849.0_rc-r1.afdo", name)

	name, err = bc.BenchmarkName(profilename.PerfDataTemplate, false)
	require.NoError(t, err)
	assert.Equal(t, "chromeos-chrome-amd64-77.0.3849.0.perf.data", name)

	name, err = bc.BenchmarkName(profilename.DebugBinaryTemplate, true)
	require.NoError(t, err)
	assert.Equal(t, "chromeos-chrome-amd64-*.debug", name)
}

package ebuild

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.chromium.org/chromite/go/exec"
	"go.chromium.org/chromite/toolchain/go/chroot"
)

const kernelEbuild = `# Copyright header
EAPI=7

CROS_WORKON_COMMIT="abc"
AFDO_LOCATION="gs://old/location"
AFDO_PROFILE_VERSION="R77-3809.38-1562580965"
ARM_AFDO_PROFILE_VERSION=R77-1.1-1 # unquoted
MY_AFDO_PROFILE_VERSION="untouched"
`

func writeFile(t *testing.T, path, contents string) {
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
}

func readFile(t *testing.T, path string) string {
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

type fakeManifest struct {
	paths []string
	err   error
}

func (f *fakeManifest) GenerateManifest(_ context.Context, path string) error {
	f.paths = append(f.paths, path)
	return f.err
}

func TestParseInfo(t *testing.T) {
	test := func(name, pkg, version string, rev int) {
		t.Run(name, func(t *testing.T) {
			info, err := ParseInfo(filepath.Join("/overlay/cat", pkg, name), "cat")
			require.NoError(t, err)
			assert.Equal(t, pkg, info.Package)
			assert.Equal(t, version, info.Version)
			assert.Equal(t, rev, info.Revision)
		})
	}
	test("chromeos-chrome-77.0.3849.0_rc-r1.ebuild", "chromeos-chrome", "77.0.3849.0_rc", 1)
	test("chromeos-chrome-9999.ebuild", "chromeos-chrome", "9999", 0)
	test("chromeos-kernel-4_4-4.4.214-r2087.ebuild", "chromeos-kernel-4_4", "4.4.214", 2087)
	test("pkg-1.2.3-r4.ebuild", "pkg", "1.2.3", 4)

	_, err := ParseInfo("/x/notanebuild.txt", "cat")
	require.Error(t, err)
	_, err = ParseInfo("/x/noversion.ebuild", "cat")
	require.Error(t, err)
}

func TestInfo_Versions(t *testing.T) {
	info := Info{Category: "chromeos-base", Package: "chromeos-chrome", Version: "77.0.3849.0_rc", Revision: 1}
	assert.Equal(t, "77.0.3849.0_rc-r1", info.VR())
	assert.Equal(t, "77.0.3849.0", info.VersionNoRev())
	assert.Equal(t, "77", info.Branch())
	assert.Equal(t, "chromeos-base/chromeos-chrome-77.0.3849.0_rc-r1", info.CPV())
	info.Revision = 0
	assert.Equal(t, "77.0.3849.0_rc", info.VR())
}

func TestFindStable(t *testing.T) {
	overlay := t.TempDir()
	dir := filepath.Join(overlay, "chromeos-base", "chromeos-chrome")
	writeFile(t, filepath.Join(dir, "chromeos-chrome-9999.ebuild"), "")
	writeFile(t, filepath.Join(dir, "chromeos-chrome-77.0.3849.0_rc-r1.ebuild"), "")
	writeFile(t, filepath.Join(dir, "chromeos-chrome-77.0.3850.0_rc-r1.ebuild"), "")
	writeFile(t, filepath.Join(dir, "chromeos-chrome-78.0.1.0_rc.ebuild"), "")

	info, err := FindStable(overlay, "chromeos-base", "chromeos-chrome")
	require.NoError(t, err)
	assert.Equal(t, "77.0.3850.0_rc", info.Version)
	assert.Equal(t, 1, info.Revision)

	kdir := filepath.Join(overlay, "sys-kernel", "chromeos-kernel-5_4")
	writeFile(t, filepath.Join(kdir, "chromeos-kernel-5_4-5.4.151-r2100.ebuild"), "")
	info, err = FindStable(overlay, "sys-kernel", "chromeos-kernel-5_4")
	require.NoError(t, err)
	assert.Equal(t, "5.4.151", info.Version)

	_, err = FindStable(overlay, "sys-kernel", "missing")
	require.Error(t, err)
}

func TestCache(t *testing.T) {
	overlay := t.TempDir()
	path := filepath.Join(overlay, "sys-kernel", "chromeos-kernel-5_4", "chromeos-kernel-5_4-5.4.151-r1.ebuild")
	writeFile(t, path, "")
	c := NewCache(overlay)
	info, err := c.Get("sys-kernel", "chromeos-kernel-5_4")
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	cached, err := c.Get("sys-kernel", "chromeos-kernel-5_4")
	require.NoError(t, err)
	assert.Equal(t, info, cached)

	c.Invalidate("chromeos-kernel-5_4")
	_, err = c.Get("sys-kernel", "chromeos-kernel-5_4")
	require.Error(t, err)

	info.Revision = 2
	c.Put(info)
	cached, err = c.Get("sys-kernel", "chromeos-kernel-5_4")
	require.NoError(t, err)
	assert.Equal(t, 2, cached.Revision)
}

func TestReadVariable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chromeos-kernel-5_4-5.4.151-r1.ebuild")
	writeFile(t, path, kernelEbuild)

	v, ok, err := ReadVariable(path, "AFDO_PROFILE_VERSION")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "R77-3809.38-1562580965", v)

	v, ok, err = ReadVariable(path, "ARM_AFDO_PROFILE_VERSION")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "R77-1.1-1 # unquoted", v)

	_, ok, err = ReadVariable(path, "UNVETTED_AFDO_FILE")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = ReadVariable(filepath.Join(t.TempDir(), "missing.ebuild"), "X")
	require.Error(t, err)
}

func TestPatch_LiveEbuildInPlace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chromeos-kernel-5_4-9999.ebuild")
	writeFile(t, path, kernelEbuild)
	info, err := ParseInfo(path, "sys-kernel")
	require.NoError(t, err)

	m := &fakeManifest{}
	got, err := NewPatcher(m).Patch(context.Background(), info, map[string]string{"AFDO_PROFILE_VERSION": "foo"}, false)
	require.NoError(t, err)
	assert.Equal(t, info.Path, got.Path)
	assert.Equal(t, info.Version, got.Version)
	assert.Equal(t, []string{path}, m.paths)

	v, ok, err := ReadVariable(path, "AFDO_PROFILE_VERSION")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "foo", v)
	assert.Contains(t, readFile(t, path), "\nAFDO_PROFILE_VERSION=\"foo\"\n")
	assert.Contains(t, readFile(t, path), "\nMY_AFDO_PROFILE_VERSION=\"untouched\"\n")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPatch_BumpRevision(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pkg-1.2.3-r4.ebuild")
	writeFile(t, path, kernelEbuild)
	info, err := ParseInfo(path, "cat")
	require.NoError(t, err)

	got, err := NewPatcher(nil).Patch(context.Background(), info, map[string]string{
		"AFDO_PROFILE_VERSION": "R78-12371.22-1566207135",
		"AFDO_LOCATION":        "gs://new/location",
	}, true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "pkg-1.2.3-r5.ebuild"), got.Path)
	assert.Equal(t, 5, got.Revision)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	contents := readFile(t, got.Path)
	assert.Contains(t, contents, "AFDO_PROFILE_VERSION=\"R78-12371.22-1566207135\"\n")
	assert.Contains(t, contents, "AFDO_LOCATION=\"gs://new/location\"\n")
	assert.Contains(t, contents, "ARM_AFDO_PROFILE_VERSION=R77-1.1-1 # unquoted\n")
}

func TestPatch_QuotedValueKeepsTrailingText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pkg-9999.ebuild")
	writeFile(t, path, "UNVETTED_AFDO_FILE=\"old\" # comment\n")
	info, err := ParseInfo(path, "cat")
	require.NoError(t, err)
	_, err = NewPatcher(nil).Patch(context.Background(), info, map[string]string{"UNVETTED_AFDO_FILE": "/tmp/new.afdo"}, false)
	require.NoError(t, err)
	assert.Equal(t, "UNVETTED_AFDO_FILE=\"/tmp/new.afdo\" # comment\n", readFile(t, path))
}

func TestPatch_MissingVariableLeavesFileUntouched(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pkg-1.2.3-r4.ebuild")
	writeFile(t, path, kernelEbuild)
	info, err := ParseInfo(path, "cat")
	require.NoError(t, err)

	m := &fakeManifest{}
	_, err = NewPatcher(m).Patch(context.Background(), info, map[string]string{
		"AFDO_PROFILE_VERSION": "foo",
		"UNVETTED_AFDO_FILE":   "bar",
	}, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPatch))
	assert.Equal(t, kernelEbuild, readFile(t, path))
	assert.Empty(t, m.paths)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPatch_DuplicateAssignmentLeavesFileUntouched(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pkg-9999.ebuild")
	contents := "AFDO_PROFILE_VERSION=\"old\"\nAFDO_PROFILE_VERSION=\"older\"\n"
	writeFile(t, path, contents)
	info, err := ParseInfo(path, "cat")
	require.NoError(t, err)

	_, err = NewPatcher(nil).Patch(context.Background(), info, map[string]string{"AFDO_PROFILE_VERSION": "new"}, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPatch))
	assert.Contains(t, err.Error(), "AFDO_PROFILE_VERSION assigned more than once")
	assert.Equal(t, contents, readFile(t, path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPatch_RevisionPreconditions(t *testing.T) {
	dir := t.TempDir()
	live := filepath.Join(dir, "pkg-9999.ebuild")
	stable := filepath.Join(dir, "pkg-1.2.3-r4.ebuild")
	writeFile(t, live, kernelEbuild)
	writeFile(t, stable, kernelEbuild)
	liveInfo, err := ParseInfo(live, "cat")
	require.NoError(t, err)
	stableInfo, err := ParseInfo(stable, "cat")
	require.NoError(t, err)

	p := NewPatcher(nil)
	_, err = p.Patch(context.Background(), liveInfo, map[string]string{"AFDO_LOCATION": "x"}, true)
	assert.True(t, errors.Is(err, ErrPatch))
	_, err = p.Patch(context.Background(), stableInfo, map[string]string{"AFDO_LOCATION": "x"}, false)
	assert.True(t, errors.Is(err, ErrPatch))
	assert.Equal(t, kernelEbuild, readFile(t, live))
	assert.Equal(t, kernelEbuild, readFile(t, stable))
}

func TestPatch_ManifestFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pkg-9999.ebuild")
	writeFile(t, path, kernelEbuild)
	info, err := ParseInfo(path, "cat")
	require.NoError(t, err)
	_, err = NewPatcher(&fakeManifest{err: errors.New("exit status 1")}).Patch(context.Background(), info, map[string]string{"AFDO_LOCATION": "x"}, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrManifest))
}

func TestBoardManifest(t *testing.T) {
	mock := exec.CommandCollector{}
	ctx := exec.NewContext(context.Background(), mock.Run)
	m := &BoardManifest{Chroot: chroot.New("/work/chroot"), Board: "eve"}
	require.NoError(t, m.GenerateManifest(ctx, "/work/chroot/mnt/host/source/src/pkg-1.2.3-r5.ebuild"))
	assert.Equal(t, []string{
		"cros_sdk --chroot /work/chroot -- ebuild-eve /mnt/host/source/src/pkg-1.2.3-r5.ebuild manifest --force",
	}, mock.DebugStrings())
}

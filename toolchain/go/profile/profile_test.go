package profile

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.chromium.org/chromite/go/exec"
	"go.chromium.org/chromite/toolchain/go/artifact"
	"go.chromium.org/chromite/toolchain/go/chroot"
	"go.chromium.org/chromite/toolchain/go/gsstore"
)

// fakeTools writes size bytes to every output named by a command, as the
// profile tools and decompressors would.
func fakeTools(size int) func(context.Context, *exec.Command) error {
	contents := bytes.Repeat([]byte("x"), size)
	return func(_ context.Context, cmd *exec.Command) error {
		for i, arg := range cmd.Args {
			out := ""
			switch {
			case arg == "-output" && i+1 < len(cmd.Args):
				out = cmd.Args[i+1]
			case strings.HasPrefix(arg, "-output="):
				out = strings.TrimPrefix(arg, "-output=")
			case strings.HasPrefix(arg, "--output="):
				out = strings.TrimPrefix(arg, "--output=")
			}
			if out != "" {
				if err := os.WriteFile(out, contents, 0644); err != nil {
					return err
				}
			}
		}
		if cmd.Stdout != nil {
			_, err := cmd.Stdout.Write(contents)
			return err
		}
		return nil
	}
}

func setup(t *testing.T, size int) (context.Context, *exec.CommandCollector, *gsstore.MemStore, *Merger) {
	mock := &exec.CommandCollector{}
	mock.SetDelegateRun(fakeTools(size))
	ctx := exec.NewContext(context.Background(), mock.Run)
	store := gsstore.NewMemStore()
	return ctx, mock, store, NewMerger(chroot.NewInside(), store)
}

func TestCheckSize_Boundary(t *testing.T) {
	dir := t.TempDir()
	small := filepath.Join(dir, "small.afdo")
	require.NoError(t, os.WriteFile(small, make([]byte, artifact.MinProfileSize-1), 0644))
	_, err := CheckSize(small)
	require.ErrorIs(t, err, ErrEmptyProfile)

	ok := filepath.Join(dir, "ok.afdo")
	require.NoError(t, os.WriteFile(ok, make([]byte, artifact.MinProfileSize), 0644))
	size, err := CheckSize(ok)
	require.NoError(t, err)
	assert.Equal(t, int64(artifact.MinProfileSize), size)

	_, err = CheckSize(filepath.Join(dir, "missing.afdo"))
	require.Error(t, err)
}

func TestMerge_CommandLine(t *testing.T) {
	ctx, mock, _, m := setup(t, 0)
	require.NoError(t, m.Merge(ctx, []Weighted{{Path: "/tmp/a.afdo", Weight: 75}, {Path: "/tmp/b.afdo", Weight: 25}}, "/tmp/out.afdo", true))
	assert.Equal(t, []string{
		"llvm-profdata merge -sample -output=/tmp/out.afdo -weighted-input=75,/tmp/a.afdo -weighted-input=25,/tmp/b.afdo --extbinary",
	}, mock.DebugStrings())

	require.Error(t, m.Merge(ctx, nil, "/tmp/out.afdo", false))
}

func TestMerge_OutsideChroot_WrapsInCrosSDK(t *testing.T) {
	mock := &exec.CommandCollector{}
	ctx := exec.NewContext(context.Background(), mock.Run)
	m := NewMerger(chroot.New("/work/chroot"), gsstore.NewMemStore())
	require.NoError(t, m.Merge(ctx, []Weighted{{Path: "/work/chroot/tmp/a.afdo", Weight: 1}}, "/work/chroot/tmp/out.afdo", false))
	assert.Equal(t, []string{
		"cros_sdk --chroot /work/chroot -- llvm-profdata merge -sample -output=/tmp/out.afdo -weighted-input=1,/tmp/a.afdo",
	}, mock.DebugStrings())
}

func TestProcess_AllSteps(t *testing.T) {
	ctx, mock, _, m := setup(t, artifact.MinProfileSize)
	dir := t.TempDir()
	in := filepath.Join(dir, "in.afdo")
	out := filepath.Join(dir, "out.afdo")
	require.NoError(t, m.Process(ctx, in, out, ProcessOptions{
		Redact:              true,
		RemoveIndirectCalls: true,
		ReduceFunctions:     20000,
		ExtBinary:           true,
	}))
	assert.Equal(t, []string{
		"llvm-profdata merge -sample -text " + in + " -output " + in + ".text.temp",
		"redact_textual_afdo_profile",
		"remove_indirect_calls --input=" + in + ".redacted.temp --output=" + in + ".removed.temp",
		"remove_cold_functions --input=" + in + ".removed.temp --output=" + in + ".reduced.tmp --number=20000",
		"llvm-profdata merge -sample " + in + ".reduced.tmp -output " + out + " --extbinary",
	}, mock.DebugStrings())
}

func TestProcess_NoEdits(t *testing.T) {
	ctx, mock, _, m := setup(t, artifact.MinProfileSize)
	dir := t.TempDir()
	in := filepath.Join(dir, "in.afdo")
	out := filepath.Join(dir, "out.afdo")
	require.NoError(t, m.Process(ctx, in, out, ProcessOptions{}))
	assert.Equal(t, []string{
		"llvm-profdata merge -sample -text " + in + " -output " + in + ".text.temp",
		"llvm-profdata merge -sample " + in + ".text.temp -output " + out,
	}, mock.DebugStrings())
}

func TestProcess_EmptyOutput_ReturnsErrEmptyProfile(t *testing.T) {
	ctx, _, _, m := setup(t, artifact.MinProfileSize-1)
	dir := t.TempDir()
	err := m.Process(ctx, filepath.Join(dir, "in.afdo"), filepath.Join(dir, "out.afdo"), ProcessOptions{RemoveIndirectCalls: true})
	require.ErrorIs(t, err, ErrEmptyProfile)
}

func TestCreateReleaseProfile(t *testing.T) {
	ctx, mock, store, m := setup(t, artifact.MinProfileSize)
	dir := t.TempDir()
	cwpURL := "gs://chromeos-prebuilt/afdo-job/cwp/chrome/R77-3809.38-1562580965.afdo.xz"
	benchURL := "gs://chromeos-prebuilt/afdo-job/llvm/chromeos-chrome-amd64-77.0.3849.0_rc-r1.afdo.bz2"
	store.Put(cwpURL, time.Now(), []byte("cwp"))
	store.Put(benchURL, time.Now(), []byte("bench"))

	mergedName := "chromeos-chrome-amd64-atom-77-3809.38-1562580965-benchmark-77.0.3849.0-r1"
	got, err := m.CreateReleaseProfile(ctx, cwpURL, benchURL, dir, mergedName)
	require.NoError(t, err)
	merged := filepath.Join(dir, mergedName)
	assert.Equal(t, merged+"-redacted.afdo", got)
	assert.Equal(t, []string{cwpURL, benchURL}, store.Copies)

	cmds := mock.DebugStrings()
	require.Len(t, cmds, 8)
	assert.Equal(t, "xz -dc -- "+filepath.Join(dir, "R77-3809.38-1562580965.afdo.xz"), cmds[0])
	assert.Equal(t, "bzip2 -dc -- "+filepath.Join(dir, "chromeos-chrome-amd64-77.0.3849.0_rc-r1.afdo.bz2"), cmds[1])
	assert.Equal(t, "llvm-profdata merge -sample -output="+merged+
		" -weighted-input=75,"+filepath.Join(dir, "R77-3809.38-1562580965.afdo")+
		" -weighted-input=25,"+filepath.Join(dir, "chromeos-chrome-amd64-77.0.3849.0_rc-r1.afdo"), cmds[2])
	assert.Equal(t, "remove_cold_functions --input="+merged+".removed.temp --output="+merged+".reduced.tmp --number=20000", cmds[6])
	assert.True(t, strings.HasSuffix(cmds[7], "-output "+got+" --extbinary"), cmds[7])
}

func TestCreateReleaseProfile_MissingInput(t *testing.T) {
	ctx, mock, _, m := setup(t, artifact.MinProfileSize)
	_, err := m.CreateReleaseProfile(ctx, "gs://b/cwp/R77-3809.38-1562580965.afdo.xz", "gs://b/llvm/x.afdo.bz2", t.TempDir(), "merged")
	require.ErrorIs(t, err, gsstore.ErrNoSuchKey)
	assert.Empty(t, mock.Commands())
}

const benchDir = "gs://chromeos-toolchain-artifacts/afdo/unvetted/benchmark"

func newProfile(t *testing.T, dir, name string) string {
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, make([]byte, artifact.MinProfileSize), 0644))
	return p
}

func TestMergeRecentBenchmarkProfiles_SelectsNewestEligible(t *testing.T) {
	ctx, mock, store, m := setup(t, artifact.MinProfileSize)
	dir := t.TempDir()
	newest := newProfile(t, dir, "chromeos-chrome-amd64-100.0.4896.0_rc-r1.afdo")
	ts := time.Now()
	day := 24 * time.Hour
	put := func(name string, age time.Duration) {
		store.Put(benchDir+"/"+name, ts.Add(-age), []byte(name))
	}
	put("chromeos-chrome-amd64-97.0.1.0_rc-r1.afdo.bz2", 3*day)
	put("chromeos-chrome-amd64-98.0.1.0_rc-r1.afdo.bz2", 30*day)
	put("chromeos-chrome-amd64-99.0.4800.0_rc-r1.afdo.bz2", day)
	put("chromeos-chrome-amd64-100.0.4890.0_rc-r1.afdo.bz2", 2*day)
	put("chromeos-chrome-amd64-100.0.4896.0_rc-r1.afdo.bz2", 0)
	put("chromeos-chrome-amd64-101.0.1.0_rc-r1.afdo.bz2", 0)
	put("chromeos-chrome-amd64-99.0.4801.0_rc-r1-merged.afdo.bz2", 0)
	put("chromeos-chrome-arm-99.0.4802.0_rc-r1.afdo.bz2", 0)

	pool, err := m.BenchmarkPool(ctx, benchDir, "amd64")
	require.NoError(t, err)
	assert.Len(t, pool, 7)

	got, err := m.MergeRecentBenchmarkProfiles(ctx, RecentMerge{
		NewProfile: newest,
		Pool:       pool,
		MaxCount:   3,
		MaxAge:     artifact.RecentMergeMaxAge,
		Arch:       "amd64",
		OutputDir:  dir,
	})
	require.NoError(t, err)
	assert.Equal(t, "chromeos-chrome-amd64-100.0.4896.0_rc-r1-merged.afdo", got)
	assert.Equal(t, []string{
		benchDir + "/chromeos-chrome-amd64-99.0.4800.0_rc-r1.afdo.bz2",
		benchDir + "/chromeos-chrome-amd64-100.0.4890.0_rc-r1.afdo.bz2",
	}, store.Copies)

	raw := filepath.Join(dir, "raw-chromeos-chrome-amd64-100.0.4896.0_rc-r1-merged.afdo")
	cmds := mock.DebugStrings()
	require.Len(t, cmds, 7)
	assert.Equal(t, "llvm-profdata merge -sample -output="+raw+
		" -weighted-input=1,"+filepath.Join(dir, "chromeos-chrome-amd64-99.0.4800.0_rc-r1.afdo")+
		" -weighted-input=1,"+filepath.Join(dir, "chromeos-chrome-amd64-100.0.4890.0_rc-r1.afdo")+
		" -weighted-input=1,"+newest, cmds[2])
	assert.Equal(t, "remove_indirect_calls --input="+raw+".text.temp --output="+raw+".removed.temp", cmds[4])
	assert.Equal(t, "remove_cold_functions --input="+raw+".removed.temp --output="+raw+".reduced.tmp --number=70000", cmds[5])
	assert.Equal(t, "llvm-profdata merge -sample "+raw+".reduced.tmp -output "+filepath.Join(dir, got), cmds[6])
}

func TestMergeRecentBenchmarkProfiles_ArmIsRedacted(t *testing.T) {
	ctx, mock, store, m := setup(t, artifact.MinProfileSize)
	dir := t.TempDir()
	newest := newProfile(t, dir, "chromeos-chrome-arm-100.0.4896.0_rc-r1.afdo")
	store.Put(benchDir+"/chromeos-chrome-arm-99.0.4800.0_rc-r1.afdo.bz2", time.Now(), []byte("x"))
	pool, err := m.BenchmarkPool(ctx, benchDir, "arm")
	require.NoError(t, err)

	got, err := m.MergeRecentBenchmarkProfiles(ctx, RecentMerge{
		NewProfile: newest,
		Pool:       pool,
		MaxCount:   artifact.RecentMergeCount,
		MaxAge:     artifact.RecentMergeMaxAge,
		Arch:       "arm",
		OutputDir:  dir,
	})
	require.NoError(t, err)
	assert.Equal(t, "chromeos-chrome-arm-100.0.4896.0_rc-r1-merged.afdo", got)
	assert.Contains(t, mock.DebugStrings(), "redact_textual_afdo_profile")
}

func TestMergeRecentBenchmarkProfiles_MaxCountOne_DoesNothing(t *testing.T) {
	ctx, mock, store, m := setup(t, artifact.MinProfileSize)
	store.Put(benchDir+"/chromeos-chrome-amd64-99.0.4800.0_rc-r1.afdo.bz2", time.Now(), []byte("x"))
	pool, err := m.BenchmarkPool(ctx, benchDir, "amd64")
	require.NoError(t, err)

	got, err := m.MergeRecentBenchmarkProfiles(ctx, RecentMerge{
		NewProfile: "/does/not/exist/chromeos-chrome-amd64-100.0.4896.0_rc-r1.afdo",
		Pool:       pool,
		MaxCount:   1,
		OutputDir:  t.TempDir(),
	})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, mock.Commands())
	assert.Empty(t, store.Copies)
}

func TestMergeRecentBenchmarkProfiles_NoCandidates(t *testing.T) {
	ctx, mock, _, m := setup(t, artifact.MinProfileSize)
	dir := t.TempDir()
	pool, err := m.BenchmarkPool(ctx, benchDir, "amd64")
	require.NoError(t, err)
	assert.Empty(t, pool)

	got, err := m.MergeRecentBenchmarkProfiles(ctx, RecentMerge{
		NewProfile: newProfile(t, dir, "chromeos-chrome-amd64-100.0.4896.0_rc-r1.afdo"),
		Pool:       pool,
		MaxCount:   artifact.RecentMergeCount,
		MaxAge:     artifact.RecentMergeMaxAge,
		Arch:       "amd64",
		OutputDir:  dir,
	})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, mock.Commands())
}

func TestMergeRecentBenchmarkProfiles_DuplicateCandidate(t *testing.T) {
	ctx, _, _, m := setup(t, artifact.MinProfileSize)
	dir := t.TempDir()
	dup := gsstore.Object{URL: benchDir + "/chromeos-chrome-amd64-99.0.4800.0_rc-r1.afdo.bz2", Created: time.Now()}
	_, err := m.MergeRecentBenchmarkProfiles(ctx, RecentMerge{
		NewProfile: newProfile(t, dir, "chromeos-chrome-amd64-100.0.4896.0_rc-r1.afdo"),
		Pool:       []gsstore.Object{dup, dup},
		MaxCount:   artifact.RecentMergeCount,
		MaxAge:     artifact.RecentMergeMaxAge,
		Arch:       "amd64",
		OutputDir:  dir,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate merge candidate")
}

package updatefiles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.chromium.org/chromite/toolchain/go/artifact"
	"go.chromium.org/chromite/toolchain/go/config"
	"go.chromium.org/chromite/toolchain/go/gsstore"
)

const metadata = `{
  "chromeos-kernel-5_4": {
    "name": "R100-14516.0-1645439456"
  },
  "chromeos-kernel-5_10": {
    "name": "R100-14516.0-1645439000"
  }
}
`

func setup(t *testing.T, kver string) (*config.BuildContext, string) {
	root := t.TempDir()
	dir := filepath.Join(root, artifact.ToolchainUtilsCheckout, artifact.KernelMetadataDir)
	require.NoError(t, os.MkdirAll(dir, 0755))
	jsonFile := filepath.Join(dir, "kernel_afdo_5_4.json")
	require.NoError(t, os.WriteFile(jsonFile, []byte(metadata), 0644))
	bc, err := config.New(&config.File{
		SourceRoot:  root,
		ProfileInfo: &config.ProfileInfo{Arch: "amd64", KernelVersion: kver},
	}, gsstore.NewMemStore(), nil)
	require.NoError(t, err)
	return bc, jsonFile
}

func TestUpdate_KernelProfile(t *testing.T) {
	bc, jsonFile := setup(t, "5.4")
	res, err := Update(bc, artifact.VerifiedKernelCwpAfdoFile, "/out/R101-14543.0-1646042054.gcov.xz")
	require.NoError(t, err)
	assert.Equal(t, []string{jsonFile}, res.Files)
	assert.Equal(t, "afdo_metadata: Publish new kernel profiles for 5.4\n\n"+
		"Update 5.4 to R101-14543.0-1646042054\n\n"+
		"Automatically generated in kernel verifier.\n\n"+
		"BUG=None\n"+
		"TEST=Verified in kernel-release-afdo-verify-orchestrator\n", res.CommitMessage)

	b, err := os.ReadFile(jsonFile)
	require.NoError(t, err)
	assert.Equal(t, `{
  "chromeos-kernel-5_10": {
    "name": "R100-14516.0-1645439000"
  },
  "chromeos-kernel-5_4": {
    "name": "R101-14543.0-1646042054"
  }
}
`, string(b))
	st, err := os.Stat(jsonFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), st.Mode().Perm())
}

func TestUpdate_OlderProfile_Error(t *testing.T) {
	bc, jsonFile := setup(t, "5.4")
	_, err := Update(bc, artifact.VerifiedKernelCwpAfdoFile, "/out/R99-14400.0-1645000000.gcov.xz")
	require.ErrorIs(t, err, ErrUpdate)
	assert.Contains(t, err.Error(), "is not newer than R100-14516.0-1645439456")

	_, err = Update(bc, artifact.VerifiedKernelCwpAfdoFile, "/out/R100-14516.0-1645439456.gcov.xz")
	require.ErrorIs(t, err, ErrUpdate)

	b, err := os.ReadFile(jsonFile)
	require.NoError(t, err)
	assert.Equal(t, metadata, string(b))
}

func TestUpdate_UnparseableCurrentProfile_Error(t *testing.T) {
	bc, jsonFile := setup(t, "5.4")
	garbage := `{"chromeos-kernel-5_4": {"name": "not-a-profile"}}`
	require.NoError(t, os.WriteFile(jsonFile, []byte(garbage), 0644))
	_, err := Update(bc, artifact.VerifiedKernelCwpAfdoFile, "/out/R101-14543.0-1646042054.gcov.xz")
	require.ErrorIs(t, err, ErrUpdate)
	assert.Contains(t, err.Error(), `Unable to parse the current profile "not-a-profile"`)

	b, err := os.ReadFile(jsonFile)
	require.NoError(t, err)
	assert.Equal(t, garbage, string(b))
}

func TestUpdate_Errors(t *testing.T) {
	bc, _ := setup(t, "")
	_, err := Update(bc, artifact.VerifiedKernelCwpAfdoFile, "/out/R101-14543.0-1646042054.gcov.xz")
	require.ErrorIs(t, err, ErrUpdate)
	assert.Contains(t, err.Error(), "kernel_version not provided")

	bc, _ = setup(t, "4.19")
	_, err = Update(bc, artifact.VerifiedKernelCwpAfdoFile, "/out/R101-14543.0-1646042054.gcov.xz")
	require.ErrorIs(t, err, ErrUpdate)
	assert.Contains(t, err.Error(), "Metadata for 4_19 does not exist")

	bc, _ = setup(t, "5.4")
	_, err = Update(bc, artifact.VerifiedReleaseAfdoFile, "/out/x.afdo.xz")
	require.ErrorIs(t, err, ErrUpdate)
	assert.Contains(t, err.Error(), "VerifiedReleaseAfdoFile has no handler")
}

func TestUpdate_MissingEntry(t *testing.T) {
	bc, jsonFile := setup(t, "5.4")
	require.NoError(t, os.WriteFile(jsonFile, []byte(`{"chromeos-kernel-5_10": {"name": "R100-1.0-1"}}`), 0644))
	_, err := Update(bc, artifact.VerifiedKernelCwpAfdoFile, "/out/R101-14543.0-1646042054.gcov.xz")
	require.ErrorIs(t, err, ErrUpdate)
	assert.Contains(t, err.Error(), "the entry should be in kernel_afdo_5_4.json")
}

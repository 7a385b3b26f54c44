// Package updatefiles records newly verified artifacts in the checkout, so
// that they can be committed.
package updatefiles

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.chromium.org/chromite/go/fileutil"
	"go.chromium.org/chromite/go/skerr"
	"go.chromium.org/chromite/go/sklog"
	"go.chromium.org/chromite/go/util"
	"go.chromium.org/chromite/toolchain/go/artifact"
	"go.chromium.org/chromite/toolchain/go/config"
	"go.chromium.org/chromite/toolchain/go/locator"
)

// ErrUpdate is returned when the checkout cannot be updated.
var ErrUpdate = errors.New("get updated files failed")

const kernelCommitMessage = `afdo_metadata: Publish new kernel profiles for %s

Update %s to %s

Automatically generated in kernel verifier.

BUG=None
TEST=Verified in kernel-release-afdo-verify-orchestrator
`

// Result is the outcome of an update.
type Result struct {
	// Files are the changed files.
	Files []string
	// CommitMessage describes the change.
	CommitMessage string
}

func updateErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUpdate, fmt.Sprintf(format, args...))
}

// Update records the artifact of the given kind, which was bundled into
// artifactPath, in the checkout described by bc.
func Update(bc *config.BuildContext, kind artifact.Kind, artifactPath string) (*Result, error) {
	switch kind {
	case artifact.VerifiedKernelCwpAfdoFile:
		return updateKernelProfileMetadata(bc, artifactPath)
	}
	return nil, updateErr("%s has no handler in GetUpdatedFiles", kind)
}

func updateKernelProfileMetadata(bc *config.BuildContext, artifactPath string) (*Result, error) {
	kver := bc.Profile.KernelVersion
	if kver == "" {
		return nil, updateErr("kernel_version not provided")
	}
	profileVersion := strings.ReplaceAll(filepath.Base(artifactPath), artifact.KernelAFDOSuffix, "")
	jsonFile, err := updateKernelMetadata(bc.ToolchainUtilsDir, kver, profileVersion)
	if err != nil {
		return nil, err
	}
	return &Result{
		Files:         []string{jsonFile},
		CommitMessage: fmt.Sprintf(kernelCommitMessage, kver, kver, profileVersion),
	}, nil
}

// updateKernelMetadata points the metadata of kernel kver at
// profileVersion, which must be newer than the current profile.
func updateKernelMetadata(toolchainUtilsDir, kver, profileVersion string) (string, error) {
	kver = strings.ReplaceAll(kver, ".", "_")
	jsonFile := filepath.Join(toolchainUtilsDir, artifact.KernelMetadataDir, fmt.Sprintf("kernel_afdo_%s.json", kver))
	if !fileutil.FileExists(jsonFile) {
		return "", updateErr("Metadata for %s does not exist", kver)
	}
	st, err := os.Stat(jsonFile)
	if err != nil {
		return "", skerr.Wrap(err)
	}

	var versions map[string]map[string]interface{}
	err = util.WithReadFile(jsonFile, func(r io.Reader) error {
		return json.NewDecoder(r).Decode(&versions)
	})
	if err != nil {
		return "", skerr.Wrapf(err, "reading %s", jsonFile)
	}
	kernelName := artifact.KernelPackagePrefix + kver
	entry, ok := versions[kernelName]
	if !ok {
		return "", updateErr("To update %s, the entry should be in %s", kernelName, filepath.Base(jsonFile))
	}
	oldValue, _ := entry["name"].(string)

	// Bundle only runs when a new profile needs verifying, but another
	// update may have landed since.
	oldRank := locator.RankCWP(oldValue)
	if len(oldRank) == 0 {
		return "", updateErr("Unable to parse the current profile %q of %s in %s", oldValue, kernelName, filepath.Base(jsonFile))
	}
	newRank := locator.RankCWP(profileVersion)
	if len(newRank) == 0 || oldRank.Compare(newRank) >= 0 {
		return "", updateErr("Failed to update JSON file because %s is not newer than %s", profileVersion, oldValue)
	}
	entry["name"] = profileVersion

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(versions); err != nil {
		return "", skerr.Wrap(err)
	}
	err = util.WithWriteFile(jsonFile, func(w io.Writer) error {
		_, err := w.Write(buf.Bytes())
		return err
	})
	if err != nil {
		return "", skerr.Wrapf(err, "writing %s", jsonFile)
	}
	if err := os.Chmod(jsonFile, st.Mode().Perm()); err != nil {
		return "", skerr.Wrap(err)
	}
	sklog.Infof("Updated %s from %s to %s in %s", kernelName, oldValue, profileVersion, jsonFile)
	return jsonFile, nil
}

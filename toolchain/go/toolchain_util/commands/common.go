// Package commands implements the subcommands of toolchain_util.
package commands

import (
	"context"
	"encoding/json"
	"io"

	"cloud.google.com/go/storage"
	"github.com/urfave/cli/v2"
	"go.chromium.org/chromite/go/email"
	"go.chromium.org/chromite/go/skerr"
	"go.chromium.org/chromite/go/sklog"
	"go.chromium.org/chromite/toolchain/go/alerts"
	"go.chromium.org/chromite/toolchain/go/artifact"
	"go.chromium.org/chromite/toolchain/go/config"
	"go.chromium.org/chromite/toolchain/go/gsstore"
)

// flag names
const (
	configFlagName        = "config"
	chrootFlagName        = "chroot"
	insideChrootFlagName  = "inside-chroot"
	sysrootFlagName       = "sysroot"
	buildTargetFlagName   = "build-target"
	sourceRootFlagName    = "source-root"
	archFlagName          = "arch"
	kernelVersionFlagName = "kernel-version"
	cwpProfileFlagName    = "chrome-cwp-profile"
	emailAlertsFlagName   = "email-alerts"
	artifactFlagName      = "artifact"
	outDirFlagName        = "out-dir"
	artifactPathFlagName  = "artifact-path"
)

var (
	// newStore returns the Store used to reach cloud storage.
	newStore = func(ctx context.Context) (gsstore.Store, error) {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, skerr.Wrapf(err, "creating storage client")
		}
		return gsstore.NewGCSStore(client), nil
	}

	// newEmailClient returns the client used for email alerts.
	newEmailClient = email.NewClient
)

// commonCmd holds the flags which describe the build, shared by every
// subcommand. Flags override the values in the config file.
type commonCmd struct {
	configPath    string
	chroot        string
	insideChroot  bool
	sysroot       string
	buildTarget   string
	sourceRoot    string
	arch          string
	kernelVersion string
	cwpProfile    string
	emailAlerts   bool
}

func (cmd *commonCmd) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        configFlagName,
			Usage:       "JSON5 file describing the build",
			Destination: &cmd.configPath,
		},
		&cli.StringFlag{
			Name:        chrootFlagName,
			Usage:       "host path of the SDK chroot",
			Destination: &cmd.chroot,
		},
		&cli.BoolFlag{
			Name:        insideChrootFlagName,
			Usage:       "set when running inside the SDK chroot",
			Destination: &cmd.insideChroot,
		},
		&cli.StringFlag{
			Name:        sysrootFlagName,
			Usage:       "board sysroot, relative to the chroot, eg. /build/eve",
			Destination: &cmd.sysroot,
		},
		&cli.StringFlag{
			Name:        buildTargetFlagName,
			Usage:       "name of the build target, eg. eve",
			Destination: &cmd.buildTarget,
		},
		&cli.StringFlag{
			Name:        sourceRootFlagName,
			Usage:       "root of the ChromiumOS checkout",
			Destination: &cmd.sourceRoot,
		},
		&cli.StringFlag{
			Name:        archFlagName,
			Usage:       "architecture of the profile, eg. amd64 or arm",
			Destination: &cmd.arch,
		},
		&cli.StringFlag{
			Name:        kernelVersionFlagName,
			Usage:       "kernel version to verify, eg. 5.4",
			Destination: &cmd.kernelVersion,
		},
		&cli.StringFlag{
			Name:        cwpProfileFlagName,
			Usage:       "CWP profile variant, eg. atom or exp-amd64",
			Destination: &cmd.cwpProfile,
		},
		&cli.BoolFlag{
			Name:        emailAlertsFlagName,
			Usage:       "mail alerts to the toolchain oncall instead of logging them",
			Destination: &cmd.emailAlerts,
		},
	}
}

// file returns the config file with the flags applied.
func (cmd *commonCmd) file() (*config.File, error) {
	f := &config.File{}
	if cmd.configPath != "" {
		loaded, err := config.Load(cmd.configPath)
		if err != nil {
			return nil, err
		}
		f = loaded
	}
	if cmd.chroot != "" {
		f.Chroot = cmd.chroot
	}
	if cmd.insideChroot {
		f.InsideChroot = true
	}
	if cmd.sysroot != "" {
		f.SysrootPath = cmd.sysroot
	}
	if cmd.buildTarget != "" {
		f.BuildTarget = cmd.buildTarget
	}
	if cmd.sourceRoot != "" {
		f.SourceRoot = cmd.sourceRoot
	}
	if cmd.arch != "" || cmd.kernelVersion != "" || cmd.cwpProfile != "" {
		if f.ProfileInfo == nil {
			f.ProfileInfo = &config.ProfileInfo{}
		}
		if cmd.arch != "" {
			f.ProfileInfo.Arch = cmd.arch
		}
		if cmd.kernelVersion != "" {
			f.ProfileInfo.KernelVersion = cmd.kernelVersion
		}
		if cmd.cwpProfile != "" {
			f.ProfileInfo.ChromeCWPProfile = cmd.cwpProfile
		}
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func (cmd *commonCmd) alerter(ctx context.Context) alerts.Alerter {
	if !cmd.emailAlerts {
		return &alerts.LogAlerter{}
	}
	client, err := newEmailClient(ctx)
	if err != nil {
		sklog.Warningf("Logging alerts instead of mailing them: %s", err)
		return &alerts.LogAlerter{}
	}
	return alerts.NewEmailAlerter(client, artifact.AlertRecipients)
}

func (cmd *commonCmd) buildContext(ctx context.Context) (*config.BuildContext, error) {
	f, err := cmd.file()
	if err != nil {
		return nil, err
	}
	store, err := newStore(ctx)
	if err != nil {
		return nil, err
	}
	return config.New(f, store, cmd.alerter(ctx))
}

func parseKinds(names []string) ([]artifact.Kind, error) {
	if len(names) == 0 {
		return nil, skerr.Fmt("at least one --%s is required", artifactFlagName)
	}
	rv := make([]artifact.Kind, 0, len(names))
	for _, name := range names {
		kind, err := artifact.ParseKind(name)
		if err != nil {
			return nil, err
		}
		rv = append(rv, kind)
	}
	return rv, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return skerr.Wrap(enc.Encode(v))
}

// Commands returns every subcommand.
func Commands() []*cli.Command {
	return []*cli.Command{
		PrepareCommand(),
		BundleCommand(),
		UpdateFilesCommand(),
	}
}

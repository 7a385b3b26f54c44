package commands

import (
	"github.com/urfave/cli/v2"
	"go.chromium.org/chromite/toolchain/go/artifact"
	"go.chromium.org/chromite/toolchain/go/config"
	"go.chromium.org/chromite/toolchain/go/updatefiles"
)

// UpdateFilesOutput is written to stdout by the update-files subcommand.
type UpdateFilesOutput struct {
	Files         []string `json:"files"`
	CommitMessage string   `json:"commit_message"`
}

type updateFilesCmd struct {
	commonCmd
	kind         string
	artifactPath string
}

// UpdateFilesCommand returns a [*cli.Command] which records a bundled
// artifact in the checkout.
func UpdateFilesCommand() *cli.Command {
	cmd := &updateFilesCmd{}
	return &cli.Command{
		Name:        "update-files",
		Description: "update-files records a verified artifact in the checkout and prints the changed files with a commit message.",
		Usage:       "toolchain_util update-files --config <file> --artifact <kind> --artifact-path <path>",
		Flags: append(cmd.flags(),
			&cli.StringFlag{
				Name:        artifactFlagName,
				Usage:       "artifact kind which was bundled",
				Required:    true,
				Destination: &cmd.kind,
			},
			&cli.StringFlag{
				Name:        artifactPathFlagName,
				Usage:       "path of the bundled artifact",
				Required:    true,
				Destination: &cmd.artifactPath,
			},
		),
		Action: cmd.action,
	}
}

func (cmd *updateFilesCmd) action(cliCtx *cli.Context) error {
	kind, err := artifact.ParseKind(cmd.kind)
	if err != nil {
		return err
	}
	f, err := cmd.file()
	if err != nil {
		return err
	}
	// Only the checkout is touched, so there is no need for storage.
	bc, err := config.New(f, nil, nil)
	if err != nil {
		return err
	}
	res, err := updatefiles.Update(bc, kind, cmd.artifactPath)
	if err != nil {
		return err
	}
	return writeJSON(cliCtx.App.Writer, UpdateFilesOutput{
		Files:         res.Files,
		CommitMessage: res.CommitMessage,
	})
}

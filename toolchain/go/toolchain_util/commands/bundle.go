package commands

import (
	"github.com/urfave/cli/v2"
	"go.chromium.org/chromite/toolchain/go/bundle"
)

// BundleOutput is written to stdout by the bundle subcommand.
type BundleOutput struct {
	// Artifacts maps each artifact kind to the files created for it.
	Artifacts map[string][]string `json:"artifacts"`
}

type bundleCmd struct {
	commonCmd
	outDir string
}

// BundleCommand returns a [*cli.Command] which places the built artifacts in
// an output directory.
func BundleCommand() *cli.Command {
	cmd := &bundleCmd{}
	return &cli.Command{
		Name:        "bundle",
		Description: "bundle produces the given artifacts after the build and places them in the output directory.",
		Usage:       "toolchain_util bundle --config <file> --out-dir <dir> --artifact <kind> [--artifact <kind>...]",
		Flags: append(cmd.flags(),
			&cli.StringSliceFlag{
				Name:  artifactFlagName,
				Usage: "artifact kind to bundle",
			},
			&cli.StringFlag{
				Name:        outDirFlagName,
				Usage:       "existing directory to place the artifacts in",
				Required:    true,
				Destination: &cmd.outDir,
			},
		),
		Action: cmd.action,
	}
}

func (cmd *bundleCmd) action(cliCtx *cli.Context) error {
	ctx := cliCtx.Context
	kinds, err := parseKinds(cliCtx.StringSlice(artifactFlagName))
	if err != nil {
		return err
	}
	bc, err := cmd.buildContext(ctx)
	if err != nil {
		return err
	}
	h := bundle.New(bc)
	out := BundleOutput{Artifacts: make(map[string][]string, len(kinds))}
	for _, kind := range kinds {
		files, err := h.Bundle(ctx, kind, cmd.outDir)
		if err != nil {
			return err
		}
		out.Artifacts[kind.String()] = files
	}
	return writeJSON(cliCtx.App.Writer, out)
}

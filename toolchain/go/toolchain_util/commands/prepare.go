package commands

import (
	"github.com/urfave/cli/v2"
	"go.chromium.org/chromite/toolchain/go/prepare"
)

// PrepareOutput is written to stdout by the prepare subcommand.
type PrepareOutput struct {
	// Result is the decision for the build as a whole.
	Result string `json:"result"`
	// Artifacts holds the decision for each artifact kind.
	Artifacts map[string]string `json:"artifacts"`
}

type prepareCmd struct {
	commonCmd
}

// PrepareCommand returns a [*cli.Command] which decides whether the given
// artifacts are worth building.
func PrepareCommand() *cli.Command {
	cmd := &prepareCmd{}
	return &cli.Command{
		Name:        "prepare",
		Description: "prepare decides whether building the given artifacts is worthwhile, and points ebuilds at the profiles to verify.",
		Usage:       "toolchain_util prepare --config <file> --artifact <kind> [--artifact <kind>...]",
		Flags: append(cmd.flags(), &cli.StringSliceFlag{
			Name:  artifactFlagName,
			Usage: "artifact kind to prepare, eg. UnverifiedChromeBenchmarkAfdoFile",
		}),
		Action: cmd.action,
	}
}

func (cmd *prepareCmd) action(cliCtx *cli.Context) error {
	ctx := cliCtx.Context
	kinds, err := parseKinds(cliCtx.StringSlice(artifactFlagName))
	if err != nil {
		return err
	}
	bc, err := cmd.buildContext(ctx)
	if err != nil {
		return err
	}
	decided, result, err := prepare.New(bc).PrepareAll(ctx, kinds)
	if err != nil {
		return err
	}
	out := PrepareOutput{
		Result:    result.String(),
		Artifacts: make(map[string]string, len(decided)),
	}
	for kind, r := range decided {
		out.Artifacts[kind.String()] = r.String()
	}
	return writeJSON(cliCtx.App.Writer, out)
}

// toolchain_util prepares, bundles and records the ChromiumOS toolchain
// artifacts: AFDO profiles, debug binaries and compiler logs.
package main

import (
	"os"

	"github.com/urfave/cli/v2"
	"go.chromium.org/chromite/go/sklog"
	"go.chromium.org/chromite/toolchain/go/toolchain_util/commands"
)

const verboseFlagName = "verbose"

func main() {
	app := &cli.App{
		Name:        "toolchain_util",
		Description: "toolchain_util decides which toolchain artifacts a build should produce, and produces them.",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  verboseFlagName,
				Usage: "also log debug lines, such as every command run",
			},
		},
		Before: func(cliCtx *cli.Context) error {
			sklog.SetVerbose(cliCtx.Bool(verboseFlagName))
			return nil
		},
		Commands: commands.Commands(),
	}
	if err := app.Run(os.Args); err != nil {
		sklog.Fatal(err)
	}
}

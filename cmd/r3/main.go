/*
	Command r3 is the CLI front end for the r3 content-addressed
	repository: a thin wrapper translating flags and subcommands into
	calls against the root r3 package, following the same "CLI is a
	dispatcher, the library does the work" shape as cmd/repeatr.

	The repository root is taken from --repository or the R3_REPOSITORY
	environment variable; process exit codes are derived from
	internal/errkind's typed error taxonomy via errkind.ExitCodeFor.
*/
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/r3fs/r3"
	"github.com/r3fs/r3/internal/errkind"
)

func main() {
	app := &cli.App{
		Name:  "r3",
		Usage: "a content-addressed repository for reproducible research artifacts",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "repository",
				Aliases: []string{"r"},
				Usage:   "path to the r3 repository",
				EnvVars: []string{"R3_REPOSITORY"},
				Value:   ".",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "log at debug level",
			},
			&cli.StringFlag{
				Name:  "index",
				Usage: "metadata index backend to use: yaml or sqlite",
				Value: "yaml",
			},
		},
		Commands: []*cli.Command{
			initCommand,
			commitCommand,
			checkoutCommand,
			removeCommand,
			pullCommand,
			verifyCommand,
			rebuildIndexCommand,
			findCommand,
		},
		CommandNotFound: func(ctx *cli.Context, command string) {
			fmt.Fprintf(ctx.App.ErrWriter, "%q is not an r3 subcommand\n", command)
			os.Exit(int(errkind.ExitUsage))
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "r3: %s\n", err)
		os.Exit(int(errkind.ExitCodeFor(err)))
	}
}

func indexBackend(ctx *cli.Context) r3.IndexBackend {
	if ctx.String("index") == "sqlite" {
		return r3.IndexSQLite
	}
	return r3.IndexYAML
}

func openRepository(ctx *cli.Context) (*r3.Repository, error) {
	return r3.Open(ctx.String("repository"), r3.Options{
		Verbose:      ctx.Bool("verbose"),
		IndexBackend: indexBackend(ctx),
	})
}

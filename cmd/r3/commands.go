package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/r3fs/r3"
)

var initCommand = &cli.Command{
	Name:      "init",
	Usage:     "create a new, empty repository",
	ArgsUsage: " ",
	Action: func(ctx *cli.Context) error {
		return r3.Init(ctx.String("repository"))
	},
}

var commitCommand = &cli.Command{
	Name:      "commit",
	Usage:     "hash and store a staged job",
	ArgsUsage: "<staging-directory>",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return cli.Exit("commit requires exactly one argument: the staging directory", 1)
		}
		repo, err := openRepository(ctx)
		if err != nil {
			return err
		}
		defer repo.Close()

		result, err := repo.Commit(ctx.Args().First())
		if err != nil {
			return err
		}
		if result.AlreadyPresent {
			fmt.Fprintf(ctx.App.Writer, "%s (already present)\n", result.ID)
		} else {
			fmt.Fprintln(ctx.App.Writer, result.ID)
		}
		return nil
	},
}

var checkoutCommand = &cli.Command{
	Name:      "checkout",
	Usage:     "materialize a stored job into a target directory",
	ArgsUsage: "<job-id> <target-directory>",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 2 {
			return cli.Exit("checkout requires two arguments: the job id and the target directory", 1)
		}
		repo, err := openRepository(ctx)
		if err != nil {
			return err
		}
		defer repo.Close()

		return repo.Checkout(ctx.Args().Get(0), ctx.Args().Get(1))
	},
}

var removeCommand = &cli.Command{
	Name:      "remove",
	Usage:     "delete a stored job, if nothing depends on it",
	ArgsUsage: "<job-id>",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return cli.Exit("remove requires exactly one argument: the job id", 1)
		}
		repo, err := openRepository(ctx)
		if err != nil {
			return err
		}
		defer repo.Close()

		return repo.Remove(ctx.Args().First())
	},
}

var pullCommand = &cli.Command{
	Name:      "pull",
	Usage:     "fetch a git dependency remote's bare clone",
	ArgsUsage: "<repository-url>",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return cli.Exit("pull requires exactly one argument: the git remote to fetch", 1)
		}
		repo, err := openRepository(ctx)
		if err != nil {
			return err
		}
		defer repo.Close()

		return repo.Pull(ctx.Args().First())
	},
}

var verifyCommand = &cli.Command{
	Name:      "verify",
	Usage:     "rehash a stored job and confirm it matches its id",
	ArgsUsage: "<job-id>",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return cli.Exit("verify requires exactly one argument: the job id", 1)
		}
		repo, err := openRepository(ctx)
		if err != nil {
			return err
		}
		defer repo.Close()

		if err := repo.Verify(ctx.Args().First()); err != nil {
			return err
		}
		fmt.Fprintln(ctx.App.Writer, "ok")
		return nil
	},
}

var rebuildIndexCommand = &cli.Command{
	Name:      "rebuild-index",
	Usage:     "regenerate the metadata index by rescanning stored jobs",
	ArgsUsage: " ",
	Action: func(ctx *cli.Context) error {
		repo, err := openRepository(ctx)
		if err != nil {
			return err
		}
		defer repo.Close()

		return repo.RebuildIndex()
	},
}

var findCommand = &cli.Command{
	Name:      "find",
	Usage:     "list stored jobs matching every given tag",
	ArgsUsage: "[tag...]",
	Action: func(ctx *cli.Context) error {
		repo, err := openRepository(ctx)
		if err != nil {
			return err
		}
		defer repo.Close()

		matches, err := repo.Find(ctx.Args().Slice())
		if err != nil {
			return err
		}
		for _, id := range matches {
			fmt.Fprintln(ctx.App.Writer, id)
		}
		return nil
	},
}

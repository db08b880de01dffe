package cmd

import (
	"fmt"

	"github.com/cqroot/prompt"
	"github.com/urfave/cli/v2"

	"subhub/store"
)

func migrateCmd() *cli.Command {
	flags := append(storeFlags(),
		&cli.BoolFlag{
			Name:    "yes",
			Aliases: []string{"y"},
			Usage:   "Skip the confirmation prompt",
		},
	)

	return &cli.Command{
		Name:  "migrate",
		Usage: "Migrate legacy single-blob state to the typed keys",
		Description: `Splits the legacy single-blob state key into the separate
subscription, profile and settings keys. Typed keys that already exist are
left untouched, and the legacy blob is retained, so the migration is safe
to rerun.`,
		Flags: flags,
		Action: func(ctx *cli.Context) error {
			if !ctx.Bool("yes") {
				answer, err := prompt.New().
					Ask("Migrate legacy state into the typed keys?").
					Choose([]string{"yes", "no"})
				if err != nil {
					return err
				}
				if answer != "yes" {
					fmt.Println("Aborted")
					return nil
				}
			}

			st, err := store.New(store.Config{
				Endpoints: ctx.StringSlice("etcd-endpoints"),
				Username:  ctx.String("etcd-username"),
				Password:  ctx.String("etcd-password"),
				BasePath:  ctx.String("etcd-base-path"),
			})
			if err != nil {
				return err
			}
			defer st.Close()

			return st.MigrateLegacy(ctx.Context)
		},
	}
}

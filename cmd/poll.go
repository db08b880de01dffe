package cmd

import (
	"github.com/urfave/cli/v2"

	"subhub/poller"
	"subhub/store"
)

func pollCmd() *cli.Command {
	flags := append(storeFlags(),
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the TOML file with default settings",
			EnvVars: []string{"SUBHUB_CONFIG"},
		},
	)

	return &cli.Command{
		Name:  "poll",
		Usage: "Run one poll cycle and exit",
		Description: `Fetches every enabled remote subscription once, refreshes the
cached node counts and usage info, evaluates the notification thresholds
and persists whatever changed.

Useful from an external scheduler when the internal one is disabled.`,
		Flags: flags,
		Action: func(ctx *cli.Context) error {
			defaults, err := loadDefaults(ctx.String("config"))
			if err != nil {
				return err
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

			return poller.New(st, defaults).Run(ctx.Context)
		},
	}
}

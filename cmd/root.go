package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "subhub",
		Usage: "Aggregate proxy subscription feeds and serve them in client formats",
		Description: `Subhub merges proxy nodes from remote subscription feeds and
		manual entries into one deduplicated list and serves it over HTTP,
		either as raw base64 or converted to clash/singbox/surge through an
		external converter service.

		A scheduled poll tracks feed usage and expiry and sends Telegram
		alerts when the configured thresholds are crossed.

		Flags can generally be set via environment variables, e.g.:

		--port => SUBHUB_PORT=8080
		--etcd-endpoints => SUBHUB_ETCD_ENDPOINTS=localhost:2379
		`,
		Commands: []*cli.Command{
			serveCmd(),
			pollCmd(),
			migrateCmd(),
			tokenCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

func Execute() {
	if err := RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// storeFlags are shared by every command that touches the key-value store.
func storeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "etcd-endpoints",
			Usage:   "etcd cluster endpoints",
			EnvVars: []string{"SUBHUB_ETCD_ENDPOINTS"},
			Value:   cli.NewStringSlice("localhost:2379"),
		},
		&cli.StringFlag{
			Name:    "etcd-username",
			Usage:   "etcd username",
			EnvVars: []string{"SUBHUB_ETCD_USERNAME"},
		},
		&cli.StringFlag{
			Name:    "etcd-password",
			Usage:   "etcd password",
			EnvVars: []string{"SUBHUB_ETCD_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "etcd-base-path",
			Usage:   "Base path for all stored keys",
			EnvVars: []string{"SUBHUB_ETCD_BASE_PATH"},
			Value:   "subhub",
		},
	}
}

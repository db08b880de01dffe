package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"subhub/config"
	"subhub/models"
	"subhub/poller"
	"subhub/server"
	"subhub/store"
)

func serveCmd() *cli.Command {
	flags := append(storeFlags(),
		&cli.IntFlag{
			Name:    "port",
			Usage:   "Port to listen on",
			EnvVars: []string{"SUBHUB_PORT"},
			Value:   3000,
		},
		&cli.StringFlag{
			Name:    "hostname",
			Aliases: []string{"n"},
			Usage:   "The hostname this service is reachable on, used in callback URLs",
			EnvVars: []string{"SUBHUB_HOSTNAME"},
		},
		&cli.StringFlag{
			Name:    "admin-secret",
			Usage:   "Administrative secret; keys the callback token and the management API",
			EnvVars: []string{"SUBHUB_ADMIN_SECRET"},
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the TOML file with default settings",
			EnvVars: []string{"SUBHUB_CONFIG"},
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "Interval between scheduled poll cycles, 0 disables the internal scheduler",
			EnvVars: []string{"SUBHUB_POLL_INTERVAL"},
			Value:   6 * time.Hour,
		},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the aggregated subscriptions",
		Description: `Starts the subhub HTTP server and the internal poll scheduler.

Serves the aggregation endpoint, the maintenance trigger, the management
API and Prometheus metrics. With a poll interval of 0 the scheduler is
disabled and polling is left to an external cron hitting /maintenance.`,
		Flags: flags,
		Action: func(ctx *cli.Context) error {
			hostname := ctx.String("hostname")
			if hostname == "" {
				return fmt.Errorf("please specify a hostname")
			}

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

			p := poller.New(st, defaults)

			app := server.Server(&server.ServerConfig{
				Hostname:    hostname,
				Store:       st,
				Defaults:    defaults,
				AdminSecret: ctx.String("admin-secret"),
				Poller:      p,
			})

			// Internal poll scheduler
			pollCtx, stopPolling := context.WithCancel(ctx.Context)
			defer stopPolling()
			if interval := ctx.Duration("poll-interval"); interval > 0 {
				ticker := time.NewTicker(interval)
				go func() {
					defer ticker.Stop()
					for {
						select {
						case <-pollCtx.Done():
							return
						case <-ticker.C:
							if err := p.Run(pollCtx); err != nil {
								log.WithFields(log.Fields{
									"error": err,
								}).Error("Scheduled poll cycle failed")
							}
						}
					}
				}()
			}

			// Graceful shutdown
			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt)

			go func() {
				<-c
				fmt.Println("Gracefully shutting down...")
				stopPolling()
				app.ShutdownWithTimeout(60 * time.Second)
			}()

			log.WithFields(log.Fields{
				"port":     ctx.Int("port"),
				"hostname": hostname,
			}).Info("Starting server")

			return app.Listen(fmt.Sprintf(":%d", ctx.Int("port")))
		},
	}
}

func loadDefaults(path string) (defaults models.Settings, err error) {
	if path == "" {
		return config.DefaultSettings(nil), nil
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return defaults, fmt.Errorf("failed to load config: %w", err)
	}
	return config.DefaultSettings(cfg), nil
}

package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"subhub/converter"
)

func tokenCmd() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Print the derived callback token",
		Description: `Prints the callback token derived from the administrative
secret. Handy for checking which token the converter's callback URLs carry
after a secret rotation.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "admin-secret",
				Usage:   "Administrative secret the token is derived from",
				EnvVars: []string{"SUBHUB_ADMIN_SECRET"},
			},
		},
		Action: func(ctx *cli.Context) error {
			fmt.Println(converter.CallbackToken(ctx.String("admin-secret")))
			return nil
		},
	}
}

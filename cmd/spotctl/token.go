package main

import (
	"fmt"
	"time"

	"backend-skatespots/internal/auth"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token <userId> <email>",
	Short: "Sign a bearer token for local testing",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := auth.NewService(cfg.JWTSecret, cfg.AdminEmail)
		tok, err := svc.SignToken(args[0], args[1], tokenTTL)
		if err != nil {
			return eris.Wrap(err, "sign token")
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}

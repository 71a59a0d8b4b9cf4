package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"bookwell.io/internal/auth"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API bearer tokens",
	}

	var (
		userID int
		ttl    time.Duration
	)
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Mint a bearer token for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return errors.New("--user must be a positive user id")
			}
			if ttl <= 0 {
				ttl = opts.cfg.Security.TokenTTL.Duration
			}
			tokens, err := auth.NewTokens(opts.cfg.Security.TokenSecret, auth.WithIssuer(opts.cfg.Security.TokenIssuer))
			if err != nil {
				return err
			}
			token, expires, err := tokens.Mint(userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.UTC().Format(time.RFC3339))
			return nil
		},
	}
	mint.Flags().IntVar(&userID, "user", 0, "user id the token authenticates")
	mint.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to security.token_ttl)")
	_ = mint.MarkFlagRequired("user")

	cmd.AddCommand(mint)
	return cmd
}

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/txn2/karaoke-live/internal/server"
	"github.com/txn2/karaoke-live/pkg/auth"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Configuration valid")
			fmt.Fprintf(out, "  address:  %s\n", cfg.Server.Address)
			fmt.Fprintf(out, "  database: %t\n", cfg.Database.DSN != "")
			fmt.Fprintf(out, "  redis:    %t\n", cfg.Redis.Address != "")
			fmt.Fprintf(out, "  pubnub:   %t\n", cfg.PubNub.Enabled)
			return nil
		},
	})

	return configCmd
}

func newHashKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key <key>",
		Short: "Print the bcrypt hash of an API key for auth.api_keys[].key_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var (
		subject string
		name    string
		roles   []string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed operator or tool token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSigningKey == "" {
				return errors.New("auth.jwt_signing_key is not configured")
			}
			if strings.TrimSpace(subject) == "" {
				return errors.New("--subject is required")
			}
			for _, r := range roles {
				if r != auth.RoleOperator && r != auth.RoleTool {
					return fmt.Errorf("unknown role %q", r)
				}
			}

			issuer, err := auth.NewJWTAuthenticator(auth.JWTConfig{
				Issuer:     cfg.Auth.JWTIssuer,
				SigningKey: cfg.Auth.JWTSigningKey,
			})
			if err != nil {
				return err
			}
			token, err := issuer.Issue(subject, name, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Token subject")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringSliceVar(&roles, "role", []string{auth.RoleOperator}, "Granted roles (operator, tool)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "karaoke-live version %s\n", server.Version)
		},
	}
}

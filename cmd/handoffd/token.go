package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"handoff/internal/auth"
	"handoff/internal/config"
)

func buildTokenCmd() *cobra.Command {
	var (
		configPath string
		role       string
		name       string
		subject    string
		ttl        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed token for an agent or admin",
		Example: `  handoffd token --role agent --name Sam
  handoffd token --role admin --name ops --ttl 1h`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			r, err := auth.ParseRole(role)
			if err != nil {
				return err
			}
			if subject == "" {
				subject = uuid.NewString()
			}
			if ttl <= 0 {
				ttl = cfg.Auth.JWTExpiry
			}
			token, err := auth.NewJWTService(cfg.Auth.JWTSecret, ttl).Issue(subject, name, r)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "handoff.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVar(&role, "role", "agent", "Role to grant: agent or admin")
	cmd.Flags().StringVar(&name, "name", "", "Display name carried in the token")
	cmd.Flags().StringVar(&subject, "subject", "", "Token subject (random when empty)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to auth.jwt_expiry)")
	return cmd
}

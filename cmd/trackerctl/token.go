package main

import (
	"fmt"
	"time"

	"ssctracker/internal/app"
	"ssctracker/internal/auth"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var (
		userID string
		email  string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with JWT_SECRET for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.LoadConfig()
			svc, err := auth.NewService(auth.ServiceConfig{Secret: cfg.JWTSecret, Audience: cfg.JWTAudience})
			if err != nil {
				return err
			}
			id := uuid.New()
			if userID != "" {
				id, err = uuid.Parse(userID)
				if err != nil {
					return fmt.Errorf("--user must be a uuid: %w", err)
				}
			}
			token, err := svc.Issue(auth.User{ID: id, Email: email, Role: auth.DefaultAudience}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (random when empty)")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

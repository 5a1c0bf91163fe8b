package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/kurodenjiro/cryto-chat/internal/server/middleware"
	"github.com/kurodenjiro/cryto-chat/pkg/config"
	"github.com/kurodenjiro/cryto-chat/pkg/logging"
)

func tokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admission token signed with server.auth.jwtSecret",
		RunE: func(cmd *cobra.Command, args []string) error {
			var dirs []string
			if configDir != "" {
				dirs = append(dirs, configDir)
			}
			cfg, err := config.LoadRelay(logging.Discard(), dirs...)
			if err != nil {
				return err
			}
			if cfg.Server.Auth.JWTSecret == "" {
				return errors.New("server.auth.jwtSecret is not set")
			}

			now := time.Now()
			claims := jwt.RegisteredClaims{IssuedAt: jwt.NewNumericDate(now)}
			if ttl > 0 {
				claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
			}
			tok, err := middleware.IssueToken(cfg.Server.Auth.JWTSecret, subject, claims)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "who the token admits")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime, 0 for no expiry")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

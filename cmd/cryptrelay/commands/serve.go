package commands

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kurodenjiro/cryto-chat/internal/server"
	"github.com/kurodenjiro/cryto-chat/pkg/config"
	"github.com/kurodenjiro/cryto-chat/pkg/logging"
	"github.com/kurodenjiro/cryto-chat/pkg/signing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			bootLogger := logging.New(logging.LevelInfo)
			var dirs []string
			if configDir != "" {
				dirs = append(dirs, configDir)
			}
			cfg, err := config.LoadRelay(bootLogger, dirs...)
			if err != nil {
				bootLogger.Error("Failed to load configuration", slog.Any("error", err))
				return err
			}
			if err := cfg.Validate(); err != nil {
				bootLogger.Error("Invalid configuration", slog.Any("error", err))
				return err
			}

			level, err := logging.ParseLevel(cfg.Log.Level)
			if err != nil {
				return err
			}
			logger := logging.NewWithWriter(os.Stderr, level, cfg.Log.Format)
			slog.SetDefault(logger)

			signer, err := signing.NewSigner(cfg.Signing.PrivateKey)
			if err != nil {
				logger.Error("Failed to load signing key", slog.Any("error", err))
				return err
			}
			logger.Info("Signing key loaded", slog.String("verificationKey", signer.PublicHex()))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := server.NewApp(logger, ctx, cfg, signer)
			if err != nil {
				logger.Error("Failed to build relay", slog.Any("error", err))
				return err
			}
			if err := app.Run(); err != nil {
				logger.Error("Relay run failed", slog.Any("error", err))
				return err
			}
			logger.Info("Relay shut down successfully.")
			return nil
		},
	}
}

// Package commands implements the cryptchat command line.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kurodenjiro/cryto-chat/pkg/config"
	"github.com/kurodenjiro/cryto-chat/pkg/logging"
)

var (
	configDir string
	cfg       *config.ClientConfig
	logger    *slog.Logger
)

func Execute() error {
	root := &cobra.Command{
		Use:          "cryptchat",
		Short:        "End-to-end encrypted group chat client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var dirs []string
			if configDir != "" {
				dirs = append(dirs, configDir)
			}
			var err error
			cfg, err = config.LoadClient(logging.Discard(), dirs...)
			if err != nil {
				return err
			}
			level := logging.LevelWarn
			if cfg.Debug {
				level = logging.LevelDebug
			}
			logger = logging.New(level)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configDir, "config", "", "directory holding cryptchat.yaml (default: working directory)")

	root.AddCommand(chatCmd(), inviteCmd())
	return root.Execute()
}

// Package commands implements the cryptrelay command line.
package commands

import (
	"github.com/spf13/cobra"
)

var configDir string

func Execute() error {
	root := &cobra.Command{
		Use:          "cryptrelay",
		Short:        "Signing relay for end-to-end encrypted group chat",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configDir, "config", "", "directory holding cryptrelay.yaml (default: working directory)")

	root.AddCommand(serveCmd(), keygenCmd(), tokenCmd())
	return root.Execute()
}

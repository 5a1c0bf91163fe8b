package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kurodenjiro/cryto-chat/pkg/signing"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a relay signing key",
		Long: "Prints a fresh signing private key for signing.privateKey and the\n" +
			"matching verification key for clients' relay.verificationKey.",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, pub, err := signing.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "privateKey:      %s\n", seed)
			fmt.Fprintf(cmd.OutOrStdout(), "verificationKey: %s\n", pub)
			return nil
		},
	}
}

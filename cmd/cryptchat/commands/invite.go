package commands

import (
	"errors"
	"fmt"

	qrterminal "github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	"github.com/kurodenjiro/cryto-chat/internal/client"
)

func inviteCmd() *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "invite",
		Short: "Print an invite link and QR code for a group",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Relay.VerificationKey == "" {
				return errors.New("relay.verificationKey is not set")
			}
			link, err := client.Invite{
				RelayURL:        cfg.Relay.URL,
				Group:           group,
				VerificationKey: cfg.Relay.VerificationKey,
			}.String()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, link)
			qrterminal.GenerateWithConfig(link, qrterminal.Config{
				Level:     qrterminal.M,
				Writer:    out,
				BlackChar: qrterminal.BLACK,
				WhiteChar: qrterminal.WHITE,
				QuietZone: 1,
			})
			fmt.Fprintln(out, "Share the group password separately.")
			return nil
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "group name")
	_ = cmd.MarkFlagRequired("group")
	return cmd
}

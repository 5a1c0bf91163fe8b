package engine

import (
	"fmt"
	"log/slog"

	"github.com/kurodenjiro/cryto-chat/pkg/keys"
	"github.com/kurodenjiro/cryto-chat/pkg/pipeline"
	"github.com/kurodenjiro/cryto-chat/pkg/protocol"
	"github.com/kurodenjiro/cryto-chat/pkg/stream"
)

// actionExchangeKey completes the transport handshake. The relay always
// sends on the low counter.
func actionExchangeKey(pctx *pipeline.Cargo, _ ...string) error {
	publicHex, err := pctx.Message.NonEmptyString()
	if err != nil {
		return err
	}
	key, err := keys.TransportKey(pctx.Session.Keypair(), publicHex)
	if err != nil {
		return err
	}
	defer keys.Wipe(key)

	link, err := stream.NewPair(key, stream.Low)
	if err != nil {
		return err
	}
	if err := pctx.Session.CompleteKeyExchange(link); err != nil {
		return err
	}
	pctx.Logger.Debug("Transport link keyed")

	msg, err := protocol.NewMessage(protocol.ActionConnectionID, pctx.Session.ID)
	if err != nil {
		return err
	}
	return pctx.Outbox.Deliver(pctx.Session, msg)
}

func actionParticipateGroup(pctx *pipeline.Cargo, _ ...string) error {
	group, err := pctx.Message.NonEmptyString()
	if err != nil {
		return err
	}
	if err := pctx.StateManager.Join(pctx.Session.ID, group); err != nil {
		return fmt.Errorf("failed to join group '%s': %w", group, err)
	}
	pctx.Logger.Info("Session joined group", slog.String("group", group))
	return BroadcastMembers(pctx.Logger, pctx.StateManager, pctx.Outbox, group)
}

// actionMessageGroup fans a map of per-member ciphertexts out as individual
// member messages. Unroutable targets are skipped.
func actionMessageGroup(pctx *pipeline.Cargo, _ ...string) error {
	targets, err := pctx.Message.Targets()
	if err != nil {
		return err
	}
	group, _ := pctx.Session.Group()

	delivered := 0
	for _, target := range targets {
		if err := forward(pctx, group, target.Member, target.Message); err != nil {
			pctx.Logger.Debug("Skipping group target", slog.String("target", target.Member), slog.Any("error", err))
			continue
		}
		delivered++
	}
	pctx.Logger.Debug("Fanned out group message", slog.Int("targets", len(targets)), slog.Int("delivered", delivered))
	return nil
}

func actionMessageGroupMember(pctx *pipeline.Cargo, _ ...string) error {
	mm, err := pctx.Message.MemberMessage()
	if err != nil {
		return err
	}
	group, _ := pctx.Session.Group()
	return forward(pctx, group, mm.Member, mm.Message)
}

package engine

import (
	"fmt"
	"log/slog"

	"github.com/kurodenjiro/cryto-chat/pkg/pipeline"
	"github.com/kurodenjiro/cryto-chat/pkg/protocol"
	"github.com/kurodenjiro/cryto-chat/pkg/state"
)

// BroadcastMembers sends every member of group the ids of the other members
// in join order. A failed delivery does not stop the others.
func BroadcastMembers(logger *slog.Logger, manager state.Manager, outbox pipeline.Outbox, group string) error {
	members, err := manager.GroupMembers(group)
	if err != nil {
		return err
	}

	ids := make([]string, len(members))
	for i, s := range members {
		ids[i] = s.ID
	}

	for _, recipient := range members {
		others := make([]string, 0, len(ids)-1)
		for _, id := range ids {
			if id != recipient.ID {
				others = append(others, id)
			}
		}
		msg, err := protocol.NewMessage(protocol.ActionListGroup, others)
		if err != nil {
			return err
		}
		if err := outbox.Deliver(recipient, msg); err != nil {
			logger.Warn("Failed to deliver member list", slog.String("connID", recipient.ID), slog.Any("error", err))
		}
	}
	logger.Debug("Broadcast member list", slog.String("group", group), slog.Int("members", len(members)))
	return nil
}

// routableTarget resolves a recipient that exists, is keyed and shares group.
func routableTarget(manager state.Manager, group, id string) (*state.Session, error) {
	target, ok := manager.GetSession(id)
	if !ok {
		return nil, fmt.Errorf("target %s: %w", id, state.ErrUnknownSession)
	}
	if !target.Phase().Keyed() {
		return nil, fmt.Errorf("target %s: %w", id, ErrNotKeyed)
	}
	if targetGroup, joined := target.Group(); !joined || targetGroup != group {
		return nil, fmt.Errorf("target %s: %w", id, ErrNotJoined)
	}
	return target, nil
}

// forward relays an opaque peer blob to one member, stamped with the
// sender's id.
func forward(pctx *pipeline.Cargo, group, targetID, blob string) error {
	target, err := routableTarget(pctx.StateManager, group, targetID)
	if err != nil {
		return err
	}
	msg, err := protocol.NewMessage(protocol.ActionMessageGroupMember, protocol.MemberMessage{
		Member:  pctx.Session.ID,
		Message: blob,
	})
	if err != nil {
		return err
	}
	return pctx.Outbox.Deliver(target, msg)
}

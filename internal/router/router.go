package router

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kurodenjiro/cryto-chat/internal/engine"
	"github.com/kurodenjiro/cryto-chat/internal/instrument"
	"github.com/kurodenjiro/cryto-chat/pkg/keys"
	"github.com/kurodenjiro/cryto-chat/pkg/pipeline"
	"github.com/kurodenjiro/cryto-chat/pkg/protocol"
	"github.com/kurodenjiro/cryto-chat/pkg/signing"
	"github.com/kurodenjiro/cryto-chat/pkg/state"
	"github.com/kurodenjiro/cryto-chat/pkg/stream"
)

// EventRouter turns socket events into session state changes. It is not safe
// for concurrent use: the relay calls it from a single event loop.
type EventRouter struct {
	logger       *slog.Logger
	stateManager state.Manager
	signer       *signing.Signer
	pipelines    map[string]pipeline.Pipeline
	metrics      *instrument.Metrics
}

func NewEventRouter(logger *slog.Logger, stateManager state.Manager, signer *signing.Signer, pipelines map[string]pipeline.Pipeline, metrics *instrument.Metrics) *EventRouter {
	return &EventRouter{
		logger:       logger.With(slog.String("component", "event_router")),
		stateManager: stateManager,
		signer:       signer,
		pipelines:    pipelines,
		metrics:      metrics,
	}
}

var _ pipeline.Outbox = (*EventRouter)(nil)

// HandleAccept opens a session and sends the relay's signed public key.
func (r *EventRouter) HandleAccept(ctx context.Context, connID, ip string, tr state.Sender) error {
	kp, err := keys.Generate(keys.Transport)
	if err != nil {
		return err
	}
	s := state.NewSession(connID, ip, tr, kp)
	if err := r.stateManager.RegisterSession(s); err != nil {
		kp.Destroy()
		return err
	}
	r.logConnectionChange("Client connected", connID)

	msg, err := protocol.NewMessage(protocol.ActionECDHPublicKey, kp.PublicHex())
	if err != nil {
		return err
	}
	return r.Deliver(s, msg)
}

// HandleMessage processes one inbound text frame.
func (r *EventRouter) HandleMessage(ctx context.Context, connID string, frame string) {
	s, ok := r.stateManager.GetSession(connID)
	if !ok {
		r.logger.Debug("Frame for unknown session", slog.String("connID", connID))
		return
	}

	if frame == protocol.PingSentinel {
		if err := s.Transport.Send(protocol.PongSentinel); err != nil {
			r.logger.Warn("Failed to answer ping", slog.String("connID", connID), slog.Any("error", err))
		}
		return
	}

	var recv *stream.Stream
	if link := s.Link(); link != nil {
		recv = link.Recv
	}
	msg, err := protocol.OpenMessage(frame, recv)
	if err != nil {
		r.drop(connID, instrument.ReasonMalformed, err)
		return
	}
	r.metrics.Frame(msg.Action)

	p, ok := r.pipelines[msg.Action]
	if !ok {
		r.drop(connID, instrument.ReasonUnknownAction, errors.New(msg.Action))
		return
	}

	connLogger := r.logger.With(slog.String("connID", connID), slog.String("action", msg.Action))
	cargo := &pipeline.Cargo{
		Logger:       connLogger,
		Ctx:          ctx,
		Session:      s,
		StateManager: r.stateManager,
		Outbox:       r,
		Message:      msg,
	}
	connLogger.Debug("Executing action pipeline")
	if err := p.Run(cargo); err != nil {
		r.drop(connID, instrument.ReasonRejected, err)
	}
	r.observe()
}

// HandleClose discards the session and updates the group it left.
func (r *EventRouter) HandleClose(connID string, cause error) {
	group, wasJoined, err := r.stateManager.DeregisterSession(connID)
	if err != nil {
		r.logger.Debug("Close for unknown session", slog.String("connID", connID), slog.Any("error", err))
		return
	}
	if wasJoined {
		if members, err := r.stateManager.GroupMembers(group); err == nil && len(members) > 0 {
			if err := engine.BroadcastMembers(r.logger, r.stateManager, r, group); err != nil {
				r.logger.Warn("Failed to rebroadcast members", slog.String("group", group), slog.Any("error", err))
			}
		}
	}
	r.logConnectionChange("Client disconnected", connID, slog.Any("reason", cause))
}

// Deliver signs m and sends it over the session's link, encrypting once the
// link is keyed.
func (r *EventRouter) Deliver(s *state.Session, m protocol.Message) error {
	var send *stream.Stream
	if link := s.Link(); link != nil {
		send = link.Send
	}
	frame, err := protocol.SealEnvelope(m, r.signer, send)
	if err != nil {
		return err
	}
	if err := s.Transport.Send(frame); err != nil {
		r.metrics.Dropped(instrument.ReasonSendFailed)
		return err
	}
	if m.Action == protocol.ActionMessageGroupMember {
		r.metrics.Forwarded()
	}
	return nil
}

func (r *EventRouter) drop(connID, reason string, err error) {
	r.metrics.Dropped(reason)
	r.logger.Debug("Dropped message", slog.String("connID", connID), slog.String("reason", reason), slog.Any("error", err))
}

func (r *EventRouter) observe() {
	r.metrics.SetPopulation(r.stateManager.SessionCount(), r.stateManager.GroupCount())
}

func (r *EventRouter) logConnectionChange(msg, connID string, attrs ...any) {
	r.observe()
	attrs = append(attrs,
		slog.String("connID", connID),
		slog.Int("sessions", r.stateManager.SessionCount()),
		slog.Int("groups", r.stateManager.GroupCount()),
	)
	r.logger.Info(msg, attrs...)
}

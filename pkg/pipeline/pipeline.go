package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kurodenjiro/cryto-chat/pkg/protocol"
	"github.com/kurodenjiro/cryto-chat/pkg/state"
)

/*
 * The purpose of this is to detach the implementation of actions and modifiers
 * from the actual router
 */

// Outbox delivers signed control messages to sessions.
type Outbox interface {
	Deliver(s *state.Session, m protocol.Message) error
}

type Cargo struct {
	Logger       *slog.Logger
	Ctx          context.Context
	Session      *state.Session
	StateManager state.Manager
	Outbox       Outbox
	Message      protocol.Message
}

// simple, testable functions that receive a Cargo and resolved string parameters
type ActionFunc func(pctx *Cargo, params ...string) error

// ModifierFunc gates an action. A non-nil error halts the pipeline.
type ModifierFunc func(pctx *Cargo, params ...string) error

// represents one step in an execution pipeline
type Step struct {
	Name     string
	Function ActionFunc
	Params   []string
}

// Pipeline is the ordered steps run for one inbound action.
type Pipeline []Step

// Run executes the steps in order and stops at the first failure.
func (p Pipeline) Run(pctx *Cargo) error {
	for _, step := range p {
		if err := step.Function(pctx, step.Params...); err != nil {
			return fmt.Errorf("%s: %w", step.Name, err)
		}
	}
	return nil
}

package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/kurodenjiro/cryto-chat/pkg/pipeline"
	"github.com/kurodenjiro/cryto-chat/pkg/state"
)

var (
	ErrNotAwaitingKey = errors.New("session already keyed")
	ErrNotKeyed       = errors.New("session not keyed")
	ErrAlreadyJoined  = errors.New("session already joined a group")
	ErrNotJoined      = errors.New("session has not joined a group")
	ErrRateLimited    = errors.New("rate limit exceeded")
)

func noParams(name string) func([]string) error {
	return func(params []string) error {
		if len(params) != 0 {
			return fmt.Errorf("'%s' modifier does not accept any parameters", name)
		}
		return nil
	}
}

// --- State guards ---

func modifierUnkeyed(pctx *pipeline.Cargo, _ ...string) error {
	if pctx.Session.Phase() != state.AwaitingKey {
		return ErrNotAwaitingKey
	}
	return nil
}

func modifierKeyed(pctx *pipeline.Cargo, _ ...string) error {
	if !pctx.Session.Phase().Keyed() {
		return ErrNotKeyed
	}
	return nil
}

func modifierUnjoined(pctx *pipeline.Cargo, _ ...string) error {
	if pctx.Session.Phase() != state.KeyedUnjoined {
		return ErrAlreadyJoined
	}
	return nil
}

func modifierJoined(pctx *pipeline.Cargo, _ ...string) error {
	if pctx.Session.Phase() != state.KeyedJoined {
		return ErrNotJoined
	}
	return nil
}

// --- Rate limit ---

type rateLimitState struct {
	Requests int
}

func parseRate(param string) (int, time.Duration, error) {
	parts := strings.Split(param, "/")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid rate_limit format: %s", param)
	}

	limit, err := strconv.Atoi(parts[0])
	if err != nil || limit <= 0 {
		return 0, 0, fmt.Errorf("invalid rate_limit count: %s", parts[0])
	}

	var duration time.Duration
	switch strings.ToLower(parts[1]) {
	case "s":
		duration = time.Second
	case "m":
		duration = time.Minute
	case "h":
		duration = time.Hour
	default:
		return 0, 0, fmt.Errorf("invalid rate_limit duration unit: %s", parts[1])
	}
	return limit, duration, nil
}

func validateRateLimit(params []string) error {
	if len(params) != 1 {
		return errors.New("'rate_limit' modifier requires exactly one parameter (e.g., '10/m')")
	}
	_, _, err := parseRate(params[0])
	return err
}

// newRateLimitModifier allows N requests per window for each connection and
// action. The window starts at the first request.
func newRateLimitModifier(logger *slog.Logger) pipeline.ModifierFunc {
	return func(pctx *pipeline.Cargo, params ...string) error {
		if err := validateRateLimit(params); err != nil {
			return err
		}
		limit, duration, _ := parseRate(params[0])

		const modifierName = "rate_limit"
		connID := pctx.Session.ID
		action := pctx.Message.Action
		manager := pctx.StateManager

		existing, found := manager.GetModifierState(modifierName, connID, action)
		if !found {
			st := &state.ModifierState{Value: &rateLimitState{Requests: 1}}
			st.Timer = time.AfterFunc(duration, func() {
				logger.Debug("Auto-cleaning expired rate_limit state", slog.String("connID", connID), slog.String("action", action))
				manager.DeleteModifierState(modifierName, connID, action)
			})
			manager.SetModifierState(modifierName, connID, action, st)
			return nil
		}

		current := existing.Value.(*rateLimitState)
		if current.Requests < limit {
			current.Requests++
			return nil
		}
		return fmt.Errorf("%w for action '%s'", ErrRateLimited, action)
	}
}

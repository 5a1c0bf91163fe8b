package engine

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kurodenjiro/cryto-chat/pkg/config"
	"github.com/kurodenjiro/cryto-chat/pkg/pipeline"
	"github.com/kurodenjiro/cryto-chat/pkg/protocol"
)

/*
* The central registry for the relay's actions and modifiers. Every inbound
* action runs as a pipeline: the state guards it requires, any configured
* modifiers, then the action itself.
 */
type Registry struct {
	logger   *slog.Logger
	actions  map[string]pipeline.ActionFunc
	actionMu sync.RWMutex

	modifiers  map[string]modifierEntry
	modifierMu sync.RWMutex
}

type modifierEntry struct {
	fn       pipeline.ModifierFunc
	validate func(params []string) error
}

// guards lists the state modifiers each core action requires.
var guards = map[string][]string{
	protocol.ActionECDHPublicKey:      {"unkeyed"},
	protocol.ActionParticipateGroup:   {"keyed", "unjoined"},
	protocol.ActionMessageGroup:       {"keyed", "joined"},
	protocol.ActionMessageGroupMember: {"keyed", "joined"},
}

// New creates and initializes a new Registry instance.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		actions:   make(map[string]pipeline.ActionFunc),
		modifiers: make(map[string]modifierEntry),
		logger:    logger.With(slog.String("component", "engine")),
	}
}

func (e *Registry) RegisterCore() {
	e.registerCoreModifiers()
	e.registerCoreActions()
}

func (e *Registry) registerCoreActions() {
	e.RegisterAction(protocol.ActionECDHPublicKey, actionExchangeKey)
	e.RegisterAction(protocol.ActionParticipateGroup, actionParticipateGroup)
	e.RegisterAction(protocol.ActionMessageGroup, actionMessageGroup)
	e.RegisterAction(protocol.ActionMessageGroupMember, actionMessageGroupMember)
	e.logger.Debug("Registered core actions", slog.Int("count", len(e.actions)))
}

func (e *Registry) registerCoreModifiers() {
	e.RegisterModifier("unkeyed", modifierUnkeyed, noParams("unkeyed"))
	e.RegisterModifier("keyed", modifierKeyed, noParams("keyed"))
	e.RegisterModifier("unjoined", modifierUnjoined, noParams("unjoined"))
	e.RegisterModifier("joined", modifierJoined, noParams("joined"))
	e.RegisterModifier("rate_limit", newRateLimitModifier(e.logger), validateRateLimit)
	e.logger.Debug("Registered core modifiers", slog.Int("count", len(e.modifiers)))
}

// --- Action Methods ---

func (e *Registry) RegisterAction(name string, fn pipeline.ActionFunc) {
	e.actionMu.Lock()
	defer e.actionMu.Unlock()
	if _, exists := e.actions[name]; exists {
		panic("action function already registered: " + name)
	}
	e.actions[name] = fn
}

func (e *Registry) GetActionFunc(name string) (pipeline.ActionFunc, bool) {
	e.actionMu.RLock()
	defer e.actionMu.RUnlock()
	fn, ok := e.actions[name]
	return fn, ok
}

// ResolveAction finds a registered action ignoring case.
func (e *Registry) ResolveAction(key string) (string, bool) {
	e.actionMu.RLock()
	defer e.actionMu.RUnlock()
	for name := range e.actions {
		if strings.EqualFold(name, key) {
			return name, true
		}
	}
	return "", false
}

// --- Modifier Methods ---

func (e *Registry) RegisterModifier(name string, fn pipeline.ModifierFunc, validate func(params []string) error) {
	e.modifierMu.Lock()
	defer e.modifierMu.Unlock()
	if _, exists := e.modifiers[name]; exists {
		panic("modifier function already registered: " + name)
	}
	e.modifiers[name] = modifierEntry{fn: fn, validate: validate}
}

// Modifier looks a modifier up and checks params against it.
func (e *Registry) Modifier(name string, params []string) (pipeline.ModifierFunc, error) {
	e.modifierMu.RLock()
	entry, ok := e.modifiers[name]
	e.modifierMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown modifier '%s'", name)
	}
	if entry.validate != nil {
		if err := entry.validate(params); err != nil {
			return nil, err
		}
	}
	return entry.fn, nil
}

// --- Pipelines ---

// BuildPipelines assembles one pipeline per registered action from the
// built-in guards and the configured modifiers.
func (e *Registry) BuildPipelines(events map[string]config.EventConfig) (map[string]pipeline.Pipeline, error) {
	extra, err := config.CompileModifiers(events, e.ResolveAction, e.Modifier)
	if err != nil {
		return nil, err
	}

	e.actionMu.RLock()
	defer e.actionMu.RUnlock()

	pipelines := make(map[string]pipeline.Pipeline, len(e.actions))
	for action, fn := range e.actions {
		var p pipeline.Pipeline
		for _, name := range guards[action] {
			guard, err := e.Modifier(name, nil)
			if err != nil {
				return nil, fmt.Errorf("guard for '%s': %w", action, err)
			}
			p = append(p, pipeline.Step{Name: name, Function: pipeline.ActionFunc(guard)})
		}
		p = append(p, extra[action]...)
		p = append(p, pipeline.Step{Name: action, Function: fn})
		pipelines[action] = p
		e.logger.Debug("Compiled pipeline", slog.String("action", action), slog.Int("steps", len(p)))
	}
	return pipelines, nil
}

package config

import (
	"fmt"

	"github.com/kurodenjiro/cryto-chat/pkg/pipeline"
)

// ModifierProvider resolves a modifier by name and validates its parameters.
type ModifierProvider func(name string, params []string) (pipeline.ModifierFunc, error)

// ActionResolver maps a configured action key to the relay's action name.
// Viper lowercases map keys, so resolution is case-insensitive.
type ActionResolver func(key string) (action string, ok bool)

// CompileModifiers turns the configured modifiers of every action into
// pipeline steps keyed by action name.
func CompileModifiers(events map[string]EventConfig, resolve ActionResolver, provider ModifierProvider) (map[string][]pipeline.Step, error) {
	compiled := make(map[string][]pipeline.Step, len(events))
	for key, eventCfg := range events {
		action, ok := resolve(key)
		if !ok {
			return nil, fmt.Errorf("unknown action '%s' in events", key)
		}
		steps := make([]pipeline.Step, 0, len(eventCfg.Modifiers))
		for _, modCfg := range eventCfg.Modifiers {
			fn, err := provider(modCfg.Name, modCfg.Params)
			if err != nil {
				return nil, fmt.Errorf("modifier '%s' on action '%s': %w", modCfg.Name, action, err)
			}
			steps = append(steps, pipeline.Step{
				Name:     modCfg.Name,
				Function: pipeline.ActionFunc(fn),
				Params:   modCfg.Params,
			})
		}
		compiled[action] = steps
	}
	return compiled, nil
}

// Copyright (c) 2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package statemachine

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"
)

// Builder is the state machine builder
type Builder[C any] struct {
	name               string
	start              State
	definitions        []Definition[C]
	init               func(ctx context.Context, c C) error
	validate           func(c C) error
	preResolve         func(ctx context.Context, c C) error
	transitionCallback Callback
	scope              tally.Scope
}

// NewBuilder creates new state machine builder
func NewBuilder[C any]() *Builder[C] {
	return &Builder[C]{}
}

// WithName adds the name to state machine
func (b *Builder[C]) WithName(name string) *Builder[C] {
	b.name = name
	return b
}

// WithStartState sets the state every run starts from.
func (b *Builder[C]) WithStartState(start State) *Builder[C] {
	b.start = start
	return b
}

// AddState adds a state definition.
func (b *Builder[C]) AddState(def Definition[C]) *Builder[C] {
	b.definitions = append(b.definitions, def)
	return b
}

// WithInit adds the one-time setup run before the start state.
func (b *Builder[C]) WithInit(init func(ctx context.Context, c C) error) *Builder[C] {
	b.init = init
	return b
}

// WithValidate adds the context validation run before init.
func (b *Builder[C]) WithValidate(validate func(c C) error) *Builder[C] {
	b.validate = validate
	return b
}

// WithPreResolve adds a hook refreshing the context before the next
// state is resolved.
func (b *Builder[C]) WithPreResolve(hook func(ctx context.Context, c C) error) *Builder[C] {
	b.preResolve = hook
	return b
}

// WithTransitionCallback adds the transition call back
func (b *Builder[C]) WithTransitionCallback(callback Callback) *Builder[C] {
	b.transitionCallback = callback
	return b
}

// WithMetricScope counts transitions per destination state.
func (b *Builder[C]) WithMetricScope(scope tally.Scope) *Builder[C] {
	b.scope = scope
	return b
}

// Build validates the definitions and builds the state machine. Every
// state must be reachable from the start state and every declared
// transition must name a defined state.
func (b *Builder[C]) Build() (*Machine[C], error) {
	m := &Machine[C]{
		name:               b.name,
		start:              b.start,
		states:             make(map[State]*Definition[C], len(b.definitions)),
		init:               b.init,
		validate:           b.validate,
		preResolve:         b.preResolve,
		transitionCallback: b.transitionCallback,
	}
	if b.scope != nil {
		m.transitions = b.scope.SubScope("statemachine")
	}

	var result *multierror.Error
	for i := range b.definitions {
		def := b.definitions[i]
		if err := validateDefinition(def); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if _, ok := m.states[def.Name]; ok {
			result = multierror.Append(result,
				errors.Errorf("state %s defined more than once", def.Name))
			continue
		}
		m.states[def.Name] = &def
		m.order = append(m.order, def.Name)
	}
	if _, ok := m.states[b.start]; !ok {
		result = multierror.Append(result,
			errors.Errorf("start state %q is not defined", b.start))
	}
	for _, s := range m.order {
		for _, to := range m.states[s].Transitions {
			if _, ok := m.states[to]; !ok {
				result = multierror.Append(result,
					errors.Errorf("state %s transitions to undefined state %s", s, to))
			}
		}
	}
	if result.ErrorOrNil() == nil {
		for _, s := range unreachable(m) {
			result = multierror.Append(result,
				errors.Errorf("state %s is not reachable from %s", s, m.start))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		log.WithError(err).WithField("name", b.name).Error("invalid state machine")
		return nil, errors.WithStack(err)
	}
	return m, nil
}

// validateDefinition validates the transitions
func validateDefinition[C any](def Definition[C]) error {
	if def.Name == "" {
		return errors.New("state without name")
	}
	if def.IsInState == nil || def.Act == nil {
		return errors.Errorf("state %s must define IsInState and Act", def.Name)
	}
	seen := make(map[State]bool)
	for _, s := range def.Transitions {
		if seen[s] {
			return errors.Errorf("state %s has duplicate transition to %s", def.Name, s)
		}
		seen[s] = true
	}
	return nil
}

func unreachable[C any](m *Machine[C]) []State {
	reached := map[State]bool{m.start: true}
	queue := []State{m.start}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		for _, to := range m.states[s].Transitions {
			if !reached[to] {
				reached[to] = true
				queue = append(queue, to)
			}
		}
	}
	var missing []State
	for _, s := range m.order {
		if !reached[s] {
			missing = append(missing, s)
		}
	}
	return missing
}

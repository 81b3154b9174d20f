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
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"
)

// State defines the state
type State string

// Definition describes one state of a closed set of states. Definitions
// carry no data: everything they read or change lives in the context C.
type Definition[C any] struct {
	// Name of the state.
	Name State
	// IsInState returns true when the context is in this state.
	IsInState func(c C) bool
	// Act does the work of the state. It returns false when nothing more
	// can happen, which ends the run.
	Act func(ctx context.Context, c C) (bool, error)
	// Transitions lists the states which may follow this one.
	Transitions []State
}

// Transition defines the transition passed to the transition callback.
type Transition struct {
	// Name of the state machine.
	Name string
	From State
	To   State
}

// Callback is the type for the transition callback function.
type Callback func(*Transition) error

// Machine runs a closed set of state definitions. After each action the
// next state is the single definition whose IsInState holds. The start
// state only applies initially and is never resolved to.
type Machine[C any] struct {
	name               string
	start              State
	states             map[State]*Definition[C]
	order              []State
	init               func(ctx context.Context, c C) error
	validate           func(c C) error
	preResolve         func(ctx context.Context, c C) error
	transitionCallback Callback
	transitions        tally.Scope
}

// Name returns the name of the state machine.
func (m *Machine[C]) Name() string {
	return m.name
}

// Run drives the context from the start state until an action reports
// that nothing more can happen. It returns the last state. An invariant
// violation aborts the run with ErrNoState, ErrAmbiguousState or
// ErrIllegalTransition as the cause.
func (m *Machine[C]) Run(ctx context.Context, c C) (State, error) {
	if m.validate != nil {
		if err := m.validate(c); err != nil {
			return "", errors.Wrapf(err, "invalid context for %s", m.name)
		}
	}
	if m.init != nil {
		if err := m.init(ctx, c); err != nil {
			return "", errors.Wrapf(err, "failed to initialize %s", m.name)
		}
	}

	current := m.start
	for {
		if err := ctx.Err(); err != nil {
			return current, err
		}

		changed, err := m.states[current].Act(ctx, c)
		if err != nil {
			return current, errors.Wrapf(err, "%s failed in state %s", m.name, current)
		}
		if !changed {
			return current, nil
		}

		if m.preResolve != nil {
			if err := m.preResolve(ctx, c); err != nil {
				return current, errors.Wrapf(err, "%s failed to refresh after %s", m.name, current)
			}
		}

		next, err := m.resolve(current, c)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"name":  m.name,
				"state": current,
			}).Error("state resolution failed")
			return current, err
		}

		t := &Transition{Name: m.name, From: current, To: next}
		if m.transitionCallback != nil {
			if err := m.transitionCallback(t); err != nil {
				log.WithError(err).WithFields(log.Fields{
					"name":     m.name,
					"from":     current,
					"to_state": next,
				}).Error("transition callback failed")
				return current, err
			}
		}
		if m.transitions != nil {
			m.transitions.Tagged(map[string]string{"state": string(next)}).
				Counter("transitions").Inc(1)
		}
		log.WithFields(log.Fields{
			"name": m.name,
			"from": current,
			"to":   next,
		}).Debug("state transition")
		current = next
	}
}

// resolve finds the single state which applies and checks it is a legal
// transition from current.
func (m *Machine[C]) resolve(current State, c C) (State, error) {
	var matches []State
	for _, s := range m.order {
		if s == m.start {
			continue
		}
		if m.states[s].IsInState(c) {
			matches = append(matches, s)
		}
	}

	switch len(matches) {
	case 0:
		return "", errors.Wrapf(ErrNoState, "%s after %s", m.name, current)
	case 1:
	default:
		return "", errors.Wrapf(ErrAmbiguousState, "%s after %s: %s",
			m.name, current, joinStates(matches))
	}

	next := matches[0]
	if !m.isValidTransition(current, next) {
		return "", errors.Wrapf(ErrIllegalTransition, "%s [from %s to %s]",
			m.name, current, next)
	}
	return next, nil
}

// isValidTransition checks if the transition is allowed
// from source state to destination state
func (m *Machine[C]) isValidTransition(from, to State) bool {
	for _, dest := range m.states[from].Transitions {
		if dest == to {
			return true
		}
	}
	return false
}

func joinStates(states []State) string {
	names := make([]string, 0, len(states))
	for _, s := range states {
		names = append(names, string(s))
	}
	return strings.Join(names, ",")
}

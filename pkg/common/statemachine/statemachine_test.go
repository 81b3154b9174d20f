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
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"
	"github.com/uber-go/tally"
)

const (
	_start    State = "start"
	_counting State = "counting"
	_done     State = "done"
)

// counter counts up to limit, one step per action.
type counter struct {
	value       int
	limit       int
	initialized bool
}

type StateMachineTestSuite struct {
	suite.Suite

	scope tally.TestScope
}

func TestStateMachineTestSuite(t *testing.T) {
	suite.Run(t, new(StateMachineTestSuite))
}

func (suite *StateMachineTestSuite) SetupTest() {
	suite.scope = tally.NewTestScope("", nil)
}

func startState() Definition[*counter] {
	return Definition[*counter]{
		Name:        _start,
		IsInState:   func(c *counter) bool { return true },
		Act:         func(ctx context.Context, c *counter) (bool, error) { return true, nil },
		Transitions: []State{_counting, _done},
	}
}

func countingState() Definition[*counter] {
	return Definition[*counter]{
		Name:      _counting,
		IsInState: func(c *counter) bool { return c.value < c.limit },
		Act: func(ctx context.Context, c *counter) (bool, error) {
			c.value++
			return true, nil
		},
		Transitions: []State{_counting, _done},
	}
}

func doneState() Definition[*counter] {
	return Definition[*counter]{
		Name:        _done,
		IsInState:   func(c *counter) bool { return c.value >= c.limit },
		Act:         func(ctx context.Context, c *counter) (bool, error) { return false, nil },
		Transitions: []State{_done},
	}
}

func (suite *StateMachineTestSuite) build(defs ...Definition[*counter]) *Machine[*counter] {
	b := NewBuilder[*counter]().
		WithName("counter").
		WithStartState(_start).
		WithMetricScope(suite.scope).
		WithInit(func(ctx context.Context, c *counter) error {
			c.initialized = true
			return nil
		}).
		WithTransitionCallback(func(t *Transition) error { return nil })
	for _, d := range defs {
		b.AddState(d)
	}
	m, err := b.Build()
	suite.Require().NoError(err)
	return m
}

func (suite *StateMachineTestSuite) TestRun() {
	m := suite.build(startState(), countingState(), doneState())
	c := &counter{limit: 3}

	state, err := m.Run(context.Background(), c)
	suite.NoError(err)
	suite.Equal(_done, state)
	suite.Equal(3, c.value)
	suite.True(c.initialized)
	suite.Equal("counter", m.Name())

	counters := suite.scope.Snapshot().Counters()
	suite.Equal(int64(3), counters["statemachine.transitions+state=counting"].Value())
	suite.Equal(int64(1), counters["statemachine.transitions+state=done"].Value())
}

func (suite *StateMachineTestSuite) TestRunStraightToDone() {
	m := suite.build(startState(), countingState(), doneState())
	c := &counter{}

	state, err := m.Run(context.Background(), c)
	suite.NoError(err)
	suite.Equal(_done, state)
	suite.Zero(c.value)
}

func (suite *StateMachineTestSuite) TestTransitionCallback() {
	var transitions []Transition
	m, err := NewBuilder[*counter]().
		WithName("counter").
		WithStartState(_start).
		AddState(startState()).
		AddState(countingState()).
		AddState(doneState()).
		WithTransitionCallback(func(t *Transition) error {
			transitions = append(transitions, *t)
			return nil
		}).
		Build()
	suite.NoError(err)

	_, err = m.Run(context.Background(), &counter{limit: 1})
	suite.NoError(err)
	suite.Equal([]Transition{
		{Name: "counter", From: _start, To: _counting},
		{Name: "counter", From: _counting, To: _done},
	}, transitions)
}

func (suite *StateMachineTestSuite) TestTransitionCallbackError() {
	m, err := NewBuilder[*counter]().
		WithStartState(_start).
		AddState(startState()).
		AddState(countingState()).
		AddState(doneState()).
		WithTransitionCallback(func(t *Transition) error {
			return errors.New("callback failed")
		}).
		Build()
	suite.NoError(err)

	state, err := m.Run(context.Background(), &counter{limit: 1})
	suite.EqualError(err, "callback failed")
	suite.Equal(_start, state)
}

func (suite *StateMachineTestSuite) TestAmbiguousState() {
	overlapping := doneState()
	overlapping.IsInState = func(c *counter) bool { return true }
	m := suite.build(startState(), countingState(), overlapping)

	_, err := m.Run(context.Background(), &counter{limit: 3})
	suite.Error(err)
	suite.Equal(ErrAmbiguousState, errors.Cause(err))
	suite.True(IsInvariantViolation(err))
}

func (suite *StateMachineTestSuite) TestNoState() {
	never := doneState()
	never.IsInState = func(c *counter) bool { return false }
	m := suite.build(startState(), countingState(), never)

	state, err := m.Run(context.Background(), &counter{limit: 1})
	suite.Equal(ErrNoState, errors.Cause(err))
	suite.Equal(_counting, state)
}

func (suite *StateMachineTestSuite) TestIllegalTransition() {
	stuck := countingState()
	stuck.Transitions = []State{_counting}
	m := suite.build(startState(), stuck, doneState())

	state, err := m.Run(context.Background(), &counter{limit: 2})
	suite.Equal(ErrIllegalTransition, errors.Cause(err))
	suite.Equal(_counting, state)
	suite.Contains(err.Error(), "[from counting to done]")
}

func (suite *StateMachineTestSuite) TestActError() {
	failing := countingState()
	failing.Act = func(ctx context.Context, c *counter) (bool, error) {
		return false, errors.New("boom")
	}
	m := suite.build(startState(), failing, doneState())

	state, err := m.Run(context.Background(), &counter{limit: 2})
	suite.Error(err)
	suite.Equal(_counting, state)
	suite.False(IsInvariantViolation(err))
	suite.Equal("boom", errors.Cause(err).Error())
}

func (suite *StateMachineTestSuite) TestContextCancelled() {
	ctx, cancel := context.WithCancel(context.Background())
	endless := countingState()
	endless.IsInState = func(c *counter) bool { return true }
	endless.Act = func(ctx context.Context, c *counter) (bool, error) {
		c.value++
		if c.value == 5 {
			cancel()
		}
		return true, nil
	}
	never := doneState()
	never.IsInState = func(c *counter) bool { return false }
	m := suite.build(startState(), endless, never)

	_, err := m.Run(ctx, &counter{})
	suite.Equal(context.Canceled, err)
}

func (suite *StateMachineTestSuite) TestPreResolve() {
	refreshes := 0
	m, err := NewBuilder[*counter]().
		WithStartState(_start).
		AddState(startState()).
		AddState(countingState()).
		AddState(doneState()).
		WithPreResolve(func(ctx context.Context, c *counter) error {
			refreshes++
			if c.value == 2 {
				return errors.New("stale")
			}
			return nil
		}).
		Build()
	suite.NoError(err)

	state, err := m.Run(context.Background(), &counter{limit: 1})
	suite.NoError(err)
	suite.Equal(_done, state)
	suite.Equal(2, refreshes)

	state, err = m.Run(context.Background(), &counter{limit: 5})
	suite.Contains(err.Error(), "stale")
	suite.Equal(_counting, state)
}

func (suite *StateMachineTestSuite) TestValidateAndInit() {
	m, err := NewBuilder[*counter]().
		WithStartState(_start).
		AddState(startState()).
		AddState(countingState()).
		AddState(doneState()).
		WithValidate(func(c *counter) error {
			if c.limit < 0 {
				return errors.New("negative limit")
			}
			return nil
		}).
		WithInit(func(ctx context.Context, c *counter) error {
			return errors.New("no setup")
		}).
		Build()
	suite.NoError(err)

	_, err = m.Run(context.Background(), &counter{limit: -1})
	suite.Contains(err.Error(), "negative limit")
	_, err = m.Run(context.Background(), &counter{limit: 1})
	suite.Contains(err.Error(), "no setup")
}

func (suite *StateMachineTestSuite) TestBuildErrors() {
	tt := []struct {
		msg  string
		defs []Definition[*counter]
		want string
	}{
		{
			msg:  "missing start",
			defs: []Definition[*counter]{countingState(), doneState()},
			want: "start state \"start\" is not defined",
		},
		{
			msg:  "duplicate state",
			defs: []Definition[*counter]{startState(), countingState(), doneState(), doneState()},
			want: "state done defined more than once",
		},
		{
			msg: "undefined transition",
			defs: []Definition[*counter]{startState(), countingState(), func() Definition[*counter] {
				d := doneState()
				d.Transitions = []State{"nowhere"}
				return d
			}()},
			want: "transitions to undefined state nowhere",
		},
		{
			msg: "duplicate transition",
			defs: []Definition[*counter]{startState(), countingState(), func() Definition[*counter] {
				d := doneState()
				d.Transitions = []State{_done, _done}
				return d
			}()},
			want: "duplicate transition to done",
		},
		{
			msg: "unreachable state",
			defs: []Definition[*counter]{func() Definition[*counter] {
				d := startState()
				d.Transitions = []State{_done}
				return d
			}(), countingState(), doneState()},
			want: "state counting is not reachable from start",
		},
		{
			msg:  "missing functions",
			defs: []Definition[*counter]{startState(), {Name: _done}},
			want: "state done must define IsInState and Act",
		},
	}

	for _, test := range tt {
		b := NewBuilder[*counter]().WithName(test.msg).WithStartState(_start)
		for _, d := range test.defs {
			b.AddState(d)
		}
		_, err := b.Build()
		suite.Error(err, test.msg)
		suite.Contains(err.Error(), test.want, test.msg)
	}
}

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

package leader

import (
	"encoding/json"
	"testing"

	"github.com/docker/leadership"
	libkvmock "github.com/docker/libkv/store/mock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
)

type testComponent struct {
	id     string
	events chan string
	// failures is the number of gained callbacks which fail.
	failures int
}

func (x *testComponent) GainedLeadershipCallback() error {
	x.events <- "leadership_gained"
	if x.failures > 0 {
		x.failures--
		return errors.New("cannot lead")
	}
	return nil
}

func (x *testComponent) LostLeadershipCallback() error {
	x.events <- "leadership_lost"
	return nil
}

func (x *testComponent) ShutDownCallback() error {
	x.events <- "shutdown"
	return nil
}

func (x *testComponent) GetID() string { return x.id }

func newTestComponent() *testComponent {
	return &testComponent{id: "testhost:666", events: make(chan string, 100)}
}

func TestZKElection(t *testing.T) {
	key := leaderPath("/starcluster/fake", "balancer")
	assert.Equal(t, "starcluster/fake/balancer/leader", key)

	kv, err := libkvmock.New([]string{}, nil)
	require.NoError(t, err)
	mockStore := kv.(*libkvmock.Mock)
	mockLock := &libkvmock.Lock{}
	mockStore.On("NewLock", key, mock.Anything).Return(mockLock, nil)

	// Lock and unlock always succeed.
	lostCh := make(chan struct{})
	var mockLostCh <-chan struct{} = lostCh
	mockLock.On("Lock", mock.Anything).Return(mockLostCh, nil)
	mockLock.On("Unlock").Return(nil)

	nomination := newTestComponent()
	scope := tally.NewTestScope("", nil)
	el := newZKElection(
		leadership.NewCandidate(mockStore, key, nomination.GetID(), ttl),
		newElectionMetrics(scope, "zookeeper"),
		"balancer",
		nomination,
	)

	require.NoError(t, el.Start())
	assert.Error(t, el.Start())

	// A candidate always starts as follower.
	assert.Equal(t, "leadership_lost", <-nomination.events)
	assert.Equal(t, "leadership_gained", <-nomination.events)
	assert.True(t, el.IsLeader())

	// Resigning unlocks, the candidate is elected again.
	go el.Resign()
	assert.Equal(t, "leadership_lost", <-nomination.events)
	assert.Equal(t, "leadership_gained", <-nomination.events)
	assert.True(t, el.IsLeader())

	assert.NoError(t, el.Stop())
	assert.Equal(t, "shutdown", <-nomination.events)
	assert.False(t, el.IsLeader())

	counters := scope.Snapshot().Counters()
	assert.Equal(t, int64(2), counters["gained_leadership+backend=zookeeper"].Value())
	assert.Equal(t, int64(1), counters["resigned+backend=zookeeper"].Value())
}

func TestZKElectionGainedCallbackFails(t *testing.T) {
	key := leaderPath("/starcluster/fake", "balancer")
	kv, err := libkvmock.New([]string{}, nil)
	require.NoError(t, err)
	mockStore := kv.(*libkvmock.Mock)
	mockLock := &libkvmock.Lock{}
	mockStore.On("NewLock", key, mock.Anything).Return(mockLock, nil)
	mockLock.On("Lock", mock.Anything).Return(make(<-chan struct{}), nil)
	mockLock.On("Unlock").Return(nil)

	nomination := newTestComponent()
	nomination.failures = 1
	el := newZKElection(
		leadership.NewCandidate(mockStore, key, nomination.GetID(), ttl),
		newElectionMetrics(tally.NoopScope, "zookeeper"),
		"balancer",
		nomination,
	)
	require.NoError(t, el.Start())

	// A nomination which cannot lead resigns and campaigns again.
	assert.Equal(t, "leadership_lost", <-nomination.events)
	assert.Equal(t, "leadership_gained", <-nomination.events)
	assert.Equal(t, "leadership_lost", <-nomination.events)
	assert.Equal(t, "leadership_gained", <-nomination.events)
	assert.True(t, el.IsLeader())

	assert.NoError(t, el.Stop())
}

func TestStandalone(t *testing.T) {
	nomination := newTestComponent()
	c, err := NewCandidate(ElectionConfig{}, tally.NoopScope, "balancer", nomination)
	require.NoError(t, err)

	assert.False(t, c.IsLeader())
	require.NoError(t, c.Start())
	assert.Error(t, c.Start())
	assert.Equal(t, "leadership_gained", <-nomination.events)
	assert.True(t, c.IsLeader())

	c.Resign()
	assert.True(t, c.IsLeader())

	assert.NoError(t, c.Stop())
	assert.Equal(t, "leadership_lost", <-nomination.events)
	assert.Equal(t, "shutdown", <-nomination.events)
	assert.False(t, c.IsLeader())
}

func TestStandaloneCannotLead(t *testing.T) {
	nomination := newTestComponent()
	nomination.failures = 1
	c := newStandalone(tally.NoopScope, "balancer", nomination)
	assert.Error(t, c.Start())
	assert.False(t, c.IsLeader())
}

func TestNewCandidateRequiresRole(t *testing.T) {
	_, err := NewCandidate(ElectionConfig{}, tally.NoopScope, "", newTestComponent())
	assert.Error(t, err)
}

func TestNewID(t *testing.T) {
	var id ID
	require.NoError(t, json.Unmarshal([]byte(NewID(8080)), &id))
	assert.Equal(t, 8080, id.HTTPPort)
	assert.NotZero(t, id.PID)
}

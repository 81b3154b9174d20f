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
	"sync"
	"time"

	"github.com/docker/leadership"
	"github.com/docker/libkv/store"
	"github.com/docker/libkv/store/zookeeper"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"
)

const (
	// ttl is the election ttl for docker/leadership.
	// Caution: required but not used.
	ttl = 5 * time.Second

	// znodeEphemeralTimeout is how long the ephemeral leader node
	// survives a lost ZK session.
	znodeEphemeralTimeout = 5 * time.Second
)

// zkElection holds the state of a ZooKeeper election.
type zkElection struct {
	sync.Mutex
	metrics    electionMetrics
	running    bool
	role       string
	candidate  *leadership.Candidate
	nomination Nomination
	stopChan   chan struct{}
	retry      time.Duration
}

func newZKCandidate(
	cfg ElectionConfig,
	scope tally.Scope,
	role string,
	nomination Nomination) (Candidate, error) {
	client, err := zookeeper.New(
		cfg.ZKServers,
		&store.Config{ConnectionTimeout: znodeEphemeralTimeout},
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to zookeeper")
	}

	key := leaderPath(cfg.Root, role)
	log.WithFields(log.Fields{
		"id":          nomination.GetID(),
		"role":        role,
		"leader_path": key,
	}).Debug("Creating new Candidate")

	return newZKElection(
		leadership.NewCandidate(client, key, nomination.GetID(), ttl),
		newElectionMetrics(scope, "zookeeper"),
		role,
		nomination,
	), nil
}

func newZKElection(
	candidate *leadership.Candidate,
	metrics electionMetrics,
	role string,
	nomination Nomination) *zkElection {
	return &zkElection{
		metrics:    metrics,
		role:       role,
		nomination: nomination,
		candidate:  candidate,
		stopChan:   make(chan struct{}),
		retry:      connErrRetry,
	}
}

// Start runs for leadership until Stop is called, retrying on
// connection errors.
func (el *zkElection) Start() error {
	el.Lock()
	defer el.Unlock()

	if el.running {
		return errors.New("already running election")
	}
	el.running = true
	el.metrics.Start.Inc(1)
	el.metrics.Running.Update(1)

	log.WithField("role", el.role).Info("Joining election")

	go el.campaign()
	go emitLeaderGauge(el.stopChan, el.metrics, el.IsLeader, _metricsUpdateTick)

	return nil
}

func (el *zkElection) campaign() {
	for {
		select {
		case <-el.stopChan:
			log.Info("Stopped running election")
			return
		default:
		}

		if err := el.waitForEvent(); err != nil {
			log.WithError(err).WithField("role", el.role).
				Error("Failure running election, retrying")
			select {
			case <-el.stopChan:
				return
			case <-time.After(el.retry):
			}
		}
	}
}

// waitForEvent blocks until the election channel is closed or an error
// is reported.
func (el *zkElection) waitForEvent() error {
	electionCh, errCh := el.candidate.RunForElection()

	for {
		select {
		case isElected, ok := <-electionCh:
			if !ok {
				return nil
			}
			if isElected {
				if err := gained(el.metrics, el.role, el.nomination); err != nil {
					el.candidate.Resign()
				}
			} else {
				lost(el.metrics, el.role, el.nomination)
			}
		case err := <-errCh:
			if err != nil {
				el.metrics.Error.Inc(1)
				return err
			}
			// the candidate was stopped
			return nil
		}
	}
}

// Stop stops campaigning and calls the shutdown callback.
func (el *zkElection) Stop() error {
	el.Lock()
	if el.running {
		el.running = false
		close(el.stopChan)
		el.candidate.Stop()
		el.metrics.Stop.Inc(1)
		el.metrics.Running.Update(0)
	}
	el.Unlock()
	return el.nomination.ShutDownCallback()
}

// IsLeader returns whether this candidate is the current leader.
func (el *zkElection) IsLeader() bool {
	el.Lock()
	defer el.Unlock()

	// The candidate still reports leader after it was stopped.
	return el.running && el.candidate.IsLeader()
}

// Resign gives up leadership. The candidate campaigns again.
func (el *zkElection) Resign() {
	el.metrics.Resigned.Inc(1)
	el.candidate.Resign()
}

func gained(m electionMetrics, role string, nomination Nomination) error {
	log.WithFields(log.Fields{
		"id":   nomination.GetID(),
		"role": role,
	}).Info("Leadership gained")
	m.GainedLeadership.Inc(1)
	m.IsLeader.Update(1)

	err := nomination.GainedLeadershipCallback()
	if err != nil {
		log.WithError(err).WithField("role", role).
			Error("GainedLeadershipCallback failed")
	}
	return err
}

func lost(m electionMetrics, role string, nomination Nomination) {
	log.WithFields(log.Fields{
		"id":   nomination.GetID(),
		"role": role,
	}).Info("Leadership lost")
	m.LostLeadership.Inc(1)
	m.IsLeader.Update(0)

	if err := nomination.LostLeadershipCallback(); err != nil {
		log.WithError(err).WithField("role", role).
			Error("LostLeadershipCallback failed")
	}
}

func emitLeaderGauge(
	stop <-chan struct{},
	m electionMetrics,
	isLeader func() bool,
	interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if isLeader() {
				m.IsLeader.Update(1)
			} else {
				m.IsLeader.Update(0)
			}
		}
	}
}

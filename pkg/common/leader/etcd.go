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
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/atomic"
	"github.com/uber-go/tally"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

const (
	_etcdDialTimeout   = 5 * time.Second
	_etcdDefaultTTL    = 10 * time.Second
	_etcdResignTimeout = 5 * time.Second
)

// etcdElection campaigns on an etcd v3 election key. Leadership is tied
// to a lease which expires when the leader loses etcd.
type etcdElection struct {
	sync.Mutex
	client     *clientv3.Client
	key        string
	ttl        time.Duration
	role       string
	nomination Nomination
	metrics    electionMetrics

	leader   *atomic.Bool
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	resignCh chan struct{}
	retry    time.Duration
}

func newEtcdCandidate(
	cfg ElectionConfig,
	scope tally.Scope,
	role string,
	nomination Nomination) (Candidate, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.EtcdEndpoints,
		DialTimeout: _etcdDialTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to etcd")
	}

	ttl := cfg.SessionTTL
	if ttl < time.Second {
		ttl = _etcdDefaultTTL
	}
	return &etcdElection{
		client:     client,
		key:        "/" + leaderPath(cfg.Root, role),
		ttl:        ttl,
		role:       role,
		nomination: nomination,
		metrics:    newElectionMetrics(scope, "etcd"),
		leader:     atomic.NewBool(false),
		resignCh:   make(chan struct{}, 1),
		retry:      connErrRetry,
	}, nil
}

func (el *etcdElection) Start() error {
	el.Lock()
	defer el.Unlock()

	if el.running {
		return errors.New("already running election")
	}
	el.running = true
	el.metrics.Start.Inc(1)
	el.metrics.Running.Update(1)

	ctx, cancel := context.WithCancel(context.Background())
	el.cancel = cancel
	el.done = make(chan struct{})

	log.WithFields(log.Fields{
		"role": el.role,
		"key":  el.key,
	}).Info("Joining election")

	go el.campaign(ctx)
	go emitLeaderGauge(ctx.Done(), el.metrics, el.IsLeader, _metricsUpdateTick)
	return nil
}

func (el *etcdElection) campaign(ctx context.Context) {
	defer close(el.done)
	for ctx.Err() == nil {
		if err := el.term(ctx); err != nil {
			log.WithError(err).WithField("role", el.role).
				Error("Failure running election, retrying")
			el.metrics.Error.Inc(1)
			select {
			case <-ctx.Done():
			case <-time.After(el.retry):
			}
		}
	}
	log.Info("Stopped running election")
}

// term campaigns once and holds leadership until the session expires,
// the candidate resigns or the context is cancelled.
func (el *etcdElection) term(ctx context.Context) error {
	session, err := concurrency.NewSession(
		el.client,
		concurrency.WithTTL(int(el.ttl/time.Second)),
		concurrency.WithContext(ctx),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create etcd session")
	}
	defer session.Close()

	election := concurrency.NewElection(session, el.key)
	if err := election.Campaign(ctx, el.nomination.GetID()); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrap(err, "campaign failed")
	}

	el.leader.Store(true)
	if err := gained(el.metrics, el.role, el.nomination); err != nil {
		el.resign(election)
		return nil
	}

	var result error
	select {
	case <-ctx.Done():
		el.resign(election)
	case <-el.resignCh:
		el.resign(election)
	case <-session.Done():
		el.leader.Store(false)
		result = errors.New("etcd session expired")
	}
	lost(el.metrics, el.role, el.nomination)
	return result
}

func (el *etcdElection) resign(election *concurrency.Election) {
	el.leader.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), _etcdResignTimeout)
	defer cancel()
	if err := election.Resign(ctx); err != nil {
		log.WithError(err).WithField("role", el.role).Warn("Failed to resign")
	}
}

func (el *etcdElection) Stop() error {
	el.Lock()
	if el.running {
		el.running = false
		el.cancel()
		<-el.done
		el.metrics.Stop.Inc(1)
		el.metrics.Running.Update(0)
		if err := el.client.Close(); err != nil {
			log.WithError(err).Warn("Failed to close etcd client")
		}
	}
	el.Unlock()
	return el.nomination.ShutDownCallback()
}

func (el *etcdElection) IsLeader() bool {
	return el.leader.Load()
}

func (el *etcdElection) Resign() {
	el.metrics.Resigned.Inc(1)
	select {
	case el.resignCh <- struct{}{}:
	default:
	}
}

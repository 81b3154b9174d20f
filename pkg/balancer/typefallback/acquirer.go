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

package typefallback

import (
	"context"
	"time"

	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"

	"github.com/lexentbio/StarCluster/pkg/common/statemachine"
	"github.com/lexentbio/StarCluster/pkg/provisioner"
)

// _cancelTimeout bounds the cancellation of an abandoned request.
const _cancelTimeout = 30 * time.Second

// Result describes the instances acquired by an attempt.
type Result struct {
	SessionID    string
	Handle       provisioner.Handle
	InstanceType string
	Kind         Kind
	Count        int
	Final        statemachine.State
}

// Acquirer acquires spot instances, preferring the primary type and
// falling back to the fallback type.
type Acquirer struct {
	cfg         *Config
	provisioner provisioner.Provisioner
	machine     *statemachine.Machine[*Session]
	prices      *priceCache
	metrics     *Metrics
	clock       Clock
}

// New returns an Acquirer. The config is normalized.
func New(cfg Config, p provisioner.Provisioner, scope tally.Scope) (*Acquirer, error) {
	return NewWithClock(cfg, p, scope, realClock{})
}

// NewWithClock returns an Acquirer reading time from clock.
func NewWithClock(
	cfg Config,
	p provisioner.Provisioner,
	scope tally.Scope,
	clock Clock,
) (*Acquirer, error) {
	if !cfg.Enabled() {
		return nil, errors.New("primary and fallback instance types are required")
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}

	a := &Acquirer{
		cfg:         &cfg,
		provisioner: p,
		metrics:     NewMetrics(scope),
		clock:       clock,
	}
	a.prices = newPriceCache(a.cfg, p, a.metrics)

	b := statemachine.NewBuilder[*Session]().
		WithName("typefallback").
		WithStartState(Start).
		WithValidate(validate).
		WithInit(a.init).
		WithPreResolve(func(ctx context.Context, s *Session) error {
			return s.refresh(ctx)
		}).
		WithTransitionCallback(func(t *statemachine.Transition) error {
			log.WithFields(log.Fields{
				"from": t.From,
				"to":   t.To,
			}).Info("type fallback state changed")
			return nil
		}).
		WithMetricScope(a.metrics.scope)
	for _, def := range definitions() {
		b.AddState(def)
	}
	machine, err := b.Build()
	if err != nil {
		return nil, err
	}
	a.machine = machine
	return a, nil
}

// PrimaryType returns the configured primary instance type.
func (a *Acquirer) PrimaryType() string {
	return a.cfg.PrimaryType
}

// FallbackType returns the configured fallback instance type.
func (a *Acquirer) FallbackType() string {
	return a.cfg.FallbackType
}

func validate(s *Session) error {
	if s.Count <= 0 {
		return errors.Errorf("invalid instance count %d", s.Count)
	}
	return nil
}

// init starts the attempt. A pending request of the cluster is adopted
// rather than duplicated.
func (a *Acquirer) init(ctx context.Context, s *Session) error {
	s.ID = uuid.New()
	s.StartTime = a.clock.Now().UTC()
	s.Now = s.StartTime

	latest, err := a.provisioner.LatestRequest(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get latest request")
	}
	if latest == nil {
		return nil
	}
	s.PreviousRequest = latest.Handle
	if latest.Status != provisioner.StatusPending {
		return nil
	}

	switch latest.InstanceType {
	case a.cfg.PrimaryType:
		s.Kind = KindPrimary
		s.AlreadyTried = true
	case a.cfg.FallbackType:
		s.Kind = KindFallback
	default:
		return nil
	}
	s.CurrentRequest = latest.Handle
	s.Status = provisioner.StatusPending
	if !latest.CreateTime.IsZero() {
		s.StartTime = latest.CreateTime.UTC()
	}
	a.metrics.Adopted.Inc(1)
	log.WithFields(log.Fields{
		"session": s.ID,
		"request": latest.Handle,
		"kind":    s.Kind.String(),
	}).Info("adopted pending request")
	return nil
}

// AcquireOption changes how an attempt starts.
type AcquireOption func(s *Session)

// WithoutPrimary starts an attempt as if the primary type was already
// tried, for demand the primary type cannot run.
func WithoutPrimary() AcquireOption {
	return func(s *Session) {
		s.AlreadyTried = true
	}
}

// Acquire runs one attempt for count instances until a request is
// fulfilled. On failure a pending request is cancelled on a best effort
// basis.
func (a *Acquirer) Acquire(ctx context.Context, count int, opts ...AcquireOption) (*Result, error) {
	a.metrics.Attempts.Inc(1)
	sw := a.metrics.AttemptDuration.Start()
	defer sw.Stop()

	s := &Session{
		Count:       count,
		cfg:         a.cfg,
		provisioner: a.provisioner,
		clock:       a.clock,
		prices:      a.prices,
		metrics:     a.metrics,
	}
	for _, opt := range opts {
		opt(s)
	}

	final, err := a.machine.Run(ctx, s)
	if err == nil && s.Status != provisioner.StatusFulfilled {
		err = errors.Errorf("request %s of %s ended %s",
			s.CurrentRequest, s.InstanceType(), s.Status)
	}
	if err != nil {
		a.metrics.AttemptsFail.Inc(1)
		a.abandon(s)
		log.WithError(err).WithFields(log.Fields{
			"session": s.ID,
			"state":   final,
			"count":   count,
		}).Error("spot acquisition failed")
		return nil, err
	}

	a.metrics.AttemptsSuccess.Inc(1)
	result := &Result{
		SessionID:    s.ID,
		Handle:       s.CurrentRequest,
		InstanceType: s.InstanceType(),
		Kind:         s.Kind,
		Count:        count,
		Final:        final,
	}
	log.WithFields(log.Fields{
		"session":       s.ID,
		"request":       result.Handle,
		"instance_type": result.InstanceType,
		"count":         count,
	}).Info("spot acquisition fulfilled")
	return result, nil
}

// abandon cancels the pending request of a failed attempt. Instances of a
// request fulfilled meanwhile are picked up by the next poll.
func (a *Acquirer) abandon(s *Session) {
	if !s.pending() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), _cancelTimeout)
	defer cancel()
	if err := a.provisioner.Cancel(ctx, s.CurrentRequest); err != nil {
		log.WithError(err).WithField("request", s.CurrentRequest).
			Warn("failed to cancel abandoned request")
		return
	}
	a.metrics.Cancelled.Inc(1)
}

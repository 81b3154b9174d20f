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

// Package balancer sizes a grid engine cluster after its queue: it adds
// nodes for jobs waiting too long and removes idle nodes.
package balancer

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/atomic"
	"github.com/uber-go/tally"

	"github.com/lexentbio/StarCluster/pkg/balancer/typefallback"
	"github.com/lexentbio/StarCluster/pkg/common/lifecycle"
	"github.com/lexentbio/StarCluster/pkg/common/statemachine"
	"github.com/lexentbio/StarCluster/pkg/provisioner"
	"github.com/lexentbio/StarCluster/pkg/scalar"
	"github.com/lexentbio/StarCluster/pkg/sge"
)

// _cancelTimeout bounds the cancellation of an abandoned request.
const _cancelTimeout = 30 * time.Second

// Leadership tells whether this process may act on the cluster.
type Leadership interface {
	IsLeader() bool
}

// Balancer runs the control loop of one cluster.
type Balancer struct {
	// balancer lifecycle manager.
	lf lifecycle.LifeCycle

	cfg         *Config
	source      sge.StatusSource
	provisioner provisioner.Provisioner
	leadership  Leadership
	evaluator   *Evaluator
	catalog     *scalar.Catalog

	// acquirer is nil without type fallback.
	acquirer *typefallback.Acquirer

	stabilizer *stabilizer

	// ids of the nodes of the previous roster, nil before the first one.
	known map[string]bool
	// nodes requested but not seen in the roster yet.
	expected int

	running *atomic.Bool
	metrics *Metrics
}

// New creates a Balancer. Calls to the provisioner are retried as
// configured. A nil leadership always acts.
func New(
	cfg Config,
	source sge.StatusSource,
	p provisioner.Provisioner,
	leadership Leadership,
	scope tally.Scope,
) (*Balancer, error) {
	cfg.normalize()

	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}

	p = provisioner.NewRetrying(p, cfg.Retry.Policy(), scope)

	b := &Balancer{
		lf:          lifecycle.NewLifeCycle(),
		cfg:         &cfg,
		source:      source,
		provisioner: p,
		leadership:  leadership,
		evaluator:   NewEvaluator(cfg, catalog),
		catalog:     catalog,
		stabilizer:  newStabilizer(cfg.StabilizationTime),
		running:     atomic.NewBool(false),
		metrics:     NewMetrics(scope),
	}

	if cfg.TypeFallback.Enabled() {
		for _, t := range []string{cfg.TypeFallback.PrimaryType, cfg.TypeFallback.FallbackType} {
			if _, ok := catalog.Get(t); !ok {
				return nil, errors.Errorf("type fallback instance type %s is not a node type", t)
			}
		}
		b.acquirer, err = typefallback.New(cfg.TypeFallback, p, scope)
		if err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Start starts the control loop.
func (b *Balancer) Start() {
	if !b.lf.Start() {
		// already started, skip the action.
		return
	}
	stopCh := b.lf.StopCh()

	go func() {
		defer b.lf.StopComplete()

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			<-stopCh
			cancel()
		}()
		b.run(ctx)
	}()
	log.WithFields(log.Fields{
		"poll_interval": b.cfg.PollInterval,
		"dry_run":       b.cfg.DryRun,
	}).Info("balancer started")
}

// Stop stops the control loop and waits for the current cycle to end.
func (b *Balancer) Stop() {
	if !b.lf.Stop() {
		return
	}
	b.lf.Wait()
	log.Info("balancer stopped")
}

// Running returns true while a cycle is in progress.
func (b *Balancer) Running() bool {
	return b.running.Load()
}

func (b *Balancer) run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := b.RunOnce(ctx); err != nil {
			log.WithError(err).Warn("balancer cycle failed")
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce runs one cycle: poll, evaluate, then add or remove nodes.
func (b *Balancer) RunOnce(ctx context.Context) error {
	if b.leadership != nil && !b.leadership.IsLeader() {
		b.metrics.LeaderSkip.Inc(1)
		log.Debug("not leader, skipping cycle")
		return nil
	}

	b.running.Store(true)
	defer b.running.Store(false)

	b.metrics.Cycles.Inc(1)
	sw := b.metrics.CycleDuration.Start()
	defer sw.Stop()

	cycle, err := b.observe(ctx)
	if err != nil {
		if pe, ok := sge.AsParseError(err); ok {
			b.metrics.ParseFail.Inc(1)
			log.WithError(err).WithFields(log.Fields{
				"source":   pe.Source,
				"fragment": pe.Fragment,
			}).Error("failed to parse grid status, skipping cycle")
		} else {
			b.metrics.CycleFail.Inc(1)
		}
		return err
	}

	up := b.evaluator.EvaluateRequiredInstances(cycle)
	b.report(cycle, up)

	if up.Count > 0 {
		if err := b.scaleUp(ctx, cycle, up); err != nil {
			b.metrics.CycleFail.Inc(1)
			return err
		}
		return nil
	}

	if !cycle.Stabilized {
		b.metrics.NotStable.Inc(1)
		return nil
	}
	unusable, ok := b.evaluator.UnusableTypes(up)
	if !ok {
		return nil
	}
	removable := b.evaluator.FindRemovableNodes(cycle, unusable)
	if err := b.scaleDown(ctx, cycle, removable); err != nil {
		b.metrics.CycleFail.Inc(1)
		return err
	}
	return nil
}

// observe polls the grid and the roster.
func (b *Balancer) observe(ctx context.Context) (*Cycle, error) {
	pollCtx, cancel := context.WithTimeout(ctx, b.cfg.PollTimeout)
	defer cancel()

	snapshot, err := sge.Poll(pollCtx, b.source, sge.PollConfig{
		Dimensions:       b.cfg.Dimensions,
		AccountingWindow: b.cfg.AccountingWindow,
	})
	if err != nil {
		return nil, err
	}

	nodes, err := b.provisioner.RunningNodes(pollCtx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list running nodes")
	}

	now := snapshot.RemoteTime()
	b.reconcile(nodes, now)

	return &Cycle{
		Snapshot:   snapshot,
		Nodes:      nodes,
		Now:        now,
		Stabilized: b.stabilizer.stabilized(now, snapshot, nodes),
	}, nil
}

// reconcile accounts for nodes which appeared since the previous roster.
// Nodes beyond those requested come from requests fulfilled after being
// abandoned, and are kept as found capacity.
func (b *Balancer) reconcile(nodes []provisioner.Node, now time.Time) {
	current := make(map[string]bool, len(nodes))
	var added []provisioner.Node
	for _, n := range nodes {
		current[n.ID] = true
		if b.known != nil && !n.Master && !b.known[n.ID] {
			added = append(added, n)
		}
	}
	b.known = current

	if len(added) == 0 {
		return
	}
	b.stabilizer.markChanged(now)

	expected := len(added)
	if expected > b.expected {
		expected = b.expected
	}
	b.expected -= expected

	if found := len(added) - expected; found > 0 {
		b.metrics.ReconciledNodes.Inc(int64(found))
		log.WithFields(log.Fields{
			"nodes": nodeIDs(added[expected:]),
			"found": found,
		}).Warn("found nodes which were not requested")
	}
}

func (b *Balancer) report(c *Cycle, up ScaleUp) {
	s := c.Snapshot
	b.metrics.Hosts.Update(float64(s.HostCount()))
	b.metrics.TotalSlots.Update(float64(s.TotalSlots()))
	b.metrics.QueuedJobs.Update(float64(len(s.QueuedJobs())))
	b.metrics.RunningJobs.Update(float64(len(s.RunningJobs())))
	b.metrics.RunningNodes.Update(float64(c.Workers()))
	b.metrics.Unfulfillable.Update(float64(len(up.Unfulfillable)))
	b.metrics.Required.Update(float64(up.Count))
	if age, ok := s.OldestQueuedAge(c.Now); ok {
		b.metrics.OldestQueued.Update(age.Seconds())
	} else {
		b.metrics.OldestQueued.Update(0)
	}

	for _, j := range up.Unfulfillable {
		log.WithFields(log.Fields{
			"job_id":  j.ID,
			"owner":   j.Owner,
			"request": j.Request.String(),
		}).Warn("no node type can run queued job")
	}

	log.WithFields(log.Fields{
		"hosts":         s.HostCount(),
		"slots":         s.TotalSlots(),
		"queued":        len(s.QueuedJobs()),
		"running":       len(s.RunningJobs()),
		"workers":       c.Workers(),
		"stabilized":    c.Stabilized,
		"required":      up.Count,
		"candidates":    up.Candidates,
		"avg_duration":  s.AvgJobDuration(),
		"avg_wait_time": s.AvgWaitTime(),
	}).Info("grid status")
}

// scaleUp adds nodes. With type fallback the fallback type must be a
// candidate, the primary type is skipped when it is not.
func (b *Balancer) scaleUp(ctx context.Context, c *Cycle, up ScaleUp) error {
	started := time.Now()
	fields := log.Fields{
		"count":      up.Count,
		"candidates": up.Candidates,
		"bootstrap":  up.Bootstrap,
	}
	if b.cfg.DryRun {
		b.metrics.DryRun.Inc(1)
		log.WithFields(fields).Info("dry run, not adding nodes")
		return nil
	}

	if b.acquirer != nil && contains(up.Candidates, b.acquirer.FallbackType()) {
		var opts []typefallback.AcquireOption
		if !contains(up.Candidates, b.acquirer.PrimaryType()) {
			opts = append(opts, typefallback.WithoutPrimary())
		}
		result, err := b.acquirer.Acquire(ctx, up.Count, opts...)
		if err != nil {
			b.acquireFailed(err)
			return errors.Wrap(err, "failed to acquire nodes")
		}
		b.added(c, started, up.Count)
		fields["instance_type"] = result.InstanceType
		fields["request"] = result.Handle
		log.WithFields(fields).Info("added nodes")
		return nil
	}

	instanceType := b.pickType(up.Candidates)
	fields["instance_type"] = instanceType
	h, err := b.provisioner.RequestInstances(ctx, instanceType, up.Count)
	if err != nil {
		b.metrics.AcquireFail.Inc(1)
		return errors.Wrapf(err, "failed to request %d %s", up.Count, instanceType)
	}
	fields["request"] = h

	status, err := b.waitForRequest(ctx, h)
	if err != nil {
		b.metrics.AcquireFail.Inc(1)
		return err
	}
	if status != provisioner.StatusFulfilled {
		b.metrics.AcquireFail.Inc(1)
		return errors.Errorf("request %s of %d %s %s", h, up.Count, instanceType, status)
	}
	b.added(c, started, up.Count)
	log.WithFields(fields).Info("added nodes")
	return nil
}

// acquireFailed counts a failed acquisition. Fallback states which did
// not resolve to one legal state are a bug rather than a provisioning
// failure and are reported apart.
func (b *Balancer) acquireFailed(err error) {
	if statemachine.IsInvariantViolation(err) {
		b.metrics.AcquireInvariant.Inc(1)
		log.WithError(err).Error("type fallback states are inconsistent")
		return
	}
	b.metrics.AcquireFail.Inc(1)
}

func (b *Balancer) added(c *Cycle, started time.Time, count int) {
	b.expected += count
	b.metrics.NodesAdded.Inc(int64(count))
	b.stabilizer.markChanged(c.Now.Add(time.Since(started)))
}

// pickType returns the configured instance type, or the primary type of
// the type fallback, when a candidate, else the first candidate.
func (b *Balancer) pickType(candidates []string) string {
	preferred := []string{b.cfg.InstanceType}
	if b.acquirer != nil {
		preferred = append(preferred, b.acquirer.PrimaryType())
	}
	for _, t := range preferred {
		if t != "" && contains(candidates, t) {
			return t
		}
	}
	return candidates[0]
}

// waitForRequest polls a request until it is no longer pending. A request
// still pending when ctx is done is cancelled.
func (b *Balancer) waitForRequest(ctx context.Context, h provisioner.Handle) (provisioner.Status, error) {
	ticker := time.NewTicker(b.cfg.RequestPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
		if err := ctx.Err(); err != nil {
			b.abandon(h)
			return 0, err
		}

		status, err := b.provisioner.RequestStatus(ctx, h)
		if err != nil {
			return 0, errors.Wrapf(err, "failed to poll request %s", h)
		}
		if status.Terminal() {
			return status, nil
		}
	}
}

// abandon cancels a request on a best effort basis. Instances launched
// anyway are reconciled from the roster.
func (b *Balancer) abandon(h provisioner.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), _cancelTimeout)
	defer cancel()
	if err := b.provisioner.Cancel(ctx, h); err != nil {
		log.WithError(err).WithField("request", h).
			Warn("failed to cancel abandoned request")
	}
}

func (b *Balancer) scaleDown(ctx context.Context, c *Cycle, nodes []provisioner.Node) error {
	if len(nodes) == 0 {
		return nil
	}
	ids := nodeIDs(nodes)
	fields := log.Fields{
		"nodes": ids,
		"count": len(ids),
	}
	if b.cfg.DryRun {
		b.metrics.DryRun.Inc(1)
		log.WithFields(fields).Info("dry run, not removing nodes")
		return nil
	}

	if err := b.provisioner.Terminate(ctx, ids); err != nil {
		b.metrics.TerminateFail.Inc(1)
		return errors.Wrapf(err, "failed to terminate %s", strings.Join(ids, ","))
	}
	b.metrics.NodesRemoved.Inc(int64(len(ids)))
	b.stabilizer.markChanged(c.Now)
	log.WithFields(fields).Info("removed idle nodes")
	return nil
}

func nodeIDs(nodes []provisioner.Node) []string {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

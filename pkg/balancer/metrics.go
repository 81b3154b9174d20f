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

package balancer

import (
	"github.com/uber-go/tally"
)

// Metrics is a placeholder for all metrics in balancer.
type Metrics struct {
	Cycles     tally.Counter
	CycleFail  tally.Counter
	ParseFail  tally.Counter
	LeaderSkip tally.Counter
	NotStable  tally.Counter

	Hosts         tally.Gauge
	TotalSlots    tally.Gauge
	QueuedJobs    tally.Gauge
	RunningJobs   tally.Gauge
	Unfulfillable tally.Gauge
	Required      tally.Gauge
	RunningNodes  tally.Gauge
	OldestQueued  tally.Gauge

	NodesAdded       tally.Counter
	NodesRemoved     tally.Counter
	AcquireFail      tally.Counter
	AcquireInvariant tally.Counter
	TerminateFail    tally.Counter
	ReconciledNodes  tally.Counter
	DryRun           tally.Counter

	CycleDuration tally.Timer

	RootScope tally.Scope
}

// NewMetrics returns a new instance of balancer.Metrics.
func NewMetrics(scope tally.Scope) *Metrics {
	s := scope.SubScope("balancer")
	cycle := s.SubScope("cycle")
	grid := s.SubScope("grid")
	nodes := s.SubScope("nodes")
	return &Metrics{
		Cycles:     cycle.Counter("run"),
		CycleFail:  cycle.Counter("fail"),
		ParseFail:  cycle.Counter("parse_fail"),
		LeaderSkip: cycle.Counter("leader_skip"),
		NotStable:  cycle.Counter("not_stabilized"),

		Hosts:         grid.Gauge("hosts"),
		TotalSlots:    grid.Gauge("slots"),
		QueuedJobs:    grid.Gauge("queued_jobs"),
		RunningJobs:   grid.Gauge("running_jobs"),
		Unfulfillable: grid.Gauge("unfulfillable_jobs"),
		Required:      grid.Gauge("required_nodes"),
		RunningNodes:  nodes.Gauge("running"),
		OldestQueued:  grid.Gauge("oldest_queued_seconds"),

		NodesAdded:       nodes.Counter("added"),
		NodesRemoved:     nodes.Counter("removed"),
		AcquireFail:      nodes.Counter("acquire_fail"),
		AcquireInvariant: nodes.Counter("acquire_invariant_violation"),
		TerminateFail:    nodes.Counter("terminate_fail"),
		ReconciledNodes:  nodes.Counter("reconciled"),
		DryRun:           cycle.Counter("dry_run"),

		CycleDuration: cycle.Timer("duration"),

		RootScope: s,
	}
}

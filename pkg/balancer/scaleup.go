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
	"math"
	"time"

	"github.com/lexentbio/StarCluster/pkg/provisioner"
	"github.com/lexentbio/StarCluster/pkg/scalar"
	"github.com/lexentbio/StarCluster/pkg/sge"
)

// Cycle is what one iteration of the control loop observed. It is built
// by the loop and read-only for the evaluation.
type Cycle struct {
	// Snapshot is the grid state.
	Snapshot *sge.Snapshot
	// Nodes is the cluster roster in launch order, master included.
	Nodes []provisioner.Node
	// Stabilized is false while the snapshot may be mid-transition.
	Stabilized bool
	// Now is the grid master's time.
	Now time.Time
}

// Workers returns the number of non-master nodes.
func (c *Cycle) Workers() int {
	var n int
	for _, node := range c.Nodes {
		if !node.Master {
			n++
		}
	}
	return n
}

// ScaleUp is the outcome of a scale-up evaluation.
type ScaleUp struct {
	// Count is the number of nodes to add.
	Count int
	// Candidates are the node types able to run every counted job.
	Candidates []string
	// Feasible is the number of queued jobs some node type can run.
	Feasible int
	// Counted is the number of feasible jobs queued past the wait time.
	Counted int
	// Unfulfillable are the queued jobs no node type can run.
	Unfulfillable []sge.Job
	// Bootstrap is true when sized for a grid without slots.
	Bootstrap bool
}

// Evaluator takes scale decisions out of a Cycle.
type Evaluator struct {
	cfg     *Config
	catalog *scalar.Catalog
}

// NewEvaluator returns an Evaluator. The config is normalized.
func NewEvaluator(cfg Config, catalog *scalar.Catalog) *Evaluator {
	cfg.normalize()
	return &Evaluator{cfg: &cfg, catalog: catalog}
}

// EvaluateRequiredInstances returns how many nodes to add and of which
// types. Nothing is added while the cluster is not stabilized.
func (e *Evaluator) EvaluateRequiredInstances(c *Cycle) ScaleUp {
	var result ScaleUp
	var feasible []sge.Job
	for _, j := range c.Snapshot.QueuedJobs() {
		if e.catalog.Feasible(j.Request) {
			feasible = append(feasible, j)
		} else {
			result.Unfulfillable = append(result.Unfulfillable, j)
		}
	}
	result.Feasible = len(feasible)

	if !c.Stabilized || len(feasible) == 0 {
		return result
	}

	if c.Snapshot.TotalSlots() == 0 {
		// Nothing can ever run the queued jobs without a first node.
		oldest := feasible[0]
		for _, j := range feasible[1:] {
			if j.Time.Before(oldest.Time) {
				oldest = j
			}
		}
		result.Bootstrap = true
		result.Candidates = e.catalog.FittingTypes(oldest.Request)
		result.Count = e.bound(1, c)
		return result
	}

	var counted []sge.Job
	for _, j := range feasible {
		if c.Now.Sub(j.Time) > e.cfg.WaitTime {
			counted = append(counted, j)
		}
	}
	result.Counted = len(counted)
	if len(counted) == 0 {
		return result
	}

	result.Candidates = e.candidates(counted)
	if len(result.Candidates) == 0 {
		return result
	}
	result.Count = e.bound(e.size(c.Snapshot, counted), c)
	return result
}

// candidates returns the node types every job fits in.
func (e *Evaluator) candidates(jobs []sge.Job) []string {
	types := e.catalog.FittingTypes(jobs[0].Request)
	for _, j := range jobs[1:] {
		fitting := make(map[string]bool)
		for _, t := range e.catalog.FittingTypes(j.Request) {
			fitting[t] = true
		}
		kept := types[:0]
		for _, t := range types {
			if fitting[t] {
				kept = append(kept, t)
			}
		}
		types = kept
	}
	return types
}

// size converts the slot demand of jobs into nodes shaped like the
// current ones. While jobs run, a job is assumed to need at least the
// slots running jobs hold on average. Short jobs need fewer nodes.
func (e *Evaluator) size(s *sge.Snapshot, jobs []sge.Job) int {
	total := float64(s.TotalSlots())
	perNode := total / float64(s.HostCount())

	var occupancy float64
	if running := len(s.RunningJobs()); running > 0 {
		occupancy = total / float64(running)
	}

	var demand float64
	for _, j := range jobs {
		demand += math.Max(float64(j.Slots), occupancy)
	}

	factor := 1.0
	if avg := s.AvgJobDuration(); avg > 0 {
		factor = math.Min(1, avg.Seconds()/_durationReference.Seconds())
	}

	count := int(math.Ceil(demand/perNode*factor - scalar.ResourceEpsilon))
	if count < 1 {
		count = 1
	}
	return count
}

// bound caps a node count to the nodes a cycle may add and the room left
// in the cluster.
func (e *Evaluator) bound(count int, c *Cycle) int {
	if count > e.cfg.AddNodesPerIteration {
		count = e.cfg.AddNodesPerIteration
	}
	if room := e.cfg.MaxNodes - c.Workers(); count > room {
		count = room
	}
	if count < 0 {
		count = 0
	}
	return count
}

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
	"github.com/lexentbio/StarCluster/pkg/provisioner"
	"github.com/lexentbio/StarCluster/pkg/scalar"
	"github.com/lexentbio/StarCluster/pkg/sge"
)

// FindRemovableNodes returns the worker nodes which can be removed, in
// roster order. A node is removable once it ran for the wait time, is
// known to the grid and no job references it. When unusable is not nil,
// the node must also fit in one of those node types. At least MinNodes
// workers are kept.
func (e *Evaluator) FindRemovableNodes(c *Cycle, unusable []string) []provisioner.Node {
	var capacities []scalar.Resources
	if unusable != nil {
		capacities = e.catalog.Capacities(unusable)
	}

	var removable []provisioner.Node
	for _, n := range c.Nodes {
		if n.Master {
			continue
		}
		host, ok := hostOf(c.Snapshot, n)
		if !ok {
			continue
		}
		if c.Now.Sub(n.LaunchTime) < e.cfg.WaitTime {
			continue
		}
		if len(c.Snapshot.JobsOnHost(n.Names()...)) > 0 {
			continue
		}
		if unusable != nil && !e.fitsInAny(n, host, capacities) {
			continue
		}
		removable = append(removable, n)
	}

	keep := c.Workers() - e.cfg.MinNodes
	if keep < 0 {
		keep = 0
	}
	if len(removable) > keep {
		removable = removable[:keep]
	}
	return removable
}

// UnusableTypes returns the node types to phase out given a scale-up
// evaluation which added nothing. Without feasible demand every idle node
// goes, with counted jobs only nodes no better than a non-candidate type
// go. The second value is false when nothing should be removed.
func (e *Evaluator) UnusableTypes(up ScaleUp) ([]string, bool) {
	if up.Count > 0 {
		return nil, false
	}
	if up.Feasible == 0 {
		return nil, true
	}
	if up.Counted == 0 {
		return nil, false
	}
	candidates := make(map[string]bool, len(up.Candidates))
	for _, t := range up.Candidates {
		candidates[t] = true
	}
	unusable := []string{}
	for _, t := range e.catalog.Names() {
		if !candidates[t] {
			unusable = append(unusable, t)
		}
	}
	return unusable, true
}

// fitsInAny compares the node to the capacities. Hosts reporting no
// resource values are compared by their node type.
func (e *Evaluator) fitsInAny(n provisioner.Node, host sge.Host, capacities []scalar.Resources) bool {
	capacity := host.Capacity
	if capacity.Empty() {
		var ok bool
		if capacity, ok = e.catalog.Get(n.InstanceType); !ok {
			return false
		}
	}
	return capacity.FitsInAny(capacities)
}

// hostOf finds the grid host of a node.
func hostOf(s *sge.Snapshot, n provisioner.Node) (sge.Host, bool) {
	for _, name := range n.Names() {
		if h, err := s.Host(name); err == nil {
			return h, true
		}
	}
	return sge.Host{}, false
}

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
	"time"

	"github.com/lexentbio/StarCluster/pkg/provisioner"
	"github.com/lexentbio/StarCluster/pkg/sge"
)

// stabilizer tells whether the grid has settled since the last change of
// the cluster.
type stabilizer struct {
	period     time.Duration
	lastChange time.Time
}

func newStabilizer(period time.Duration) *stabilizer {
	return &stabilizer{period: period}
}

// markChanged records a change of the cluster at t.
func (s *stabilizer) markChanged(t time.Time) {
	if t.After(s.lastChange) {
		s.lastChange = t
	}
}

// stabilized returns true when no change happened within the period and
// every worker node has joined the grid.
func (s *stabilizer) stabilized(now time.Time, snapshot *sge.Snapshot, nodes []provisioner.Node) bool {
	if !s.lastChange.IsZero() && now.Sub(s.lastChange) < s.period {
		return false
	}
	for _, n := range nodes {
		if n.Master {
			continue
		}
		if _, ok := hostOf(snapshot, n); !ok {
			return false
		}
	}
	return true
}

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

// Package leader elects the single balancer allowed to change the
// cluster.
package leader

// Candidate campaigns for leadership and reports whether it holds it.
type Candidate interface {
	IsLeader() bool
	Start() error
	Stop() error
	Resign()
}

// Nomination is the component run by the leader. Callbacks are invoked
// from the election goroutine.
type Nomination interface {
	// GetID returns the id published while leader.
	GetID() string
	GainedLeadershipCallback() error
	LostLeadershipCallback() error
	ShutDownCallback() error
}

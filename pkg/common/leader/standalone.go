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

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"
)

// standalone is the candidate of a balancer without peers. It leads
// while running.
type standalone struct {
	sync.Mutex
	role       string
	nomination Nomination
	metrics    electionMetrics
	running    bool
}

func newStandalone(scope tally.Scope, role string, nomination Nomination) *standalone {
	return &standalone{
		role:       role,
		nomination: nomination,
		metrics:    newElectionMetrics(scope, "standalone"),
	}
}

func (s *standalone) Start() error {
	s.Lock()
	defer s.Unlock()
	if s.running {
		return errors.New("already running election")
	}
	s.running = true
	s.metrics.Start.Inc(1)
	s.metrics.Running.Update(1)
	if err := gained(s.metrics, s.role, s.nomination); err != nil {
		s.running = false
		return err
	}
	return nil
}

func (s *standalone) Stop() error {
	s.Lock()
	if s.running {
		s.running = false
		s.metrics.Stop.Inc(1)
		s.metrics.Running.Update(0)
		lost(s.metrics, s.role, s.nomination)
	}
	s.Unlock()
	return s.nomination.ShutDownCallback()
}

func (s *standalone) IsLeader() bool {
	s.Lock()
	defer s.Unlock()
	return s.running
}

// Resign has no effect: there is nobody to hand leadership to.
func (s *standalone) Resign() {
	s.metrics.Resigned.Inc(1)
	log.WithField("role", s.role).Debug("Standalone candidate keeps leadership")
}

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

package provisioner

import (
	"github.com/uber-go/tally"
)

// Metrics is a placeholder for all metrics of provisioner calls.
type Metrics struct {
	CallSuccess tally.Counter
	CallFail    tally.Counter
	CallRetried tally.Counter
	CallGiveUp  tally.Counter
}

// NewMetrics returns a new instance of provisioner.Metrics.
func NewMetrics(scope tally.Scope) *Metrics {
	s := scope.SubScope("provisioner")
	return &Metrics{
		CallSuccess: s.Counter("call_success"),
		CallFail:    s.Counter("call_fail"),
		CallRetried: s.Counter("call_retried"),
		CallGiveUp:  s.Counter("call_give_up"),
	}
}

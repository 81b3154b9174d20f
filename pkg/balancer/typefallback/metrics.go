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
	"github.com/uber-go/tally"
)

// Metrics is a placeholder for all metrics of spot acquisitions.
type Metrics struct {
	Attempts        tally.Counter
	AttemptsSuccess tally.Counter
	AttemptsFail    tally.Counter

	PrimaryRequested  tally.Counter
	FallbackRequested tally.Counter
	Cancelled         tally.Counter
	CancelRace        tally.Counter
	Adopted           tally.Counter

	PriceLookup     tally.Counter
	PriceLookupFail tally.Counter

	AttemptDuration tally.Timer

	scope tally.Scope
}

// NewMetrics returns a new instance of typefallback.Metrics.
func NewMetrics(scope tally.Scope) *Metrics {
	s := scope.SubScope("typefallback")
	attempts := s.SubScope("attempts")
	return &Metrics{
		Attempts:          attempts.Counter("total"),
		AttemptsSuccess:   attempts.Counter("success"),
		AttemptsFail:      attempts.Counter("fail"),
		PrimaryRequested:  s.Tagged(map[string]string{"kind": "primary"}).Counter("requested"),
		FallbackRequested: s.Tagged(map[string]string{"kind": "fallback"}).Counter("requested"),
		Cancelled:         s.Counter("cancelled"),
		CancelRace:        s.Counter("cancel_race"),
		Adopted:           s.Counter("adopted"),
		PriceLookup:       s.Counter("price_lookup"),
		PriceLookupFail:   s.Counter("price_lookup_fail"),
		AttemptDuration:   attempts.Timer("duration"),
		scope:             s,
	}
}

func (m *Metrics) requested(kind Kind) tally.Counter {
	if kind == KindPrimary {
		return m.PrimaryRequested
	}
	return m.FallbackRequested
}

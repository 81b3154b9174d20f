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

	"github.com/lexentbio/StarCluster/pkg/provisioner"
)

// Kind is the kind of instance requested by an attempt.
type Kind int

const (
	// KindNone means no request is tracked.
	KindNone Kind = iota
	// KindPrimary is a request of the primary type.
	KindPrimary
	// KindFallback is a request of the fallback type.
	KindFallback
)

func (k Kind) String() string {
	switch k {
	case KindPrimary:
		return "primary"
	case KindFallback:
		return "fallback"
	}
	return "none"
}

// Clock abstracts time for the acquisition.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Prices are spot prices looked up at a point in time.
type Prices struct {
	Primary  float64
	Fallback float64
	Expiry   time.Time
}

// Session is the state of one acquisition attempt. It is owned by the
// state machine run of that attempt.
type Session struct {
	ID    string
	Count int

	// CurrentRequest is the request being tracked, empty when none.
	CurrentRequest provisioner.Handle
	// PreviousRequest is the latest request seen before the attempt, or
	// the request cancelled by the attempt.
	PreviousRequest provisioner.Handle
	// StartTime is when the attempt started, in UTC.
	StartTime    time.Time
	Kind         Kind
	AlreadyTried bool
	Status       provisioner.Status

	Prices Prices
	// Decent is true when the primary price is below the configured
	// multiple of the fallback price.
	Decent bool
	// Now is the time the states are evaluated at. It is refreshed
	// before every resolution.
	Now time.Time

	cfg         *Config
	provisioner provisioner.Provisioner
	clock       Clock
	prices      *priceCache
	metrics     *Metrics
}

// InstanceType returns the instance type of the tracked request.
func (s *Session) InstanceType() string {
	switch s.Kind {
	case KindPrimary:
		return s.cfg.PrimaryType
	case KindFallback:
		return s.cfg.FallbackType
	}
	return ""
}

// Cutoff returns the time after which the primary type is given up.
func (s *Session) Cutoff() time.Time {
	return s.cfg.CutoffAfter(s.StartTime)
}

// pastDeadline returns true once the primary type should no longer be
// waited for.
func (s *Session) pastDeadline() bool {
	return !s.Now.Before(s.Cutoff()) && s.Now.After(s.StartTime.Add(s.cfg.Grace))
}

func (s *Session) pending() bool {
	return s.CurrentRequest != "" && s.Status == provisioner.StatusPending
}

// refresh updates the time the states are evaluated at. Prices only
// choose the type of a new request and are left alone while a request is
// tracked.
func (s *Session) refresh(ctx context.Context) error {
	s.Now = s.clock.Now().UTC()
	if s.CurrentRequest != "" {
		return nil
	}
	prices, err := s.prices.get(ctx, s.Now)
	if err != nil {
		return err
	}
	s.Prices = prices
	s.Decent = prices.Primary < s.cfg.PriceRatio*prices.Fallback
	return nil
}

// wait blocks for the poll interval or until the context is done.
func (s *Session) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(s.cfg.PollInterval):
		return nil
	}
}

// clearRequest forgets the tracked request.
func (s *Session) clearRequest() {
	s.PreviousRequest = s.CurrentRequest
	s.CurrentRequest = ""
	s.Kind = KindNone
	s.Status = 0
}

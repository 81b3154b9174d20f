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

package backoff

import (
	"math"
	"time"
)

const (
	done time.Duration = -1

	_defaultMaxAttempts     = 5
	_defaultInitialInterval = time.Second
	_defaultMaxInterval     = 30 * time.Second
	_defaultMultiplier      = 2.0
)

// Config is the retry configuration of calls to external services.
type Config struct {
	// MaxAttempts bounds the number of calls, the first one included.
	MaxAttempts int `yaml:"max_attempts"`
	// InitialInterval is the delay after the first failure.
	InitialInterval time.Duration `yaml:"initial_interval"`
	// MaxInterval caps the delay between two attempts.
	MaxInterval time.Duration `yaml:"max_interval"`
	// Multiplier grows the delay after each failure.
	Multiplier float64 `yaml:"multiplier"`
}

// Normalize fills unset fields with defaults.
func (c *Config) Normalize() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = _defaultMaxAttempts
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = _defaultInitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = _defaultMaxInterval
	}
	if c.Multiplier < 1 {
		c.Multiplier = _defaultMultiplier
	}
}

// Policy returns the exponential RetryPolicy described by the config.
func (c Config) Policy() RetryPolicy {
	c.Normalize()
	return NewExponentialRetryPolicy(
		c.MaxAttempts, c.InitialInterval, c.MaxInterval, c.Multiplier)
}

// Retrier is interface for managing backoff.
type Retrier interface {
	NextBackOff() time.Duration
}

// NewRetrier is used for creating a new instance of Retrier
func NewRetrier(policy RetryPolicy) Retrier {
	return &retrierImpl{
		policy:         policy,
		currentAttempt: 1,
	}
}

type retrierImpl struct {
	policy         RetryPolicy
	currentAttempt int
}

// NextBackOff returns the next delay interval.
func (r *retrierImpl) NextBackOff() time.Duration {
	nextInterval := r.policy.CalculateNextDelay(r.currentAttempt)

	r.currentAttempt++
	return nextInterval
}

// RetryPolicy is interface for defining retry policy.
type RetryPolicy interface {
	CalculateNextDelay(attempts int) time.Duration
}

// NewRetryPolicy returns a policy waiting the same interval between
// attempts.
func NewRetryPolicy(maxAttempts int, retryInterval time.Duration) RetryPolicy {
	return NewExponentialRetryPolicy(maxAttempts, retryInterval, retryInterval, 1)
}

// NewExponentialRetryPolicy returns a policy whose delay starts at
// initial and is multiplied after each attempt, up to max.
func NewExponentialRetryPolicy(
	maxAttempts int,
	initial time.Duration,
	max time.Duration,
	multiplier float64,
) RetryPolicy {
	return &retryPolicy{
		maxAttempts: maxAttempts,
		initial:     initial,
		max:         max,
		multiplier:  multiplier,
	}
}

type retryPolicy struct {
	maxAttempts int
	initial     time.Duration
	max         time.Duration
	multiplier  float64
}

// CalculateNextDelay returns next delay.
func (p *retryPolicy) CalculateNextDelay(attempts int) time.Duration {
	if attempts >= p.maxAttempts {
		return done
	}
	delay := float64(p.initial) * math.Pow(p.multiplier, float64(attempts-1))
	if delay > float64(p.max) {
		return p.max
	}
	return time.Duration(delay)
}

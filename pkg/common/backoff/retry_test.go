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
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"
)

var errTest = errors.New("test error")

type RetryTestSuite struct {
	suite.Suite
}

func TestRetryTestSuite(t *testing.T) {
	suite.Run(t, new(RetryTestSuite))
}

func (s *RetryTestSuite) TestRetrySuccess() {
	i := 0
	op := func() error {
		i++

		if i == 5 {
			return nil
		}

		return errTest
	}
	policy := NewRetryPolicy(5, 5*time.Millisecond)
	err := Retry(context.Background(), op, policy)
	s.NoError(err)
	s.Equal(5, i)
}

func (s *RetryTestSuite) TestRetryFailed() {
	i := 0
	op := func() error {
		i++

		if i == 5 {
			return nil
		}

		return errTest
	}
	policy := NewRetryPolicy(4, 5*time.Millisecond)
	err := Retry(context.Background(), op, policy)
	s.Equal(errTest, err)
	s.Equal(4, i)
}

func (s *RetryTestSuite) TestRetryPermanent() {
	i := 0
	op := func() error {
		i++
		return Permanent(errTest)
	}
	err := Retry(context.Background(), op, NewRetryPolicy(5, time.Millisecond))
	s.Equal(errTest, err)
	s.Equal(1, i)
	s.NoError(Permanent(nil))
}

func (s *RetryTestSuite) TestRetryContextDone() {
	ctx, cancel := context.WithCancel(context.Background())
	i := 0
	op := func() error {
		i++
		cancel()
		return errTest
	}
	err := Retry(ctx, op, NewRetryPolicy(5, time.Hour))
	s.Equal(errTest, err)
	s.Equal(1, i)
}

func (s *RetryTestSuite) TestRetryNextBackOff() {
	policy := NewRetryPolicy(5, 5*time.Millisecond)
	r := NewRetrier(policy)
	var next time.Duration
	for i := 0; i < 4; i++ {
		next = r.NextBackOff()
		s.Equal(5*time.Millisecond, next)
	}
}

func (s *RetryTestSuite) TestRetryMaxAttempts() {
	policy := NewRetryPolicy(5, 5*time.Millisecond)
	r := NewRetrier(policy)
	var next time.Duration
	for i := 0; i < 6; i++ {
		next = r.NextBackOff()
	}
	s.Equal(done, next)
}

func (s *RetryTestSuite) TestExponentialBackOff() {
	r := NewRetrier(NewExponentialRetryPolicy(6, time.Second, 5*time.Second, 2))
	var delays []time.Duration
	for i := 0; i < 6; i++ {
		delays = append(delays, r.NextBackOff())
	}
	s.Equal([]time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		5 * time.Second,
		5 * time.Second,
		done,
	}, delays)
}

func (s *RetryTestSuite) TestConfigPolicy() {
	var c Config
	c.Normalize()
	s.Equal(Config{
		MaxAttempts:     5,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
	}, c)

	r := NewRetrier(Config{MaxAttempts: 2, InitialInterval: time.Millisecond}.Policy())
	s.Equal(time.Millisecond, r.NextBackOff())
	s.Equal(done, r.NextBackOff())
}

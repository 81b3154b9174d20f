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

package provisioner_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/uber-go/tally"

	"github.com/lexentbio/StarCluster/pkg/common/backoff"
	"github.com/lexentbio/StarCluster/pkg/provisioner"
	provisionermocks "github.com/lexentbio/StarCluster/pkg/provisioner/mocks"
)

type RetryingTestSuite struct {
	suite.Suite

	ctrl  *gomock.Controller
	mock  *provisionermocks.MockProvisioner
	scope tally.TestScope
	p     provisioner.Provisioner
	ctx   context.Context
}

func TestRetryingTestSuite(t *testing.T) {
	suite.Run(t, new(RetryingTestSuite))
}

func (s *RetryingTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mock = provisionermocks.NewMockProvisioner(s.ctrl)
	s.scope = tally.NewTestScope("", nil)
	s.p = provisioner.NewRetrying(s.mock, backoff.NewRetryPolicy(3, time.Millisecond), s.scope)
	s.ctx = context.Background()
}

func (s *RetryingTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *RetryingTestSuite) counter(name string) int64 {
	c, ok := s.scope.Snapshot().Counters()["provisioner."+name+"+"]
	if !ok {
		return 0
	}
	return c.Value()
}

func (s *RetryingTestSuite) TestRetriedUntilSuccess() {
	var tokens []string
	record := func(ctx context.Context, instanceType string, count int) {
		token, ok := provisioner.RequestToken(ctx)
		s.True(ok)
		tokens = append(tokens, token)
	}
	gomock.InOrder(
		s.mock.EXPECT().RequestInstances(gomock.Any(), "m5.large", 2).
			Do(record).
			Return(provisioner.Handle(""), errors.New("throttled")),
		s.mock.EXPECT().RequestInstances(gomock.Any(), "m5.large", 2).
			Do(record).
			Return(provisioner.NewHandle("sir-1", "sir-2"), nil),
	)

	h, err := s.p.RequestInstances(s.ctx, "m5.large", 2)
	s.NoError(err)
	s.Equal([]string{"sir-1", "sir-2"}, h.IDs())
	s.Equal(int64(1), s.counter("call_fail"))
	s.Equal(int64(1), s.counter("call_retried"))
	s.Equal(int64(1), s.counter("call_success"))

	s.Require().Len(tokens, 2)
	s.NotEmpty(tokens[0])
	s.Equal(tokens[0], tokens[1])
}

func (s *RetryingTestSuite) TestRequestTokenKept() {
	ctx := provisioner.WithRequestToken(s.ctx, "token-1")
	s.mock.EXPECT().RequestInstances(ctx, "m5.large", 1).
		Return(provisioner.NewHandle("sir-1"), nil)

	_, err := s.p.RequestInstances(ctx, "m5.large", 1)
	s.NoError(err)

	_, ok := provisioner.RequestToken(s.ctx)
	s.False(ok)
}

func (s *RetryingTestSuite) TestGiveUp() {
	s.mock.EXPECT().Terminate(s.ctx, []string{"i-1"}).
		Return(errors.New("unavailable")).Times(3)

	err := s.p.Terminate(s.ctx, []string{"i-1"})
	s.EqualError(err, "unavailable")
	s.Equal(int64(3), s.counter("call_fail"))
	s.Equal(int64(1), s.counter("call_give_up"))
}

func (s *RetryingTestSuite) TestPermanentNotRetried() {
	s.mock.EXPECT().Cancel(s.ctx, provisioner.Handle("sir-1")).
		Return(backoff.Permanent(errors.New("unknown request")))

	err := s.p.Cancel(s.ctx, provisioner.Handle("sir-1"))
	s.EqualError(err, "unknown request")
}

func (s *RetryingTestSuite) TestPassThrough() {
	nodes := []provisioner.Node{{ID: "i-1", Alias: "master", Master: true}}
	req := &provisioner.Request{Handle: "sir-9", InstanceType: "r5.large", Status: provisioner.StatusPending}
	s.mock.EXPECT().RequestStatus(s.ctx, provisioner.Handle("sir-1")).Return(provisioner.StatusFulfilled, nil)
	s.mock.EXPECT().SpotPrice(s.ctx, "m5.large", "us-east-1a").Return(0.12, nil)
	s.mock.EXPECT().RunningNodes(s.ctx).Return(nodes, nil)
	s.mock.EXPECT().LatestRequest(s.ctx).Return(req, nil)

	status, err := s.p.RequestStatus(s.ctx, "sir-1")
	s.NoError(err)
	s.Equal(provisioner.StatusFulfilled, status)
	price, err := s.p.SpotPrice(s.ctx, "m5.large", "us-east-1a")
	s.NoError(err)
	s.Equal(0.12, price)
	got, err := s.p.RunningNodes(s.ctx)
	s.NoError(err)
	s.Equal(nodes, got)
	latest, err := s.p.LatestRequest(s.ctx)
	s.NoError(err)
	s.Equal(req, latest)
}

func TestStatusAndHandle(t *testing.T) {
	assert.True(t, provisioner.StatusFulfilled.Terminal())
	assert.True(t, provisioner.StatusFailed.Terminal())
	assert.False(t, provisioner.StatusPending.Terminal())
	assert.Equal(t, "pending", provisioner.StatusPending.String())
	assert.Nil(t, provisioner.Handle("").IDs())

	n := provisioner.Node{Alias: "node001", Hostname: "ip-10-0-0-1.ec2.internal"}
	assert.Equal(t, []string{"node001", "ip-10-0-0-1.ec2.internal", "ip-10-0-0-1"}, n.Names())
}

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

package sge_test

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"

	"github.com/lexentbio/StarCluster/pkg/sge"
	sgemocks "github.com/lexentbio/StarCluster/pkg/sge/mocks"
)

type SourceTestSuite struct {
	suite.Suite

	ctrl   *gomock.Controller
	runner *sgemocks.MockRunner
	src    *sgemocks.MockStatusSource
	ctx    context.Context
}

func TestSourceTestSuite(t *testing.T) {
	suite.Run(t, new(SourceTestSuite))
}

func (s *SourceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.runner = sgemocks.NewMockRunner(s.ctrl)
	s.src = sgemocks.NewMockStatusSource(s.ctrl)
	s.ctx = context.Background()
}

func (s *SourceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *SourceTestSuite) fixture(name string) []byte {
	b, err := ioutil.ReadFile(filepath.Join("testdata", name))
	s.Require().NoError(err)
	return b
}

func (s *SourceTestSuite) TestCommandSource() {
	source := sge.NewCommandSource(s.runner, []string{"slots", "da_mem_gb"})

	s.runner.EXPECT().Run(s.ctx, "qhost -xml -F slots,da_mem_gb").Return([]byte("<qhost/>"), nil)
	out, err := source.HostStatus(s.ctx)
	s.NoError(err)
	s.Equal("<qhost/>", string(out))

	s.runner.EXPECT().Run(s.ctx, "qstat -u '*' -xml -f -r").Return(nil, errors.New("timeout"))
	_, err = source.QueueStatus(s.ctx)
	s.Error(err)

	since := time.Date(2010, 6, 18, 22, 39, 25, 0, time.UTC)
	s.runner.EXPECT().Run(s.ctx, "qacct -j -b 201006182239").Return(nil, errors.New("no jobs"))
	out, err = source.Accounting(s.ctx, since)
	s.NoError(err)
	s.Nil(out)

	s.runner.EXPECT().Run(s.ctx, "date -u +%Y-%m-%dT%H:%M:%S").Return([]byte("2010-06-18T23:39:25\n"), nil)
	now, err := source.RemoteTime(s.ctx)
	s.NoError(err)
	s.Equal(time.Date(2010, 6, 18, 23, 39, 25, 0, time.UTC), now)

	s.runner.EXPECT().Run(s.ctx, gomock.Any()).Return([]byte("Fri Jun 18"), nil)
	_, err = source.RemoteTime(s.ctx)
	s.True(sge.IsParseError(err))
}

func (s *SourceTestSuite) TestCommandSourceNoDimensions() {
	source := sge.NewCommandSource(s.runner, nil)
	s.runner.EXPECT().Run(s.ctx, "qhost -xml").Return(nil, nil)
	_, err := source.HostStatus(s.ctx)
	s.NoError(err)
}

func (s *SourceTestSuite) TestPoll() {
	now := time.Date(2010, 6, 18, 23, 39, 25, 0, time.UTC)
	gomock.InOrder(
		s.src.EXPECT().RemoteTime(s.ctx).Return(now, nil),
		s.src.EXPECT().HostStatus(s.ctx).Return(s.fixture("qhost.xml"), nil),
		s.src.EXPECT().QueueStatus(s.ctx).Return(s.fixture("qstat.xml"), nil),
		s.src.EXPECT().Accounting(s.ctx, now.Add(-2*time.Hour)).Return(s.fixture("qacct.txt"), nil),
	)

	snapshot, err := sge.Poll(s.ctx, s.src, sge.PollConfig{AccountingWindow: 2 * time.Hour})
	s.NoError(err)
	s.Equal(3, snapshot.HostCount())
	s.Len(snapshot.QueuedJobs(), 5)
	s.Equal(90*time.Second, snapshot.AvgJobDuration())
	s.Equal(now, snapshot.RemoteTime())
}

func (s *SourceTestSuite) TestPollParseError() {
	now := time.Date(2010, 6, 18, 23, 39, 25, 0, time.UTC)
	s.src.EXPECT().RemoteTime(s.ctx).Return(now, nil)
	s.src.EXPECT().HostStatus(s.ctx).Return(s.fixture("qhost.xml"), nil)
	s.src.EXPECT().QueueStatus(s.ctx).Return([]byte("<job_info><oops"), nil)

	_, err := sge.Poll(s.ctx, s.src, sge.PollConfig{AccountingWindow: time.Hour})
	s.Error(err)
	s.True(sge.IsParseError(err))
}

func (s *SourceTestSuite) TestPollSourceError() {
	s.src.EXPECT().RemoteTime(s.ctx).Return(time.Time{}, errors.New("unreachable"))

	_, err := sge.Poll(s.ctx, s.src, sge.PollConfig{})
	s.Error(err)
	s.False(sge.IsParseError(err))
}

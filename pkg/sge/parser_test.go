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

package sge

import (
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/yarpc/yarpcerrors"
)

type ParserTestSuite struct {
	suite.Suite

	qhost []byte
	qstat []byte
	qacct []byte
}

func TestParserTestSuite(t *testing.T) {
	suite.Run(t, new(ParserTestSuite))
}

func (s *ParserTestSuite) SetupSuite() {
	s.qhost = s.readFixture("qhost.xml")
	s.qstat = s.readFixture("qstat.xml")
	s.qacct = s.readFixture("qacct.txt")
}

func (s *ParserTestSuite) readFixture(name string) []byte {
	b, err := ioutil.ReadFile(filepath.Join("testdata", name))
	s.Require().NoError(err)
	return b
}

func (s *ParserTestSuite) TestParseHostStatus() {
	hosts, err := ParseHostStatus(s.qhost, nil)
	s.NoError(err)
	s.Len(hosts, 3)
	s.Contains(hosts, "master")
	s.NotContains(hosts, "global")
	s.NotContains(hosts, "node003")

	node := hosts["node001"]
	s.Equal(4, node.NumProc)
	s.Equal("lx24-amd64", node.Arch)
	s.Equal(2.1, node.LoadAvg)
	s.Equal(int64(15*1024*1024*1024), node.MemTotal)

	v, ok := node.Capacity.Get("da_mem_gb")
	s.True(ok)
	s.Equal(15.0, v)
	v, ok = node.Capacity.Get(SlotsDimension)
	s.True(ok)
	s.Equal(4.0, v)
	_, ok = node.Capacity.Get("hostname")
	s.False(ok)
}

func (s *ParserTestSuite) TestParseHostStatusDimensions() {
	hosts, err := ParseHostStatus(s.qhost, []string{"da_mem_gb"})
	s.NoError(err)
	s.Equal([]string{"da_mem_gb"}, hosts["master"].Capacity.Dimensions())
}

func (s *ParserTestSuite) TestParseHostStatusMalformed() {
	_, err := ParseHostStatus([]byte("<qhost><host name='a'>"), nil)
	s.Error(err)
	s.True(IsParseError(err))

	_, err = ParseHostStatus([]byte("<qhost><host><hostvalue name='num_proc'>1</hostvalue></host></qhost>"), nil)
	s.True(IsParseError(err))

	_, err = ParseHostStatus([]byte(
		"<qhost><host name='a'><hostvalue name='num_proc'>many</hostvalue></host></qhost>"), nil)
	s.True(IsParseError(err))
	pe, ok := AsParseError(err)
	s.True(ok)
	s.Equal("qhost", pe.Source)
	s.Contains(pe.Fragment, "many")
}

func (s *ParserTestSuite) TestParseHostStatusExtraFields() {
	hosts, err := ParseHostStatus([]byte(`<qhost>
  <host name='a'>
    <hostvalue name='arch_string'>lx-amd64</hostvalue>
    <hostvalue name='num_proc'>8</hostvalue>
    <hostvalue name='m_socket'>2</hostvalue>
    <unknown>x</unknown>
  </host>
</qhost>`), nil)
	s.NoError(err)
	s.Equal(8, hosts["a"].NumProc)
}

func (s *ParserTestSuite) TestParseQueueStatus() {
	status, err := ParseQueueStatus(s.qstat, nil)
	s.NoError(err)
	s.Len(status.Jobs, 8)
	s.Equal(1, *status.LowestID)
	s.Equal(8, *status.HighestID)
	s.Equal([]string{"all.q@master", "all.q@node001", "all.q@node002"}, status.Queues)

	running := 0
	for _, j := range status.Jobs {
		if j.State == JobRunning {
			running++
		}
	}
	s.Equal(3, running)

	first := status.Jobs[0]
	s.Equal(1, first.ID)
	s.Equal("all.q@node001", first.Queue)
	s.Equal("node001", first.Host())
	s.Equal(4, first.Slots)
	s.Equal(0.555, first.Priority)
	s.Equal(time.Date(2010, 6, 18, 23, 30, 0, 0, time.UTC), first.Time)
	s.True(first.Request.Empty())

	seventh := status.Jobs[6]
	s.Equal(7, seventh.ID)
	s.Equal(JobPending, seventh.State)
	s.Equal("", seventh.Host())
	v, ok := seventh.Request.Get("da_mem_gb")
	s.True(ok)
	s.Equal(8.0, v)
	v, ok = seventh.Request.Get("exclusive")
	s.True(ok)
	s.Equal(1.0, v)
}

func (s *ParserTestSuite) TestParseQueueStatusDimensions() {
	status, err := ParseQueueStatus(s.qstat, []string{"da_mem_gb"})
	s.NoError(err)
	s.Equal([]string{"da_mem_gb"}, status.Jobs[6].Request.Dimensions())
}

func (s *ParserTestSuite) TestParseQueueStatusEmpty() {
	status, err := ParseQueueStatus([]byte("<job_info><queue_info/><job_info/></job_info>"), nil)
	s.NoError(err)
	s.Empty(status.Jobs)
	s.Nil(status.LowestID)
	s.Nil(status.HighestID)
}

func (s *ParserTestSuite) TestParseQueueStatusUnknownState() {
	raw := `<job_info><job_info>
  <job_list state="zombie">
    <JB_job_number>3</JB_job_number>
    <state>z</state>
    <JB_submission_time>2010-06-18T23:39:24</JB_submission_time>
  </job_list>
</job_info></job_info>`
	_, err := ParseQueueStatus([]byte(raw), nil)
	s.Error(err)
	pe, ok := AsParseError(err)
	s.True(ok)
	s.Equal("qstat", pe.Source)
	s.Contains(pe.Fragment, "zombie")
}

func (s *ParserTestSuite) TestParseQueueStatusStateCode() {
	raw := `<job_info><queue_info>
  <job_list>
    <JB_job_number>3</JB_job_number>
    <state>Rr</state>
    <JAT_start_time>2010-06-18T23:39:24</JAT_start_time>
    <queue_name>all.q@node001</queue_name>
  </job_list>
</queue_info></job_info>`
	status, err := ParseQueueStatus([]byte(raw), nil)
	s.NoError(err)
	s.Equal(JobRunning, status.Jobs[0].State)
	s.Equal(1, status.Jobs[0].Slots)
	s.Equal([]string{"all.q@node001"}, status.Queues)
}

func (s *ParserTestSuite) TestParseQueueStatusMalformed() {
	for _, raw := range []string{
		"not xml at all",
		"<job_info><job_info><job_list state='pending'><JB_job_number>x</JB_job_number></job_list></job_info></job_info>",
		"<job_info><job_info><job_list state='pending'><JB_job_number>1</JB_job_number></job_list></job_info></job_info>",
		"<job_info><job_info><job_list state='pending'><JB_job_number>1</JB_job_number>" +
			"<JB_submission_time>yesterday</JB_submission_time></job_list></job_info></job_info>",
	} {
		_, err := ParseQueueStatus([]byte(raw), nil)
		s.True(IsParseError(err), raw)
	}
}

func (s *ParserTestSuite) TestParseAccounting() {
	now := time.Date(2010, 6, 18, 23, 0, 0, 0, time.UTC)
	acct, err := ParseAccounting(s.qacct, now, time.Hour)
	s.NoError(err)
	s.Equal(3, acct.Jobs)
	s.Equal(90*time.Second, acct.AvgJobDuration)
	s.Equal(263*time.Second, acct.AvgWaitTime)
}

func (s *ParserTestSuite) TestParseAccountingWindow() {
	now := time.Date(2010, 6, 19, 23, 0, 0, 0, time.UTC)
	acct, err := ParseAccounting(s.qacct, now, time.Hour)
	s.NoError(err)
	s.Equal(Accounting{}, acct)

	acct, err = ParseAccounting(nil, now, time.Hour)
	s.NoError(err)
	s.Equal(Accounting{}, acct)
}

func (s *ParserTestSuite) TestParseAccountingUnfinished() {
	raw := strings.Join([]string{
		"==============================================================",
		"qsub_time    06/18/2010 22:00:00.000",
		"start_time   06/18/2010 22:00:10.000",
		"end_time     -/-",
		"==============================================================",
		"qsub_time    06/18/2010 22:00:00.000",
		"start_time   06/18/2010 22:00:10.000",
		"end_time     06/18/2010 22:00:40.000",
	}, "\n")
	now := time.Date(2010, 6, 18, 23, 0, 0, 0, time.UTC)
	acct, err := ParseAccounting([]byte(raw), now, time.Hour)
	s.NoError(err)
	s.Equal(1, acct.Jobs)
	s.Equal(30*time.Second, acct.AvgJobDuration)
	s.Equal(10*time.Second, acct.AvgWaitTime)
}

func (s *ParserTestSuite) TestParseAccountingMalformed() {
	raw := "=====\nqsub_time    soon\nstart_time   later\nend_time     Fri Jun 18 22:04:20 2010\n"
	now := time.Date(2010, 6, 18, 23, 0, 0, 0, time.UTC)
	_, err := ParseAccounting([]byte(raw), now, time.Hour)
	s.True(IsParseError(err))
}

func (s *ParserTestSuite) TestSnapshot() {
	hosts, err := ParseHostStatus(s.qhost, nil)
	s.NoError(err)
	status, err := ParseQueueStatus(s.qstat, nil)
	s.NoError(err)
	now := time.Date(2010, 6, 18, 23, 39, 25, 0, time.UTC)
	acct, err := ParseAccounting(s.qacct, now, 2*time.Hour)
	s.NoError(err)

	snapshot := NewSnapshot(hosts, status, acct, now)
	s.Equal(now, snapshot.RemoteTime())
	s.Equal(3, snapshot.HostCount())
	s.Equal(10, snapshot.TotalSlots())
	s.Len(snapshot.Hosts(), 3)
	s.Equal("master", snapshot.Hosts()[0].Name)
	s.Len(snapshot.Jobs(), 8)
	s.Len(snapshot.QueuedJobs(), 5)
	s.Len(snapshot.RunningJobs(), 3)
	s.Len(snapshot.Queues(), 3)
	s.Equal(90*time.Second, snapshot.AvgJobDuration())
	s.Equal(263*time.Second, snapshot.AvgWaitTime())

	lowest, ok := snapshot.LowestJobID()
	s.True(ok)
	s.Equal(1, lowest)
	highest, ok := snapshot.HighestJobID()
	s.True(ok)
	s.Equal(8, highest)

	slots, err := snapshot.SlotsForJob(1)
	s.NoError(err)
	s.Equal(4, slots)
	_, err = snapshot.SlotsForJob(42)
	s.True(yarpcerrors.IsNotFound(err))

	_, err = snapshot.Host("node001")
	s.NoError(err)
	_, err = snapshot.Host("node042")
	s.True(yarpcerrors.IsNotFound(err))
	s.True(snapshot.HasHost("node002"))

	age, ok := snapshot.OldestQueuedAge(now)
	s.True(ok)
	s.Equal(4*time.Minute+25*time.Second, age)

	s.Len(snapshot.JobsOnHost("node002"), 2)
	s.Empty(snapshot.JobsOnHost("master"))
	s.Empty(snapshot.JobsOnHost(""))
}

func (s *ParserTestSuite) TestSnapshotEmpty() {
	snapshot := NewSnapshot(nil, QueueStatus{}, Accounting{}, time.Time{})
	_, ok := snapshot.OldestQueuedAge(time.Now())
	s.False(ok)
	_, ok = snapshot.LowestJobID()
	s.False(ok)
	_, ok = snapshot.HighestJobID()
	s.False(ok)
	s.Zero(snapshot.TotalSlots())
	s.Zero(snapshot.HostCount())
}

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
	"sort"
	"time"

	"go.uber.org/yarpc/yarpcerrors"
)

// Snapshot is the grid state observed during one poll. It is never
// modified once built.
type Snapshot struct {
	hosts      map[string]Host
	hostNames  []string
	jobs       []Job
	queues     []string
	lowestID   *int
	highestID  *int
	accounting Accounting
	remoteTime time.Time
}

// NewSnapshot assembles a Snapshot out of parsed documents.
func NewSnapshot(
	hosts map[string]Host,
	status QueueStatus,
	accounting Accounting,
	remoteTime time.Time,
) *Snapshot {
	s := &Snapshot{
		hosts:      make(map[string]Host, len(hosts)),
		jobs:       append([]Job(nil), status.Jobs...),
		queues:     append([]string(nil), status.Queues...),
		lowestID:   status.LowestID,
		highestID:  status.HighestID,
		accounting: accounting,
		remoteTime: remoteTime,
	}
	for name, h := range hosts {
		s.hosts[name] = h
		s.hostNames = append(s.hostNames, name)
	}
	sort.Strings(s.hostNames)
	return s
}

// RemoteTime returns the grid master's clock at poll time.
func (s *Snapshot) RemoteTime() time.Time {
	return s.remoteTime
}

// Hosts returns all hosts sorted by name.
func (s *Snapshot) Hosts() []Host {
	hosts := make([]Host, 0, len(s.hostNames))
	for _, name := range s.hostNames {
		hosts = append(hosts, s.hosts[name])
	}
	return hosts
}

// Host looks up a host by name.
func (s *Snapshot) Host(name string) (Host, error) {
	h, ok := s.hosts[name]
	if !ok {
		return Host{}, yarpcerrors.NotFoundErrorf("host %s not found", name)
	}
	return h, nil
}

// HasHost returns true if the host is part of the snapshot.
func (s *Snapshot) HasHost(name string) bool {
	_, ok := s.hosts[name]
	return ok
}

// HostCount returns the number of hosts.
func (s *Snapshot) HostCount() int {
	return len(s.hosts)
}

// TotalSlots returns the sum of processors across hosts.
func (s *Snapshot) TotalSlots() int {
	var total int
	for _, h := range s.hosts {
		total += h.NumProc
	}
	return total
}

// Jobs returns all jobs in qstat order.
func (s *Snapshot) Jobs() []Job {
	return append([]Job(nil), s.jobs...)
}

// QueuedJobs returns the pending jobs.
func (s *Snapshot) QueuedJobs() []Job {
	return s.filter(JobPending)
}

// RunningJobs returns the running jobs.
func (s *Snapshot) RunningJobs() []Job {
	return s.filter(JobRunning)
}

func (s *Snapshot) filter(state JobState) []Job {
	var jobs []Job
	for _, j := range s.jobs {
		if j.State == state {
			jobs = append(jobs, j)
		}
	}
	return jobs
}

// Job looks up a job by id.
func (s *Snapshot) Job(id int) (Job, error) {
	for _, j := range s.jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return Job{}, yarpcerrors.NotFoundErrorf("job %d not found", id)
}

// SlotsForJob returns the number of slots of a job.
func (s *Snapshot) SlotsForJob(id int) (int, error) {
	j, err := s.Job(id)
	if err != nil {
		return 0, err
	}
	return j.Slots, nil
}

// OldestQueuedAge returns how long the oldest pending job has been
// waiting at now. The second value is false when nothing is queued.
func (s *Snapshot) OldestQueuedAge(now time.Time) (time.Duration, bool) {
	var oldest time.Time
	found := false
	for _, j := range s.jobs {
		if j.State != JobPending {
			continue
		}
		if !found || j.Time.Before(oldest) {
			oldest = j.Time
			found = true
		}
	}
	if !found {
		return 0, false
	}
	return now.Sub(oldest), true
}

// Queues returns the distinct queue instances seen, sorted.
func (s *Snapshot) Queues() []string {
	return append([]string(nil), s.queues...)
}

// LowestJobID returns the smallest job id, false when there is no job.
func (s *Snapshot) LowestJobID() (int, bool) {
	if s.lowestID == nil {
		return 0, false
	}
	return *s.lowestID, true
}

// HighestJobID returns the largest job id, false when there is no job.
func (s *Snapshot) HighestJobID() (int, bool) {
	if s.highestID == nil {
		return 0, false
	}
	return *s.highestID, true
}

// AvgJobDuration returns the average duration of recently completed jobs.
func (s *Snapshot) AvgJobDuration() time.Duration {
	return s.accounting.AvgJobDuration
}

// AvgWaitTime returns the average queue wait of recently completed jobs.
func (s *Snapshot) AvgWaitTime() time.Duration {
	return s.accounting.AvgWaitTime
}

// JobsOnHost returns the jobs, pending or running, bound to a queue on one
// of the given host names.
func (s *Snapshot) JobsOnHost(names ...string) []Job {
	var jobs []Job
	for _, j := range s.jobs {
		host := j.Host()
		if host == "" {
			continue
		}
		for _, name := range names {
			if name != "" && host == name {
				jobs = append(jobs, j)
				break
			}
		}
	}
	return jobs
}

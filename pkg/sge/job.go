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
	"encoding/xml"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/pkg/errors"

	"github.com/lexentbio/StarCluster/pkg/scalar"
)

// JobState is the lifecycle state of a job as seen by the balancer.
type JobState int

const (
	// JobPending is a job waiting in the queue.
	JobPending JobState = iota + 1
	// JobRunning is a job dispatched to a host.
	JobRunning
)

func (s JobState) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobRunning:
		return "running"
	}
	return "unknown"
}

// _timeLayout is the layout of qstat submission and start times, in UTC.
const _timeLayout = "2006-01-02T15:04:05"

// Job is a job reported by qstat.
type Job struct {
	ID       int
	Name     string
	Owner    string
	Priority float64
	// Time is the submission time of a pending job, or the start time of
	// a running one.
	Time     time.Time
	State    JobState
	RawState string
	Slots    int
	// Queue is the queue instance, queue@host, once the job is dispatched.
	Queue   string
	Request scalar.Resources
}

// Host returns the host part of the job's queue instance, if any.
func (j Job) Host() string {
	if i := strings.IndexByte(j.Queue, '@'); i >= 0 {
		return j.Queue[i+1:]
	}
	return ""
}

// QueueStatus is the parsed output of qstat.
type QueueStatus struct {
	Jobs   []Job
	Queues []string
	// LowestID and HighestID are nil when no job is present.
	LowestID  *int
	HighestID *int
}

type qstatJob struct {
	StateAttr      string       `xml:"state,attr"`
	Number         string       `xml:"JB_job_number"`
	Priority       string       `xml:"JAT_prio"`
	Name           string       `xml:"JB_name"`
	Owner          string       `xml:"JB_owner"`
	State          string       `xml:"state"`
	SubmissionTime string       `xml:"JB_submission_time"`
	StartTime      string       `xml:"JAT_start_time"`
	Queue          string       `xml:"queue_name"`
	Slots          string       `xml:"slots"`
	Requests       []namedValue `xml:"hard_request"`
}

type qstatQueue struct {
	Name string     `xml:"name"`
	Jobs []qstatJob `xml:"job_list"`
}

type qstatDocument struct {
	XMLName   xml.Name     `xml:"job_info"`
	Queues    []qstatQueue `xml:"queue_info>Queue-List"`
	QueueJobs []qstatJob   `xml:"queue_info>job_list"`
	Pending   []qstatJob   `xml:"job_info>job_list"`
}

// ParseQueueStatus parses the output of `qstat -u '*' -xml -f -r`.
// When dimensions is not empty, only those hard requests are kept.
func ParseQueueStatus(raw []byte, dimensions []string) (QueueStatus, error) {
	var doc qstatDocument
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return QueueStatus{}, newParseError("qstat", raw, err)
	}

	queues := make(map[string]struct{})
	var status QueueStatus
	add := func(j qstatJob, queue string) error {
		job, err := newJob(j, queue, dimensions)
		if err != nil {
			return err
		}
		if job.Queue != "" {
			queues[job.Queue] = struct{}{}
		}
		status.Jobs = append(status.Jobs, job)
		if status.LowestID == nil || job.ID < *status.LowestID {
			id := job.ID
			status.LowestID = &id
		}
		if status.HighestID == nil || job.ID > *status.HighestID {
			id := job.ID
			status.HighestID = &id
		}
		return nil
	}

	for _, q := range doc.Queues {
		name := strings.TrimSpace(q.Name)
		if name != "" {
			queues[name] = struct{}{}
		}
		for _, j := range q.Jobs {
			if err := add(j, name); err != nil {
				return QueueStatus{}, err
			}
		}
	}
	for _, jobs := range [][]qstatJob{doc.QueueJobs, doc.Pending} {
		for _, j := range jobs {
			if err := add(j, ""); err != nil {
				return QueueStatus{}, err
			}
		}
	}

	for q := range queues {
		status.Queues = append(status.Queues, q)
	}
	sort.Strings(status.Queues)
	return status, nil
}

func newJob(j qstatJob, queue string, dimensions []string) (Job, error) {
	fragment := jobFragment(j)
	id, err := strconv.Atoi(strings.TrimSpace(j.Number))
	if err != nil {
		return Job{}, parseErrorf("qstat", fragment, "invalid job number %q", j.Number)
	}

	state, err := classify(strings.TrimSpace(j.StateAttr), strings.TrimSpace(j.State))
	if err != nil {
		return Job{}, parseErrorf("qstat", fragment, "job %d: %v", id, err)
	}

	job := Job{
		ID:       id,
		Name:     strings.TrimSpace(j.Name),
		Owner:    strings.TrimSpace(j.Owner),
		State:    state,
		RawState: strings.TrimSpace(j.State),
		Slots:    1,
		Queue:    strings.TrimSpace(j.Queue),
	}
	if job.Queue == "" {
		job.Queue = queue
	}
	if p := strings.TrimSpace(j.Priority); p != "" {
		if job.Priority, err = strconv.ParseFloat(p, 64); err != nil {
			return Job{}, parseErrorf("qstat", fragment, "job %d: invalid priority %q", id, p)
		}
	}
	if s := strings.TrimSpace(j.Slots); s != "" {
		if job.Slots, err = strconv.Atoi(s); err != nil {
			return Job{}, parseErrorf("qstat", fragment, "job %d: invalid slots %q", id, s)
		}
	}

	stamp := strings.TrimSpace(j.SubmissionTime)
	if state == JobRunning && strings.TrimSpace(j.StartTime) != "" {
		stamp = strings.TrimSpace(j.StartTime)
	}
	if stamp == "" {
		return Job{}, parseErrorf("qstat", fragment, "job %d: no submission or start time", id)
	}
	if job.Time, err = time.ParseInLocation(_timeLayout, stamp, time.UTC); err != nil {
		return Job{}, parseErrorf("qstat", fragment, "job %d: invalid time %q", id, stamp)
	}

	request := make(map[string]float64, len(j.Requests))
	for _, r := range j.Requests {
		value, err := parseRequestValue(strings.TrimSpace(r.Value))
		if err != nil {
			return Job{}, parseErrorf("qstat", fragment,
				"job %d: invalid request %s=%q", id, r.Name, r.Value)
		}
		request[r.Name] = value
	}
	job.Request = scalar.NewResources(request)
	if len(dimensions) > 0 {
		job.Request = job.Request.Filter(dimensions)
	}
	return job, nil
}

// classify maps the qstat job_list state attribute, falling back on the
// state code, to a JobState.
func classify(attr, code string) (JobState, error) {
	switch attr {
	case "pending":
		return JobPending, nil
	case "running":
		return JobRunning, nil
	}
	switch {
	case strings.Contains(code, "q"):
		return JobPending, nil
	case strings.ContainsAny(code, "rt"):
		return JobRunning, nil
	}
	return 0, errors.Errorf("unknown job state %q/%q", attr, code)
}

// parseRequestValue parses a complex value: a number, a boolean or a
// memory size in bytes.
func parseRequestValue(s string) (float64, error) {
	switch strings.ToUpper(s) {
	case "TRUE":
		return 1, nil
	case "FALSE":
		return 0, nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	b, err := units.RAMInBytes(s)
	if err != nil {
		return 0, err
	}
	return float64(b), nil
}

func jobFragment(j qstatJob) string {
	b, err := xml.Marshal(struct {
		XMLName xml.Name `xml:"job_list"`
		qstatJob
	}{qstatJob: j})
	if err != nil {
		return j.Number
	}
	return string(b)
}

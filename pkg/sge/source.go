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
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// StatusSource returns raw grid status documents from the grid master.
type StatusSource interface {
	// HostStatus returns the output of qhost.
	HostStatus(ctx context.Context) ([]byte, error)
	// QueueStatus returns the output of qstat.
	QueueStatus(ctx context.Context) ([]byte, error)
	// Accounting returns the qacct entries of jobs started after since.
	Accounting(ctx context.Context, since time.Time) ([]byte, error)
	// RemoteTime returns the grid master's current time.
	RemoteTime(ctx context.Context) (time.Time, error)
}

// Runner runs a shell command on the grid master and returns its stdout.
type Runner interface {
	Run(ctx context.Context, cmd string) ([]byte, error)
}

const (
	_remoteTimeLayout = "2006-01-02T15:04:05"
	_qacctSinceLayout = "200601021504"
)

// CommandSource is a StatusSource running the SGE command line tools
// through a Runner.
type CommandSource struct {
	runner     Runner
	dimensions []string
}

// NewCommandSource returns a StatusSource which asks qhost for the given
// resource dimensions.
func NewCommandSource(runner Runner, dimensions []string) *CommandSource {
	return &CommandSource{runner: runner, dimensions: dimensions}
}

// HostStatus implements StatusSource.
func (s *CommandSource) HostStatus(ctx context.Context) ([]byte, error) {
	cmd := "qhost -xml"
	if len(s.dimensions) > 0 {
		cmd = fmt.Sprintf("qhost -xml -F %s", strings.Join(s.dimensions, ","))
	}
	return s.run(ctx, cmd)
}

// QueueStatus implements StatusSource.
func (s *CommandSource) QueueStatus(ctx context.Context) ([]byte, error) {
	return s.run(ctx, "qstat -u '*' -xml -f -r")
}

// Accounting implements StatusSource.
func (s *CommandSource) Accounting(ctx context.Context, since time.Time) ([]byte, error) {
	out, err := s.run(ctx,
		fmt.Sprintf("qacct -j -b %s", since.UTC().Format(_qacctSinceLayout)))
	if err != nil {
		// qacct fails when no job has completed yet.
		log.WithError(err).Debug("qacct returned no accounting entries")
		return nil, nil
	}
	return out, nil
}

// RemoteTime implements StatusSource.
func (s *CommandSource) RemoteTime(ctx context.Context) (time.Time, error) {
	out, err := s.run(ctx, "date -u +%Y-%m-%dT%H:%M:%S")
	if err != nil {
		return time.Time{}, err
	}
	value := strings.TrimSpace(string(out))
	t, err := time.ParseInLocation(_remoteTimeLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, parseErrorf("date", value, "invalid remote time")
	}
	return t, nil
}

func (s *CommandSource) run(ctx context.Context, cmd string) ([]byte, error) {
	out, err := s.runner.Run(ctx, cmd)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to run %q", cmd)
	}
	return out, nil
}

// PollConfig controls how status documents are turned into a Snapshot.
type PollConfig struct {
	// Dimensions restricts resource values and requests. Empty keeps all.
	Dimensions []string
	// AccountingWindow is how far back completed jobs are averaged.
	AccountingWindow time.Duration
}

// Poll fetches every status document and builds a Snapshot. Parse
// failures are returned as *ParseError.
func Poll(ctx context.Context, src StatusSource, cfg PollConfig) (*Snapshot, error) {
	now, err := src.RemoteTime(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get remote time")
	}

	rawHosts, err := src.HostStatus(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get host status")
	}
	hosts, err := ParseHostStatus(rawHosts, cfg.Dimensions)
	if err != nil {
		return nil, err
	}

	rawQueue, err := src.QueueStatus(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get queue status")
	}
	status, err := ParseQueueStatus(rawQueue, cfg.Dimensions)
	if err != nil {
		return nil, err
	}

	rawAcct, err := src.Accounting(ctx, now.Add(-cfg.AccountingWindow))
	if err != nil {
		return nil, errors.Wrap(err, "failed to get accounting")
	}
	acct, err := ParseAccounting(rawAcct, now, cfg.AccountingWindow)
	if err != nil {
		return nil, err
	}

	return NewSnapshot(hosts, status, acct, now), nil
}

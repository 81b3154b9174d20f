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

package balancer

import (
	"time"

	"github.com/pkg/errors"

	"github.com/lexentbio/StarCluster/pkg/balancer/typefallback"
	"github.com/lexentbio/StarCluster/pkg/common/backoff"
	"github.com/lexentbio/StarCluster/pkg/scalar"
)

const (
	// default interval between two cycles.
	_defaultPollInterval = 60 * time.Second

	// default age a queued job must reach before it counts as demand,
	// and a node before it may be removed.
	_defaultWaitTime = 900 * time.Second

	// default period after a scale action during which the cluster is
	// not considered stabilized.
	_defaultStabilizationTime = 180 * time.Second

	_defaultAddNodesPerIteration = 1
	_defaultMaxNodes             = 1

	// default history of completed jobs used for average durations.
	_defaultAccountingWindow = time.Hour

	// default timeout of one status poll.
	_defaultPollTimeout = 2 * time.Minute

	// default interval between two polls of a request status.
	_defaultRequestPollInterval = 5 * time.Second

	// reference duration of a job: shorter jobs need fewer new nodes.
	_durationReference = time.Hour
)

// Config is the configuration of the balancer.
type Config struct {
	// PollInterval is the delay between two cycles.
	PollInterval time.Duration `yaml:"poll_interval"`
	// WaitTime is how long a job must be queued before it counts as
	// demand, and how long a node must run before it can be removed.
	WaitTime time.Duration `yaml:"wait_time"`
	// StabilizationTime is how long after a scale action the cluster is
	// assumed to be in transition.
	StabilizationTime time.Duration `yaml:"stabilization_time"`
	// AddNodesPerIteration caps the nodes added by one cycle.
	AddNodesPerIteration int `yaml:"add_nodes_per_iteration"`
	// MaxNodes caps the number of worker nodes of the cluster.
	MaxNodes int `yaml:"max_nodes"`
	// MinNodes is the number of worker nodes never removed.
	MinNodes int `yaml:"min_nodes"`

	// InstanceType is the preferred type requested without type
	// fallback.
	InstanceType string `yaml:"instance_type"`
	// Dimensions are the resource dimensions jobs and hosts are compared
	// on. Empty keeps all.
	Dimensions []string `yaml:"dimensions"`
	// NodeTypes is the capacity of every node type that can be added.
	NodeTypes map[string]map[string]float64 `yaml:"node_types"`

	// AccountingWindow is how far back completed jobs are averaged.
	AccountingWindow time.Duration `yaml:"accounting_window"`
	// PollTimeout bounds one status poll.
	PollTimeout time.Duration `yaml:"poll_timeout"`
	// RequestPollInterval is the delay between two request status polls
	// without type fallback.
	RequestPollInterval time.Duration `yaml:"request_poll_interval"`

	// DryRun logs decisions without adding or removing nodes.
	DryRun bool `yaml:"dry_run"`

	TypeFallback typefallback.Config `yaml:"type_fallback"`
	Retry        backoff.Config      `yaml:"retry"`
}

func (c *Config) normalize() {
	if c.PollInterval <= 0 {
		c.PollInterval = _defaultPollInterval
	}
	if c.WaitTime <= 0 {
		c.WaitTime = _defaultWaitTime
	}
	if c.StabilizationTime <= 0 {
		c.StabilizationTime = _defaultStabilizationTime
	}
	if c.AddNodesPerIteration <= 0 {
		c.AddNodesPerIteration = _defaultAddNodesPerIteration
	}
	if c.MaxNodes <= 0 {
		c.MaxNodes = _defaultMaxNodes
	}
	if c.MinNodes < 0 {
		c.MinNodes = 0
	}
	if c.AccountingWindow <= 0 {
		c.AccountingWindow = _defaultAccountingWindow
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = _defaultPollTimeout
	}
	if c.RequestPollInterval <= 0 {
		c.RequestPollInterval = _defaultRequestPollInterval
	}
	c.Retry.Normalize()
}

// Catalog builds the node type catalog of the configuration.
func (c *Config) Catalog() (*scalar.Catalog, error) {
	if len(c.NodeTypes) == 0 {
		return nil, errors.New("no node types configured")
	}
	return scalar.NewCatalog(c.NodeTypes)
}

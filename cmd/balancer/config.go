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

package main

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/lexentbio/StarCluster/pkg/balancer"
	"github.com/lexentbio/StarCluster/pkg/common/leader"
	"github.com/lexentbio/StarCluster/pkg/common/logging"
	"github.com/lexentbio/StarCluster/pkg/common/metrics"
	"github.com/lexentbio/StarCluster/pkg/provisioner/ec2spot"
	"github.com/lexentbio/StarCluster/pkg/sge"
)

const _defaultHTTPPort = 5290

// Config is the configuration of the balancer service.
type Config struct {
	Balancer     balancer.Config       `yaml:"balancer"`
	EC2          ec2spot.Config        `yaml:"ec2"`
	SGE          sge.SSHConfig         `yaml:"sge"`
	Election     leader.ElectionConfig `yaml:"election"`
	Metrics      metrics.Config        `yaml:"metrics"`
	SentryConfig logging.SentryConfig  `yaml:"sentry"`

	// HTTPPort serves /health, /metrics and /logging-level.
	HTTPPort int `yaml:"http_port"`

	// MemoryDimension is the grid complex matched against the memory of
	// an instance type when its capacity is derived.
	MemoryDimension string `yaml:"memory_dimension"`
}

// Redacted returns the config without its secrets, for logging.
func (c Config) Redacted() interface{} {
	if c.EC2.UserData != "" {
		c.EC2.UserData = "REDACTED"
	}
	if c.SentryConfig.DSN != "" {
		c.SentryConfig.DSN = "REDACTED"
	}
	return c
}

// nodeTypes lists every instance type the balancer may request.
func (c *Config) nodeTypes() []string {
	seen := make(map[string]bool)
	var types []string
	add := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}
	add(c.Balancer.InstanceType)
	add(c.Balancer.TypeFallback.PrimaryType)
	add(c.Balancer.TypeFallback.FallbackType)
	for t := range c.Balancer.NodeTypes {
		add(t)
	}
	return types
}

// fillNodeTypes derives the capacity of node types configured without
// one from EC2 instance type data.
func (c *Config) fillNodeTypes() error {
	var missing []string
	for _, t := range c.nodeTypes() {
		if len(c.Balancer.NodeTypes[t]) == 0 {
			missing = append(missing, t)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	capacities, err := ec2spot.InstanceCapacities(missing, c.MemoryDimension)
	if err != nil {
		return errors.Wrap(err, "failed to derive node type capacities")
	}
	if c.Balancer.NodeTypes == nil {
		c.Balancer.NodeTypes = make(map[string]map[string]float64)
	}
	for t, capacity := range capacities {
		log.WithFields(log.Fields{
			"instance_type": t,
			"capacity":      capacity,
		}).Info("Derived node type capacity")
		c.Balancer.NodeTypes[t] = capacity
	}
	return nil
}

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

package ec2spot

import (
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	_defaultRateLimit          = 5.0
	_defaultBurst              = 5
	_defaultProductDescription = "Linux/UNIX"

	// Tags set on the requests and instances of a cluster.
	_clusterTag = "starcluster:cluster"
	_roleTag    = "starcluster:role"
	_requestTag = "starcluster:request"
	_aliasTag   = "alias"

	_roleMaster = "master"
	_roleNode   = "node"

	_aliasFormat = "node%03d"
)

// Config is the configuration of EC2 spot instances of a cluster.
type Config struct {
	Region string `yaml:"region" validate:"nonzero"`
	// Cluster is the value of the cluster tag of the cluster's
	// instances and spot requests.
	Cluster string `yaml:"cluster" validate:"nonzero"`
	// Zone is the availability zone instances are launched in.
	Zone string `yaml:"zone"`

	ImageID            string   `yaml:"image_id"`
	KeyName            string   `yaml:"key_name"`
	SecurityGroupIDs   []string `yaml:"security_group_ids"`
	SubnetID           string   `yaml:"subnet_id"`
	IAMInstanceProfile string   `yaml:"iam_instance_profile"`
	// UserData is passed to the instances, base64 encoded.
	UserData string `yaml:"user_data"`
	// MaxPrice is the maximum hourly price of a spot instance. Empty
	// means the on-demand price.
	MaxPrice string `yaml:"max_price"`
	// ProductDescription filters spot prices.
	ProductDescription string `yaml:"product_description"`

	// RateLimit is the number of EC2 calls per second.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

func (c *Config) normalize() error {
	if c.Region == "" {
		return errors.New("aws region is required")
	}
	if c.Cluster == "" {
		return errors.New("cluster tag is required")
	}
	if c.RateLimit <= 0 {
		c.RateLimit = _defaultRateLimit
	}
	if c.Burst <= 0 {
		c.Burst = _defaultBurst
	}
	if c.ProductDescription == "" {
		c.ProductDescription = _defaultProductDescription
	}
	return nil
}

func (c *Config) limiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(c.RateLimit), c.Burst)
}

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

package typefallback

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/yarpc/yarpcerrors"
)

const (
	_defaultPriceRatio    = 3.0
	_defaultPriceCacheTTL = 2 * time.Minute
	_defaultCutoff        = "01:00"
	_defaultGrace         = 6 * time.Minute
	_defaultPollInterval  = 5 * time.Second
	_minPollInterval      = time.Second
	_maxPollInterval      = time.Minute
	_cutoffLayout         = "15:04"
)

// Config is the configuration of spot instance acquisition.
type Config struct {
	// PrimaryType is the instance type tried first, while its price is
	// decent and before the daily cutoff.
	PrimaryType string `yaml:"primary_type"`
	// FallbackType is the instance type requested when the primary one
	// is too expensive or did not come up in time.
	FallbackType string `yaml:"fallback_type"`
	// Zone is the availability zone used for spot price lookups.
	Zone string `yaml:"zone"`
	// PriceRatio is how many times the fallback price the primary price
	// may be while still being decent.
	PriceRatio float64 `yaml:"price_ratio"`
	// PriceCacheTTL is how long spot prices are reused.
	PriceCacheTTL time.Duration `yaml:"price_cache_ttl"`
	// Cutoff is the UTC time of day, as HH:MM, after which the primary
	// type is no longer waited for. It applies on the day after the
	// attempt started.
	Cutoff string `yaml:"cutoff"`
	// Grace is how long past its start an attempt waits for the primary
	// type once the cutoff is reached.
	Grace time.Duration `yaml:"grace"`
	// PollInterval is the delay between two request status polls.
	PollInterval time.Duration `yaml:"poll_interval"`

	cutoff time.Duration
}

// Enabled returns true when both instance types are configured.
func (c *Config) Enabled() bool {
	return c.PrimaryType != "" && c.FallbackType != ""
}

// Normalize fills unset fields with defaults and validates the cutoff.
func (c *Config) Normalize() error {
	if c.PriceRatio <= 0 {
		c.PriceRatio = _defaultPriceRatio
	}
	if c.PriceCacheTTL <= 0 {
		c.PriceCacheTTL = _defaultPriceCacheTTL
	}
	if c.Cutoff == "" {
		c.Cutoff = _defaultCutoff
	}
	if c.Grace <= 0 {
		c.Grace = _defaultGrace
	}
	if c.PollInterval <= 0 {
		c.PollInterval = _defaultPollInterval
	}
	if c.PollInterval < _minPollInterval {
		c.PollInterval = _minPollInterval
	}
	if c.PollInterval > _maxPollInterval {
		c.PollInterval = _maxPollInterval
	}

	t, err := time.Parse(_cutoffLayout, c.Cutoff)
	if err != nil {
		return yarpcerrors.InvalidArgumentErrorf("invalid cutoff %q, want HH:MM", c.Cutoff)
	}
	c.cutoff = time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute

	if c.PrimaryType != "" && c.PrimaryType == c.FallbackType {
		return errors.Errorf("primary and fallback types are both %s", c.PrimaryType)
	}
	return nil
}

// CutoffAfter returns the cutoff of an attempt started at start: the
// cutoff time of day, in UTC, on the following day.
func (c *Config) CutoffAfter(start time.Time) time.Time {
	st := start.UTC()
	day := time.Date(st.Year(), st.Month(), st.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, 1).Add(c.cutoff)
}

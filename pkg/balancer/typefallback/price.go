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
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/lexentbio/StarCluster/pkg/provisioner"
)

// priceCache keeps spot prices of the primary and fallback types for a
// short time, shared by successive attempts.
type priceCache struct {
	sync.Mutex

	cfg         *Config
	provisioner provisioner.Provisioner
	metrics     *Metrics
	prices      Prices
}

func newPriceCache(cfg *Config, p provisioner.Provisioner, metrics *Metrics) *priceCache {
	return &priceCache{cfg: cfg, provisioner: p, metrics: metrics}
}

// get returns cached prices, looking them up again once expired.
func (c *priceCache) get(ctx context.Context, now time.Time) (Prices, error) {
	c.Lock()
	defer c.Unlock()

	if !c.prices.Expiry.IsZero() && now.Before(c.prices.Expiry) {
		return c.prices, nil
	}

	primary, err := c.provisioner.SpotPrice(ctx, c.cfg.PrimaryType, c.cfg.Zone)
	if err != nil {
		c.metrics.PriceLookupFail.Inc(1)
		return Prices{}, errors.Wrapf(err, "failed to get spot price of %s", c.cfg.PrimaryType)
	}
	fallback, err := c.provisioner.SpotPrice(ctx, c.cfg.FallbackType, c.cfg.Zone)
	if err != nil {
		c.metrics.PriceLookupFail.Inc(1)
		return Prices{}, errors.Wrapf(err, "failed to get spot price of %s", c.cfg.FallbackType)
	}
	c.metrics.PriceLookup.Inc(1)

	c.prices = Prices{
		Primary:  primary,
		Fallback: fallback,
		Expiry:   now.Add(c.cfg.PriceCacheTTL),
	}
	log.WithFields(log.Fields{
		"primary_type":   c.cfg.PrimaryType,
		"primary_price":  primary,
		"fallback_type":  c.cfg.FallbackType,
		"fallback_price": fallback,
	}).Debug("spot prices refreshed")
	return c.prices, nil
}

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

package provisioner

import (
	"context"

	"github.com/pborman/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"

	"github.com/lexentbio/StarCluster/pkg/common/backoff"
)

// retrying retries the calls of a Provisioner with backoff.
type retrying struct {
	p       Provisioner
	policy  backoff.RetryPolicy
	metrics *Metrics
}

// NewRetrying returns a Provisioner retrying failed calls of p according
// to the policy. Errors wrapped with backoff.Permanent are not retried.
func NewRetrying(p Provisioner, policy backoff.RetryPolicy, scope tally.Scope) Provisioner {
	return &retrying{
		p:       p,
		policy:  policy,
		metrics: NewMetrics(scope),
	}
}

func (r *retrying) do(ctx context.Context, call string, f func() error) error {
	attempt := 0
	err := backoff.Retry(ctx, func() error {
		attempt++
		err := f()
		if err != nil {
			r.metrics.CallFail.Inc(1)
			log.WithError(err).WithFields(log.Fields{
				"call":    call,
				"attempt": attempt,
			}).Warn("provisioner call failed")
		}
		return err
	}, r.policy)
	if err != nil {
		r.metrics.CallGiveUp.Inc(1)
		return err
	}
	r.metrics.CallSuccess.Inc(1)
	if attempt > 1 {
		r.metrics.CallRetried.Inc(1)
	}
	return nil
}

func (r *retrying) RequestInstances(
	ctx context.Context,
	instanceType string,
	count int,
) (h Handle, err error) {
	// every attempt must reuse the token, or a lost response duplicates
	// the request
	if _, ok := RequestToken(ctx); !ok {
		ctx = WithRequestToken(ctx, uuid.New())
	}
	err = r.do(ctx, "request_instances", func() error {
		h, err = r.p.RequestInstances(ctx, instanceType, count)
		return err
	})
	return h, err
}

func (r *retrying) RequestStatus(ctx context.Context, h Handle) (s Status, err error) {
	err = r.do(ctx, "request_status", func() error {
		s, err = r.p.RequestStatus(ctx, h)
		return err
	})
	return s, err
}

func (r *retrying) Cancel(ctx context.Context, h Handle) error {
	return r.do(ctx, "cancel", func() error {
		return r.p.Cancel(ctx, h)
	})
}

func (r *retrying) Terminate(ctx context.Context, ids []string) error {
	return r.do(ctx, "terminate", func() error {
		return r.p.Terminate(ctx, ids)
	})
}

func (r *retrying) SpotPrice(
	ctx context.Context,
	instanceType string,
	zone string,
) (price float64, err error) {
	err = r.do(ctx, "spot_price", func() error {
		price, err = r.p.SpotPrice(ctx, instanceType, zone)
		return err
	})
	return price, err
}

func (r *retrying) RunningNodes(ctx context.Context) (nodes []Node, err error) {
	err = r.do(ctx, "running_nodes", func() error {
		nodes, err = r.p.RunningNodes(ctx)
		return err
	})
	return nodes, err
}

func (r *retrying) LatestRequest(ctx context.Context) (req *Request, err error) {
	err = r.do(ctx, "latest_request", func() error {
		req, err = r.p.LatestRequest(ctx)
		return err
	})
	return req, err
}

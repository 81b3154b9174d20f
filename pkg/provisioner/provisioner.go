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

// Package provisioner defines how the balancer acquires and releases
// cluster nodes.
package provisioner

import (
	"context"
	"strings"
	"time"
)

// Status is the state of an instance request.
type Status int

const (
	// StatusPending is a request which is not fulfilled yet.
	StatusPending Status = iota + 1
	// StatusFulfilled is a request whose instances are running.
	StatusFulfilled
	// StatusFailed is a request which will never be fulfilled.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFulfilled:
		return "fulfilled"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal returns true once the request is no longer in flight.
func (s Status) Terminal() bool {
	return s == StatusFulfilled || s == StatusFailed
}

// Handle identifies an instance request. It can be persisted and used
// by another process.
type Handle string

// IDs returns the provider request ids held by the handle.
func (h Handle) IDs() []string {
	if h == "" {
		return nil
	}
	return strings.Split(string(h), ",")
}

// NewHandle joins provider request ids into a Handle.
func NewHandle(ids ...string) Handle {
	return Handle(strings.Join(ids, ","))
}

// Request describes an instance request known to the provider.
type Request struct {
	Handle       Handle
	InstanceType string
	Status       Status
	CreateTime   time.Time
}

type requestTokenKey struct{}

// WithRequestToken returns a context carrying the idempotency token of an
// instance request. Calls of RequestInstances with the same token create
// the request at most once.
func WithRequestToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, requestTokenKey{}, token)
}

// RequestToken returns the idempotency token carried by ctx.
func RequestToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(requestTokenKey{}).(string)
	return token, ok && token != ""
}

// Node is a running cluster node.
type Node struct {
	ID           string
	Alias        string
	Hostname     string
	InstanceType string
	LaunchTime   time.Time
	Master       bool
}

// Names returns the names the grid engine may know the node by.
func (n Node) Names() []string {
	var names []string
	for _, name := range []string{n.Alias, n.Hostname} {
		if name != "" {
			names = append(names, name)
		}
	}
	if i := strings.IndexByte(n.Hostname, '.'); i > 0 {
		names = append(names, n.Hostname[:i])
	}
	return names
}

// Provisioner acquires and releases cluster nodes.
type Provisioner interface {
	// RequestInstances asks for count instances of a type. It returns
	// without waiting for the instances. A token set with
	// WithRequestToken makes the call idempotent.
	RequestInstances(ctx context.Context, instanceType string, count int) (Handle, error)
	// RequestStatus returns the state of a request.
	RequestStatus(ctx context.Context, h Handle) (Status, error)
	// Cancel cancels a request. Instances may still be launched if the
	// request was fulfilled concurrently.
	Cancel(ctx context.Context, h Handle) error
	// Terminate terminates nodes by id.
	Terminate(ctx context.Context, ids []string) error
	// SpotPrice returns the current hourly price of a type in a zone.
	SpotPrice(ctx context.Context, instanceType string, zone string) (float64, error)
	// RunningNodes returns the running nodes of the cluster in launch order.
	RunningNodes(ctx context.Context) ([]Node, error)
	// LatestRequest returns the most recent request made for the cluster,
	// nil when there is none.
	LatestRequest(ctx context.Context) (*Request, error)
}

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

package leader

import (
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"
)

const (
	// connErrRetry is how long to wait before campaigning again after a
	// connection error.
	connErrRetry = 30 * time.Second

	// _metricsUpdateTick is the period between two emissions of the
	// is_leader gauge.
	_metricsUpdateTick = 10 * time.Second
)

// ElectionConfig selects the election backend. etcd is used when
// endpoints are set, ZooKeeper when servers are set, and a standalone
// candidate which is always leader otherwise.
type ElectionConfig struct {
	// ZKServers are ZooKeeper servers as host:port.
	ZKServers []string `yaml:"zk_servers"`

	// EtcdEndpoints are etcd v3 endpoints.
	EtcdEndpoints []string `yaml:"etcd_endpoints"`

	// Root is the path under which the leader key lives, for example
	// /starcluster/mycluster.
	Root string `yaml:"root"`

	// SessionTTL is the etcd lease ttl. A leader which cannot reach etcd
	// loses leadership after it expires.
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// NewCandidate creates the candidate of the configured backend.
func NewCandidate(
	cfg ElectionConfig,
	parent tally.Scope,
	role string,
	nomination Nomination) (Candidate, error) {
	if role == "" {
		return nil, errors.New("a role is required to campaign")
	}
	scope := parent.SubScope("election")

	switch {
	case len(cfg.EtcdEndpoints) > 0:
		return newEtcdCandidate(cfg, scope, role, nomination)
	case len(cfg.ZKServers) > 0:
		return newZKCandidate(cfg, scope, role, nomination)
	}
	log.WithField("role", role).
		Warn("No election backend configured, running standalone")
	return newStandalone(scope, role, nomination), nil
}

// leaderPath returns the key of the leader of a role.
func leaderPath(rootPath string, role string) string {
	// libkv rejects a leading /.
	return strings.TrimPrefix(path.Join(rootPath, role, "leader"), "/")
}

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
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	_ "go.uber.org/automaxprocs"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/lexentbio/StarCluster/pkg/balancer"
	"github.com/lexentbio/StarCluster/pkg/common"
	common_config "github.com/lexentbio/StarCluster/pkg/common/config"
	"github.com/lexentbio/StarCluster/pkg/common/leader"
	"github.com/lexentbio/StarCluster/pkg/common/logging"
	"github.com/lexentbio/StarCluster/pkg/common/metrics"
	"github.com/lexentbio/StarCluster/pkg/provisioner/ec2spot"
	"github.com/lexentbio/StarCluster/pkg/sge"
)

const _runtimeMetricsInterval = 10 * time.Second

var (
	version string
	app     = kingpin.New(common.BalancerRole, "SGE cluster load balancer")

	debug = app.Flag(
		"debug", "enable debug logging").
		Short('d').
		Default("false").
		Envar("ENABLE_DEBUG_LOGGING").
		Bool()

	enableSentry = app.Flag(
		"enable-sentry", "enable logging hook up to sentry").
		Default("false").
		Envar("ENABLE_SENTRY_LOGGING").
		Bool()

	cfgFiles = app.Flag(
		"config",
		"YAML config files (can be provided multiple times to merge configs)").
		Short('c').
		Required().
		ExistingFiles()

	httpPort = app.Flag(
		"http-port",
		"Balancer HTTP port (http_port override) (set $HTTP_PORT to override)").
		Envar("HTTP_PORT").
		Int()

	dryRun = app.Flag(
		"dry-run", "log decisions without changing the cluster (balancer.dry_run override)").
		Default("false").
		Envar("DRY_RUN").
		Bool()

	cluster = app.Flag(
		"cluster", "Cluster tag (ec2.cluster override) (set $CLUSTER to override)").
		Envar(common.ClusterEnv).
		String()

	electionZkServers = app.Flag(
		"election-zk-server",
		"Election Zookeeper servers. Specify multiple times for multiple servers "+
			"(election.zk_servers override) (set $ELECTION_ZK_SERVERS to override)").
		Envar("ELECTION_ZK_SERVERS").
		Strings()

	etcdEndpoints = app.Flag(
		"etcd-endpoint",
		"Election etcd endpoints. Specify multiple times for multiple endpoints "+
			"(election.etcd_endpoints override) (set $ETCD_ENDPOINTS to override)").
		Envar("ETCD_ENDPOINTS").
		Strings()
)

// nomination logs leadership changes. The balancer checks leadership
// at the start of every cycle.
type nomination struct {
	id string
}

func (n nomination) GetID() string { return n.id }

func (n nomination) GainedLeadershipCallback() error {
	log.Info("Balancer gained leadership, scaling is active")
	return nil
}

func (n nomination) LostLeadershipCallback() error {
	log.Info("Balancer lost leadership, scaling is paused")
	return nil
}

func (n nomination) ShutDownCallback() error {
	log.Info("Balancer left the election")
	return nil
}

// applyFlags overrides the loaded config with CLI flags.
func applyFlags(cfg *Config) {
	if *httpPort != 0 {
		cfg.HTTPPort = *httpPort
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = _defaultHTTPPort
	}
	if *dryRun {
		cfg.Balancer.DryRun = true
	}
	if *cluster != "" {
		cfg.EC2.Cluster = *cluster
	}
	if len(*electionZkServers) > 0 {
		cfg.Election.ZKServers = *electionZkServers
	}
	if len(*etcdEndpoints) > 0 {
		cfg.Election.EtcdEndpoints = *etcdEndpoints
	}
}

func main() {
	app.Version(version)
	app.HelpFlag.Short('h')
	kingpin.MustParse(app.Parse(os.Args[1:]))

	fields := log.Fields{common.AppLogField: app.Name}
	if v := os.Getenv(common.ClusterEnv); v != "" {
		fields[common.ClusterLogField] = v
	}
	log.SetFormatter(
		&logging.LogFieldFormatter{
			Formatter: &logging.SecretsFormatter{JSONFormatter: &log.JSONFormatter{}},
			Fields:    fields,
		},
	)

	initialLevel := log.InfoLevel
	if *debug {
		initialLevel = log.DebugLevel
	}
	log.SetLevel(initialLevel)

	log.WithField("files", *cfgFiles).Info("Loading balancer config")
	var cfg Config
	if err := common_config.Parse(&cfg, *cfgFiles...); err != nil {
		log.WithError(err).Fatal("Cannot parse yaml config")
	}
	applyFlags(&cfg)

	if *enableSentry {
		if err := logging.ConfigureSentry(&cfg.SentryConfig, cfg.EC2.Cluster); err != nil {
			log.WithError(err).Fatal("Failed to configure sentry")
		}
	}

	if err := cfg.fillNodeTypes(); err != nil {
		log.WithError(err).Fatal("Invalid node types")
	}
	log.WithField(common.ConfigLogField, cfg).Info("Completed loading balancer config")

	rootScope, scopeCloser, mux, err := metrics.InitMetricScope(
		&cfg.Metrics,
		common.BalancerRole,
		nil,
	)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize metrics")
	}
	defer scopeCloser.Close()

	mux.HandleFunc(logging.LevelOverwrite, logging.LevelOverwriteHandler(initialLevel))

	runner, err := sge.NewSSHRunner(cfg.SGE)
	if err != nil {
		log.WithError(err).Fatal("Cannot create ssh runner to the grid master")
	}
	defer runner.Close()
	source := sge.NewCommandSource(runner, cfg.Balancer.Dimensions)

	ec2, err := ec2spot.New(cfg.EC2)
	if err != nil {
		log.WithError(err).Fatal("Cannot create ec2 spot provisioner")
	}

	candidate, err := leader.NewCandidate(
		cfg.Election,
		rootScope,
		common.BalancerRole,
		nomination{id: leader.NewID(cfg.HTTPPort)},
	)
	if err != nil {
		log.WithError(err).Fatal("Unable to create leader candidate")
	}

	b, err := balancer.New(cfg.Balancer, source, ec2, candidate, rootScope)
	if err != nil {
		log.WithError(err).Fatal("Cannot create balancer")
	}

	collector := metrics.NewRuntimeCollector(
		rootScope,
		_runtimeMetricsInterval,
		candidate.IsLeader,
	)
	if cfg.Metrics.RuntimeMetrics {
		collector.Start()
		defer collector.Stop()
	}

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		log.WithField("addr", addr).Info("Serving operations endpoints")
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.WithError(err).Fatal("Operations server failed")
		}
	}()

	if err := candidate.Start(); err != nil {
		log.WithError(err).Fatal("Unable to start leader candidate")
	}
	b.Start()

	log.WithFields(log.Fields{
		"version": version,
		"dry_run": cfg.Balancer.DryRun,
	}).Info("Started balancer")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	s := <-sig
	log.WithField("signal", s).Info("Shutting down balancer")

	b.Stop()
	if err := candidate.Stop(); err != nil {
		log.WithError(err).Error("Failed to leave election")
	}
}

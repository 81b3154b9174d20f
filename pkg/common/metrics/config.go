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

// Package metrics builds the tally root scope and the operations mux.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cactus/go-statsd-client/statsd"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"
	tallyprom "github.com/uber-go/tally/prometheus"
	tallystatsd "github.com/uber-go/tally/statsd"
)

const (
	// MetricsPath serves Prometheus metrics.
	MetricsPath = "/metrics"
	// HealthPath reports whether the service is healthy.
	HealthPath = "/health"

	_defaultFlushInterval = time.Second
)

// Config selects the metrics reporter. Prometheus wins when both are
// enabled. Without a reporter metrics go to a noop statsd client.
type Config struct {
	Prometheus    *PrometheusConfig `yaml:"prometheus"`
	Statsd        *StatsdConfig     `yaml:"statsd"`
	FlushInterval time.Duration     `yaml:"flush_interval"`
	// RuntimeMetrics enables the collector of Go runtime metrics.
	RuntimeMetrics bool `yaml:"runtime_metrics"`
}

// PrometheusConfig enables the Prometheus reporter.
type PrometheusConfig struct {
	Enable bool `yaml:"enable"`
}

// StatsdConfig enables the statsd reporter.
type StatsdConfig struct {
	Enable   bool   `yaml:"enable"`
	Endpoint string `yaml:"endpoint"`
}

// HealthFunc returns nil while the service is healthy.
type HealthFunc func() error

// InitMetricScope returns a root scope, its closer and a mux serving
// /health and, with Prometheus, /metrics.
func InitMetricScope(
	cfg *Config,
	rootMetricScope string,
	health HealthFunc) (tally.Scope, io.Closer, *http.ServeMux, error) {
	mux := http.NewServeMux()
	var reporter tally.StatsReporter
	var cachedReporter tally.CachedStatsReporter
	separator := "."

	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = _defaultFlushInterval
	}

	switch {
	case cfg.Prometheus != nil && cfg.Prometheus.Enable:
		// tally rejects "-" in prometheus names
		rootMetricScope = strings.Replace(rootMetricScope, "-", "_", -1)
		separator = tallyprom.DefaultSeparator
		promReporter := tallyprom.NewReporter(tallyprom.Options{})
		cachedReporter = promReporter
		log.Infof("Setting up prometheus metrics handler at %s", MetricsPath)
		mux.Handle(MetricsPath, promReporter.HTTPHandler())
	case cfg.Statsd != nil && cfg.Statsd.Enable:
		log.Infof("Metrics configured with statsd endpoint %s", cfg.Statsd.Endpoint)
		c, err := statsd.NewClient(cfg.Statsd.Endpoint, "")
		if err != nil {
			return nil, nil, nil, errors.Wrap(err, "unable to setup statsd client")
		}
		reporter = tallystatsd.NewReporter(c, tallystatsd.Options{})
	default:
		log.Warn("No metrics backends configured, using the statsd.NoopClient")
		c, _ := statsd.NewNoopClient()
		reporter = tallystatsd.NewReporter(c, tallystatsd.Options{})
	}

	mux.HandleFunc(HealthPath, healthHandler(health))

	scope, closer := tally.NewRootScope(tally.ScopeOptions{
		Prefix:         rootMetricScope,
		Tags:           map[string]string{},
		Reporter:       reporter,
		CachedReporter: cachedReporter,
		Separator:      separator,
	}, flush)
	return scope, closer, mux, nil
}

func healthHandler(health HealthFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if health != nil {
			if err := health(); err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprintf(w, "(╥﹏╥) %v\n", err)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `\(★ω★)/`)
	}
}

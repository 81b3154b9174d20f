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

package logging

import (
	"time"

	"github.com/evalphobia/logrus_sentry"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/lexentbio/StarCluster/pkg/common"
)

const _defaultSentryTimeout = 5 * time.Second

// SentryConfig configures reporting of warnings and errors to Sentry.
type SentryConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
	// Tags are attached to every event.
	Tags map[string]string `yaml:"tags"`
	// Timeout bounds the delivery of one event.
	Timeout time.Duration `yaml:"timeout"`
}

// ConfigureSentry reports warnings and errors of the balancer of cluster
// to Sentry, with stack traces. Disabled config is a no-op.
func ConfigureSentry(cfg *SentryConfig, cluster string) error {
	if cfg == nil || !cfg.Enabled {
		return nil
	}

	tags := map[string]string{"service": common.BalancerRole}
	if cluster != "" {
		tags[common.ClusterLogField] = cluster
	}
	for k, v := range cfg.Tags {
		tags[k] = v
	}

	hook, err := logrus_sentry.NewWithTagsSentryHook(cfg.DSN, tags, []log.Level{
		log.PanicLevel,
		log.FatalLevel,
		log.ErrorLevel,
		log.WarnLevel,
	})
	if err != nil {
		return errors.Wrap(err, "invalid sentry dsn")
	}
	hook.Timeout = cfg.Timeout
	if hook.Timeout == 0 {
		hook.Timeout = _defaultSentryTimeout
	}
	hook.StacktraceConfiguration.Enable = true
	hook.StacktraceConfiguration.Level = log.ErrorLevel

	log.AddHook(hook)
	log.WithField(common.ClusterLogField, cluster).Info("reporting to sentry")
	return nil
}

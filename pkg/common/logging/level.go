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

// Package logging configures logrus for the balancer.
package logging

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/atomic"
)

const (
	// LevelOverwrite is the default endpoint for overwrite level handler.
	LevelOverwrite = "/logging-level"

	_level       = "level"
	_duration    = "duration"
	_maxDuration = time.Hour
	_usage       = "usage: GET `/logging-level?level=[info|debug|trace]&duration=<duration>`"
)

// levelOverwrite raises the log level for a while. A new overwrite
// replaces the pending reset.
type levelOverwrite struct {
	sync.Mutex
	initial *atomic.Int32
	reset   *time.Timer
}

// LevelOverwriteHandler sets the log level to initialLevel and returns a
// handler raising it for a duration.
func LevelOverwriteHandler(initialLevel log.Level) http.HandlerFunc {
	log.SetLevel(initialLevel)
	o := &levelOverwrite{initial: atomic.NewInt32(int32(initialLevel))}
	return o.serve
}

func (o *levelOverwrite) serve(w http.ResponseWriter, r *http.Request) {
	level, duration, err := parseParams(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintln(w, err.Error())
		fmt.Fprintln(w, _usage)
		return
	}

	o.Lock()
	if o.reset != nil {
		o.reset.Stop()
	}
	log.WithFields(log.Fields{
		"new_level": level,
		"duration":  duration,
	}).Info("Setting log level to new level")
	log.SetLevel(level)
	o.reset = time.AfterFunc(duration, o.restore)
	o.Unlock()

	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "Level changed to %s for the next %v.\n", level, duration)
}

func (o *levelOverwrite) restore() {
	level := log.Level(o.initial.Load())
	log.WithField("initial_level", level).Info("Resetting log level after timer")
	log.SetLevel(level)
}

func parseParams(r *http.Request) (log.Level, time.Duration, error) {
	values := r.URL.Query()
	var missing []string
	for _, name := range []string{_level, _duration} {
		if values.Get(name) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return 0, 0, errors.Errorf("Required params not set: %s", strings.Join(missing, ","))
	}

	level, err := log.ParseLevel(values.Get(_level))
	if err != nil {
		return 0, 0, err
	}
	if level < log.InfoLevel {
		return 0, 0, errors.Errorf("New Level %s is not info, debug or trace", level)
	}

	duration, err := time.ParseDuration(values.Get(_duration))
	if err != nil {
		return 0, 0, err
	}
	if duration <= 0 || duration > _maxDuration {
		return 0, 0, errors.Errorf("duration must be within (0, %v]", _maxDuration)
	}
	return level, duration, nil
}

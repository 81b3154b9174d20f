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

package metrics

import (
	"runtime"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"

	"github.com/lexentbio/StarCluster/pkg/common/lifecycle"
)

// _numGCThreshold is the size of the MemStats.PauseNs ring.
const _numGCThreshold = uint32(256)

type runtimeMetrics struct {
	numGoRoutines   tally.Gauge
	goMaxProcs      tally.Gauge
	memoryAllocated tally.Gauge
	memoryHeap      tally.Gauge
	memoryStack     tally.Gauge
	numGC           tally.Counter
	gcPause         tally.Timer

	heartbeat tally.Gauge
	leader    tally.Gauge
}

// RuntimeCollector periodically emits Go runtime metrics, a heartbeat
// and whether this process is the elected leader.
type RuntimeCollector struct {
	lf        lifecycle.LifeCycle
	interval  time.Duration
	isLeader  func() bool
	metrics   runtimeMetrics
	lastNumGC uint32
}

// NewRuntimeCollector creates a stopped collector. isLeader may be nil.
func NewRuntimeCollector(
	scope tally.Scope,
	interval time.Duration,
	isLeader func() bool) *RuntimeCollector {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	scope = scope.SubScope("runtime")
	return &RuntimeCollector{
		lf:       lifecycle.NewLifeCycle(),
		interval: interval,
		isLeader: isLeader,
		metrics: runtimeMetrics{
			numGoRoutines:   scope.Gauge("num_goroutines"),
			goMaxProcs:      scope.Gauge("gomaxprocs"),
			memoryAllocated: scope.Gauge("memory_allocated"),
			memoryHeap:      scope.Gauge("memory_heap"),
			memoryStack:     scope.Gauge("memory_stack"),
			numGC:           scope.Counter("memory_num_gc"),
			gcPause:         scope.Timer("memory_gc_pause"),
			heartbeat:       scope.Gauge("heartbeat"),
			leader:          scope.Gauge("leader"),
		},
		lastNumGC: memStats.NumGC,
	}
}

// Start starts collecting. It is a no-op when already started.
func (r *RuntimeCollector) Start() {
	if !r.lf.Start() {
		return
	}
	log.Info("Runtime metrics collector started")
	go func() {
		defer r.lf.StopComplete()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.generate()
			case <-r.lf.StopCh():
				return
			}
		}
	}()
}

// Stop stops collecting and waits for the collector to exit.
func (r *RuntimeCollector) Stop() {
	if !r.lf.Stop() {
		return
	}
	r.lf.Wait()
}

func (r *RuntimeCollector) generate() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	r.metrics.numGoRoutines.Update(float64(runtime.NumGoroutine()))
	r.metrics.goMaxProcs.Update(float64(runtime.GOMAXPROCS(0)))
	r.metrics.memoryAllocated.Update(float64(memStats.Alloc))
	r.metrics.memoryHeap.Update(float64(memStats.HeapAlloc))
	r.metrics.memoryStack.Update(float64(memStats.StackInuse))

	// NumGC only grows, modulo wrapping at 2^32.
	num := memStats.NumGC
	last := r.lastNumGC
	r.lastNumGC = num
	if delta := num - last; delta > 0 {
		r.metrics.numGC.Inc(int64(delta))
		if delta >= _numGCThreshold {
			last = num - _numGCThreshold
		}
		for i := last; i != num; i++ {
			r.metrics.gcPause.Record(time.Duration(memStats.PauseNs[i%_numGCThreshold]))
		}
	}

	r.metrics.heartbeat.Update(1)
	if r.isLeader != nil && r.isLeader() {
		r.metrics.leader.Update(1)
	} else {
		r.metrics.leader.Update(0)
	}
}

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

// Package lifecycle coordinates starting and stopping a background loop.
package lifecycle

import (
	"sync"
)

// LifeCycle tracks one run of a background loop at a time.
//
//	if lf.Start() {
//		go func() {
//			defer lf.StopComplete()
//			<-lf.StopCh()
//		}()
//	}
//	lf.Stop()
//	lf.Wait()
type LifeCycle interface {
	// Start begins a new run. It returns false while the previous run has
	// not called StopComplete.
	Start() bool
	// Stop returns false when no run is active.
	Stop() bool
	// StopCh is closed once the current run is stopped.
	StopCh() <-chan struct{}
	// StopComplete is called by the loop once it has exited.
	StopComplete()
	// Wait blocks until the latest run calls StopComplete.
	Wait()
}

type run struct {
	stopCh  chan struct{}
	doneCh  chan struct{}
	stopped bool
	done    bool
}

type lifeCycle struct {
	sync.Mutex
	cur *run
}

// NewLifeCycle returns a LifeCycle with no run.
func NewLifeCycle() LifeCycle {
	return &lifeCycle{}
}

func (l *lifeCycle) Start() bool {
	l.Lock()
	defer l.Unlock()
	if l.cur != nil && !l.cur.done {
		return false
	}
	l.cur = &run{
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	return true
}

func (l *lifeCycle) Stop() bool {
	l.Lock()
	defer l.Unlock()
	if l.cur == nil || l.cur.stopped || l.cur.done {
		return false
	}
	l.cur.stopped = true
	close(l.cur.stopCh)
	return true
}

func (l *lifeCycle) StopCh() <-chan struct{} {
	l.Lock()
	defer l.Unlock()
	if l.cur == nil || l.cur.done {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return l.cur.stopCh
}

func (l *lifeCycle) StopComplete() {
	l.Lock()
	defer l.Unlock()
	if l.cur == nil || l.cur.done {
		return
	}
	l.cur.done = true
	close(l.cur.doneCh)
}

func (l *lifeCycle) Wait() {
	l.Lock()
	r := l.cur
	l.Unlock()
	if r == nil {
		return
	}
	<-r.doneCh
}

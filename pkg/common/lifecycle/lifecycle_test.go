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

package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStartStop(t *testing.T) {
	lf := NewLifeCycle()
	assert.False(t, lf.Stop())
	assert.True(t, lf.Start())
	assert.False(t, lf.Start())

	stopCh := lf.StopCh()
	go func() {
		defer lf.StopComplete()
		<-stopCh
	}()

	assert.True(t, lf.Stop())
	assert.False(t, lf.Stop())
	lf.Wait()

	// Restartable once stopped.
	assert.True(t, lf.Start())
	assert.True(t, lf.Stop())
}

func TestStopChAfterStop(t *testing.T) {
	lf := NewLifeCycle()
	lf.Start()
	lf.Stop()

	select {
	case <-lf.StopCh():
	case <-time.After(time.Second):
		t.Fatal("stop channel not closed")
	}
}

func TestStopCompleteTwice(t *testing.T) {
	lf := NewLifeCycle()
	lf.StopComplete()
	lf.StopComplete()
	lf.Wait()
}

func TestWaitFollowsRestart(t *testing.T) {
	lf := NewLifeCycle()
	assert.True(t, lf.Start())
	assert.True(t, lf.Stop())
	// The first run has not exited yet.
	assert.False(t, lf.Start())
	lf.StopComplete()
	lf.Wait()

	assert.True(t, lf.Start())
	stopCh := lf.StopCh()
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		defer lf.StopComplete()
		<-stopCh
	}()
	assert.True(t, lf.Stop())
	lf.Wait()

	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("wait returned before the second run exited")
	}
}

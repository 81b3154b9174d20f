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
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestLevelOverwriteHandler(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)

	var handlerTests = []struct {
		url             string
		expectedCode    int
		containResponse string
		expectedLevel   log.Level
	}{
		{
			url:             "",
			expectedCode:    http.StatusBadRequest,
			containResponse: "Required params not set: level,duration",
		},
		{
			url:             "?level=info",
			expectedCode:    http.StatusBadRequest,
			containResponse: "Required params not set: duration",
		},
		{
			url:             "?level=debug&duration=3s",
			expectedCode:    http.StatusOK,
			containResponse: "Level changed to debug",
			expectedLevel:   log.DebugLevel,
		},
		{
			url:             "?level=trace&duration=3s",
			expectedCode:    http.StatusOK,
			containResponse: "Level changed to trace",
			expectedLevel:   log.TraceLevel,
		},
		{
			url:             "?level=warn&duration=3s",
			expectedCode:    http.StatusBadRequest,
			containResponse: "New Level warning is not info, debug or trace",
		},
		{
			url:             "?level=debug&duration=time",
			expectedCode:    http.StatusBadRequest,
			containResponse: "invalid duration",
		},
		{
			url:             "?level=debug&duration=2h",
			expectedCode:    http.StatusBadRequest,
			containResponse: "duration must be within",
		},
		{
			url:             "?level=log&duration=3s",
			expectedCode:    http.StatusBadRequest,
			containResponse: "not a valid logrus Level",
		},
	}

	for _, tt := range handlerTests {
		handler := LevelOverwriteHandler(log.InfoLevel)
		req := httptest.NewRequest("GET", "http://example.com"+LevelOverwrite+tt.url, nil)
		w := httptest.NewRecorder()
		handler(w, req)

		resp := w.Result()
		body, _ := ioutil.ReadAll(resp.Body)
		assert.Contains(t, string(body), tt.containResponse, tt.url)
		assert.Equal(t, tt.expectedCode, resp.StatusCode, tt.url)

		if tt.expectedLevel != 0 {
			assert.Equal(t, tt.expectedLevel, log.GetLevel(), tt.url)
		}
	}
}

func TestLevelOverwriteResets(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)

	handler := LevelOverwriteHandler(log.WarnLevel)
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest("GET", LevelOverwrite+"?level=debug&duration=1h", nil))
	assert.Equal(t, log.DebugLevel, log.GetLevel())

	// A later overwrite replaces the pending reset.
	w = httptest.NewRecorder()
	handler(w, httptest.NewRequest("GET", LevelOverwrite+"?level=info&duration=10ms", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Eventually(t, func() bool {
		return log.GetLevel() == log.WarnLevel
	}, time.Second, 5*time.Millisecond)
}

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

package sge

import (
	"bufio"
	"bytes"
	"strings"
	"time"
)

const (
	_entrySeparator = "====="
	_unset          = "-/-"
)

// Layouts used by the different qacct versions, interpreted in UTC.
var _qacctTimeLayouts = []string{
	time.ANSIC,
	"01/02/2006 15:04:05.000",
	"01/02/2006 15:04:05",
	"2006-01-02 15:04:05.000000",
}

// Accounting holds averages computed over recently completed jobs.
type Accounting struct {
	// Jobs is the number of completed jobs the averages are computed on.
	Jobs           int
	AvgJobDuration time.Duration
	AvgWaitTime    time.Duration
}

type qacctEntry struct {
	fields map[string]string
	raw    strings.Builder
}

// ParseAccounting parses the output of `qacct -j`. Only jobs which ended
// within window before now are considered. Entries which have not ended
// are skipped. Averages are zero when no entry qualifies.
func ParseAccounting(raw []byte, now time.Time, window time.Duration) (Accounting, error) {
	entries, err := splitEntries(raw)
	if err != nil {
		return Accounting{}, err
	}

	var duration, wait time.Duration
	var count int
	since := now.Add(-window)
	for _, e := range entries {
		end, ok, err := e.time("end_time")
		if err != nil {
			return Accounting{}, err
		}
		if !ok || end.Before(since) || end.After(now) {
			continue
		}
		start, ok, err := e.time("start_time")
		if err != nil || !ok {
			if err == nil {
				err = parseErrorf("qacct", e.raw.String(), "job ended without start time")
			}
			return Accounting{}, err
		}
		submit, ok, err := e.time("qsub_time")
		if err != nil || !ok {
			if err == nil {
				err = parseErrorf("qacct", e.raw.String(), "job without submission time")
			}
			return Accounting{}, err
		}
		duration += end.Sub(start)
		wait += start.Sub(submit)
		count++
	}

	if count == 0 {
		return Accounting{}, nil
	}
	return Accounting{
		Jobs:           count,
		AvgJobDuration: (duration / time.Duration(count)).Round(time.Second),
		AvgWaitTime:    (wait / time.Duration(count)).Round(time.Second),
	}, nil
}

func splitEntries(raw []byte) ([]*qacctEntry, error) {
	var entries []*qacctEntry
	var current *qacctEntry
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, _entrySeparator) {
			current = &qacctEntry{fields: make(map[string]string)}
			entries = append(entries, current)
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if current == nil {
			// qacct prints a summary or an error before the first entry.
			continue
		}
		current.raw.WriteString(line)
		current.raw.WriteByte('\n')
		parts := strings.SplitN(strings.TrimSpace(line), " ", 2)
		value := ""
		if len(parts) == 2 {
			value = strings.TrimSpace(parts[1])
		}
		current.fields[parts[0]] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, newParseError("qacct", raw, err)
	}
	return entries, nil
}

// time returns the named timestamp, false if it is not set.
func (e *qacctEntry) time(name string) (time.Time, bool, error) {
	value, ok := e.fields[name]
	if !ok || value == "" || value == _unset {
		return time.Time{}, false, nil
	}
	for _, layout := range _qacctTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, true, nil
		}
	}
	return time.Time{}, false, parseErrorf("qacct", e.raw.String(),
		"invalid %s %q", name, value)
}

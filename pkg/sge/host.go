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
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/docker/go-units"

	"github.com/lexentbio/StarCluster/pkg/scalar"
)

const (
	// SlotsDimension is the resource dimension filled from a host's
	// processor count when qhost does not report it.
	SlotsDimension = "slots"

	_globalHost = "global"
	_undefined  = "-"
)

// Host is the state of one execution host as reported by qhost.
type Host struct {
	Name      string
	NumProc   int
	LoadAvg   float64
	MemTotal  int64
	MemUsed   int64
	SwapTotal int64
	SwapUsed  int64
	Arch      string
	// Capacity holds the host's resource values restricted to the
	// configured dimensions. Empty when qhost reported none.
	Capacity scalar.Resources
}

type namedValue struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type qhostHost struct {
	Name      string       `xml:"name,attr"`
	Values    []namedValue `xml:"hostvalue"`
	Resources []namedValue `xml:"resourcevalue"`
}

type qhostDocument struct {
	XMLName xml.Name    `xml:"qhost"`
	Hosts   []qhostHost `xml:"host"`
}

// ParseHostStatus parses the output of `qhost -xml -F` into hosts keyed by
// name. The global pseudo host and hosts which never reported are skipped.
// When dimensions is not empty, only those resource values are kept.
func ParseHostStatus(raw []byte, dimensions []string) (map[string]Host, error) {
	var doc qhostDocument
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, newParseError("qhost", raw, err)
	}

	hosts := make(map[string]Host, len(doc.Hosts))
	for _, h := range doc.Hosts {
		if h.Name == "" {
			return nil, parseErrorf("qhost", hostFragment(h), "host without name")
		}
		if h.Name == _globalHost {
			continue
		}
		host, err := newHost(h, dimensions)
		if err != nil {
			return nil, err
		}
		if host.Arch == _undefined {
			continue
		}
		hosts[host.Name] = host
	}
	return hosts, nil
}

func newHost(h qhostHost, dimensions []string) (Host, error) {
	host := Host{Name: h.Name}
	var err error
	for _, v := range h.Values {
		value := strings.TrimSpace(v.Value)
		switch v.Name {
		case "arch_string":
			host.Arch = value
		case "num_proc":
			var n float64
			n, err = parseNumber(value)
			host.NumProc = int(n)
		case "load_avg":
			host.LoadAvg, err = parseNumber(value)
		case "mem_total":
			host.MemTotal, err = parseSize(value)
		case "mem_used":
			host.MemUsed, err = parseSize(value)
		case "swap_total":
			host.SwapTotal, err = parseSize(value)
		case "swap_used":
			host.SwapUsed, err = parseSize(value)
		}
		if err != nil {
			return Host{}, parseErrorf("qhost", hostFragment(h),
				"host %s: invalid %s %q", h.Name, v.Name, value)
		}
	}

	capacity := make(map[string]float64)
	for _, r := range h.Resources {
		value, err := parseRequestValue(strings.TrimSpace(r.Value))
		if err != nil {
			// Resource values such as hostname or arch are not numeric.
			continue
		}
		capacity[r.Name] = value
	}
	if _, ok := capacity[SlotsDimension]; !ok && host.NumProc > 0 {
		capacity[SlotsDimension] = float64(host.NumProc)
	}
	host.Capacity = scalar.NewResources(capacity)
	if len(dimensions) > 0 {
		host.Capacity = host.Capacity.Filter(dimensions)
	}
	return host, nil
}

func hostFragment(h qhostHost) string {
	b, err := xml.Marshal(h)
	if err != nil {
		return h.Name
	}
	return string(b)
}

// parseNumber parses a qhost numeric value, "-" meaning not reported.
func parseNumber(s string) (float64, error) {
	if s == _undefined || s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// parseSize parses qhost memory sizes such as 7.0G or 997.4M into bytes.
func parseSize(s string) (int64, error) {
	if s == _undefined || s == "" {
		return 0, nil
	}
	return units.RAMInBytes(s)
}

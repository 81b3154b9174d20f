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

package leader

import (
	"encoding/json"
	"net"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ID is published by the leader so operators can find it.
type ID struct {
	Hostname string `json:"hostname"`
	IP       string `json:"ip"`
	HTTPPort int    `json:"http"`
	PID      int    `json:"pid"`
}

// NewID returns the JSON id of this process.
func NewID(httpPort int) string {
	hostname, err := os.Hostname()
	if err != nil {
		log.WithError(err).Warn("Failed to get hostname")
	}
	id := ID{
		Hostname: hostname,
		HTTPPort: httpPort,
		PID:      os.Getpid(),
	}
	if ip, err := listenIP(); err == nil {
		id.IP = ip.String()
	} else {
		log.WithError(err).Warn("Failed to get ip")
	}
	b, _ := json.Marshal(id)
	return string(b)
}

// scoreAddr scores how likely addr is reachable from other machines:
// +300 for IPv4, +100 when not loopback and another +100 when the
// interface is up. Unknown addresses score -1.
func scoreAddr(iface net.Interface, addr net.Addr) (int, net.IP) {
	var ip net.IP
	switch a := addr.(type) {
	case *net.IPNet:
		ip = a.IP
	case *net.IPAddr:
		ip = a.IP
	default:
		return -1, nil
	}

	var score int
	if ip.To4() != nil {
		score += 300
	}
	if iface.Flags&net.FlagLoopback == 0 && !ip.IsLoopback() {
		score += 100
		if iface.Flags&net.FlagUp != 0 {
			score += 100
		}
	}
	return score, ip
}

func listenIP() (net.IP, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	bestScore := -1
	var bestIP net.IP
	for _, iface := range interfaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if score, ip := scoreAddr(iface, addr); score > bestScore {
				bestScore = score
				bestIP = ip
			}
		}
	}
	if bestScore == -1 {
		return nil, errors.New("no addresses to listen on")
	}
	return bestIP, nil
}

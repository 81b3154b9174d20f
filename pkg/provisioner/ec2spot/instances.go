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

package ec2spot

import (
	"fmt"
	"strings"

	"github.com/cristim/ec2-instances-info"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/lexentbio/StarCluster/pkg/sge"
)

// InstanceCapacities returns the capacity of EC2 instance types: their
// vCPUs as slots and, when memoryDimension is set, their memory in GiB.
// Unknown types are reported together.
func InstanceCapacities(types []string, memoryDimension string) (map[string]map[string]float64, error) {
	data, err := ec2instancesinfo.Data()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load instance type data")
	}

	wanted := make(map[string]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}

	capacities := make(map[string]map[string]float64, len(types))
	for _, info := range *data {
		if !wanted[info.InstanceType] {
			continue
		}
		capacity := map[string]float64{
			sge.SlotsDimension: float64(info.VCPU),
		}
		if memoryDimension != "" {
			capacity[memoryDimension] = float64(info.Memory)
		}
		capacities[info.InstanceType] = capacity
	}

	var result *multierror.Error
	for _, t := range types {
		if _, ok := capacities[t]; !ok {
			result = multierror.Append(result, fmt.Errorf("unknown instance type %s", t))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return capacities, nil
}

// ValidateInstanceTypes checks that every type is a known EC2 type.
func ValidateInstanceTypes(types ...string) error {
	var known []string
	for _, t := range types {
		if strings.TrimSpace(t) != "" {
			known = append(known, t)
		}
	}
	_, err := InstanceCapacities(known, "")
	return err
}

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

package scalar

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ResourceEpsilon is the tolerance used when comparing resource values.
const ResourceEpsilon = 0.000001

// Resources is an immutable set of named resource dimensions, used both as
// a job requirement and as a node capacity.
// The zero value is an empty vector.
type Resources struct {
	values map[string]float64
}

// NewResources returns Resources holding a copy of the given dimensions.
// Negative and NaN values are clamped to zero.
func NewResources(values map[string]float64) Resources {
	if len(values) == 0 {
		return Resources{}
	}
	copied := make(map[string]float64, len(values))
	for name, v := range values {
		if math.IsNaN(v) || v <= 0 {
			v = 0
		}
		copied[name] = v
	}
	return Resources{values: copied}
}

// a safe less than or equal to comparator which takes epsilon into consideration.
func lessThanOrEqual(f1, f2 float64) bool {
	v := f1 - f2
	if math.Abs(v) < ResourceEpsilon {
		return true
	}
	return v < 0
}

// Get returns the value of a dimension and whether it is present.
func (r Resources) Get(name string) (float64, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Dimensions returns the dimension names in sorted order.
func (r Resources) Dimensions() []string {
	names := make([]string, 0, len(r.values))
	for name := range r.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Empty returns true when no dimension is set.
func (r Resources) Empty() bool {
	return len(r.values) == 0
}

// FitsIn returns true if every dimension of r is offered by capacity with
// at least the same value. Dimensions only present on capacity are ignored,
// so an empty requirement fits any capacity.
func (r Resources) FitsIn(capacity Resources) bool {
	for name, want := range r.values {
		have, ok := capacity.values[name]
		if !ok || !lessThanOrEqual(want, have) {
			return false
		}
	}
	return true
}

// FitsInAny returns true if r fits in at least one of the capacities.
func (r Resources) FitsInAny(capacities []Resources) bool {
	for _, c := range capacities {
		if r.FitsIn(c) {
			return true
		}
	}
	return false
}

// Filter returns a new Resources restricted to the given dimensions.
func (r Resources) Filter(dimensions []string) Resources {
	kept := make(map[string]float64)
	for _, name := range dimensions {
		if v, ok := r.values[name]; ok {
			kept[name] = v
		}
	}
	return NewResources(kept)
}

// Equal returns true when both vectors hold the same dimension to value
// pairs. Values are compared exactly, so that equal vectors have equal
// keys.
func (r Resources) Equal(other Resources) bool {
	if len(r.values) != len(other.values) {
		return false
	}
	for name, v := range r.values {
		if ov, ok := other.values[name]; !ok || v != ov {
			return false
		}
	}
	return true
}

// Key returns a canonical string for r which is independent of the order in
// which dimensions were inserted, so that it can be used as a map key.
func (r Resources) Key() string {
	var b strings.Builder
	for i, name := range r.Dimensions() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(r.values[name], 'g', -1, 64))
	}
	return b.String()
}

// String returns a formatted string for the resources.
func (r Resources) String() string {
	return fmt.Sprintf("{%s}", r.Key())
}

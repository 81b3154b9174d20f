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
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Catalog maps node type names to their capacity. It is built once and
// read-only afterwards.
type Catalog struct {
	capacities map[string]Resources
	names      []string
}

// NewCatalog builds a Catalog out of per type dimension maps. Every type
// must declare at least one dimension.
func NewCatalog(types map[string]map[string]float64) (*Catalog, error) {
	var result *multierror.Error
	c := &Catalog{capacities: make(map[string]Resources, len(types))}
	for name, dims := range types {
		if name == "" {
			result = multierror.Append(result, errors.New("node type with empty name"))
			continue
		}
		if len(dims) == 0 {
			result = multierror.Append(result,
				errors.Errorf("node type %s declares no capacity", name))
			continue
		}
		c.capacities[name] = NewResources(dims)
		c.names = append(c.names, name)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	sort.Strings(c.names)
	return c, nil
}

// Names returns the node type names in sorted order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.names...)
}

// Get returns the capacity of a node type.
func (c *Catalog) Get(name string) (Resources, bool) {
	r, ok := c.capacities[name]
	return r, ok
}

// FittingTypes returns, in sorted order, the node types whose capacity
// satisfies the requirement.
func (c *Catalog) FittingTypes(req Resources) []string {
	var fitting []string
	for _, name := range c.names {
		if req.FitsIn(c.capacities[name]) {
			fitting = append(fitting, name)
		}
	}
	return fitting
}

// Feasible returns true if at least one node type satisfies the requirement.
func (c *Catalog) Feasible(req Resources) bool {
	return len(c.FittingTypes(req)) > 0
}

// Capacities returns the capacities of the named types, skipping unknown names.
func (c *Catalog) Capacities(names []string) []Resources {
	var out []Resources
	for _, name := range names {
		if r, ok := c.capacities[name]; ok {
			out = append(out, r)
		}
	}
	return out
}

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

// Package config loads the balancer's layered YAML files.
package config

import (
	"io/ioutil"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v2"
)

// FieldError is the validation failure of one config field.
type FieldError struct {
	// Field is the Go path of the field, such as "Balancer.MaxNodes".
	Field string
	Err   error
}

// ValidationError lists the config fields that failed validation,
// ordered by field path.
type ValidationError struct {
	Fields []FieldError
}

func newValidationError(m validator.ErrorMap) ValidationError {
	fields := make([]FieldError, 0, len(m))
	for f, errs := range m {
		fields = append(fields, FieldError{Field: f, Err: errs})
	}
	sort.Slice(fields, func(i, j int) bool {
		return fields[i].Field < fields[j].Field
	})
	return ValidationError{Fields: fields}
}

// ErrForField returns nil when name passed validation.
func (e ValidationError) ErrForField(name string) error {
	for _, f := range e.Fields {
		if f.Field == name {
			return f.Err
		}
	}
	return nil
}

func (e ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation failed")
	for _, f := range e.Fields {
		b.WriteString("\n   ")
		b.WriteString(f.Field)
		b.WriteString(": ")
		b.WriteString(f.Err.Error())
	}
	return b.String()
}

// Parse merges configFiles into config, each one overriding the keys it
// sets, then validates the result.
func Parse(config interface{}, configFiles ...string) error {
	if len(configFiles) == 0 {
		return errors.New("no config files given")
	}
	for _, name := range configFiles {
		if err := load(config, name); err != nil {
			return err
		}
	}

	err := validator.Validate(config)
	if m, ok := err.(validator.ErrorMap); ok {
		return newValidationError(m)
	}
	return err
}

func load(config interface{}, name string) error {
	data, err := ioutil.ReadFile(name)
	if err != nil {
		return errors.Wrapf(err, "read config %s", name)
	}
	return errors.Wrapf(yaml.Unmarshal(data, config), "parse config %s", name)
}

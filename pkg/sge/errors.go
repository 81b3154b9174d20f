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
	"fmt"

	"github.com/pkg/errors"
)

// _maxFragmentLen bounds the raw input kept on a ParseError.
const _maxFragmentLen = 256

// ParseError is returned when a status document cannot be understood.
// Fragment holds the offending raw input, truncated.
type ParseError struct {
	Source   string
	Fragment string
	cause    error
}

func newParseError(source string, fragment []byte, cause error) *ParseError {
	return &ParseError{
		Source:   source,
		Fragment: truncate(string(fragment)),
		cause:    cause,
	}
}

func parseErrorf(source string, fragment string, format string, args ...interface{}) *ParseError {
	return &ParseError{
		Source:   source,
		Fragment: truncate(fragment),
		cause:    errors.Errorf(format, args...),
	}
}

// Error implements error.
func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.Source, e.cause)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.cause
}

// AsParseError returns the ParseError wrapped in err, if any.
func AsParseError(err error) (*ParseError, bool) {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsParseError returns true if err wraps a ParseError.
func IsParseError(err error) bool {
	_, ok := AsParseError(err)
	return ok
}

func truncate(s string) string {
	if len(s) <= _maxFragmentLen {
		return s
	}
	return s[:_maxFragmentLen] + "..."
}

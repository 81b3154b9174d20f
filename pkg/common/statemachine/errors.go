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

package statemachine

import "github.com/pkg/errors"

var (
	// ErrNoState is returned when no state applies after an action.
	ErrNoState = errors.New("no state applies")
	// ErrAmbiguousState is returned when more than one state applies.
	ErrAmbiguousState = errors.New("more than one state applies")
	// ErrIllegalTransition is returned when the state which applies is not
	// a declared transition of the previous state.
	ErrIllegalTransition = errors.New("illegal transition")
)

// IsInvariantViolation returns true if err is caused by state definitions
// which do not resolve to exactly one legal state.
func IsInvariantViolation(err error) bool {
	switch errors.Cause(err) {
	case ErrNoState, ErrAmbiguousState, ErrIllegalTransition:
		return true
	}
	return false
}

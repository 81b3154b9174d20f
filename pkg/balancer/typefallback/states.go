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

package typefallback

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/lexentbio/StarCluster/pkg/common/statemachine"
	"github.com/lexentbio/StarCluster/pkg/provisioner"
)

// States of an acquisition attempt.
const (
	Start          statemachine.State = "start"
	CreatePrimary  statemachine.State = "create_primary"
	CreateFallback statemachine.State = "create_fallback"
	WaitForRequest statemachine.State = "wait_for_request"
	CancelRequest  statemachine.State = "cancel_request"
	Done           statemachine.State = "done"
)

// definitions returns the closed set of states of an attempt.
func definitions() []statemachine.Definition[*Session] {
	return []statemachine.Definition[*Session]{
		{
			Name:        Start,
			IsInState:   func(s *Session) bool { return true },
			Act:         func(ctx context.Context, s *Session) (bool, error) { return true, nil },
			Transitions: []statemachine.State{CreatePrimary, CreateFallback, WaitForRequest, CancelRequest},
		},
		{
			Name:        CreatePrimary,
			IsInState:   isCreatingPrimary,
			Act:         createPrimary,
			Transitions: []statemachine.State{WaitForRequest},
		},
		{
			Name:        CreateFallback,
			IsInState:   isCreatingFallback,
			Act:         createFallback,
			Transitions: []statemachine.State{WaitForRequest},
		},
		{
			Name:        WaitForRequest,
			IsInState:   isWaiting,
			Act:         waitForRequest,
			Transitions: []statemachine.State{WaitForRequest, CancelRequest, Done},
		},
		{
			Name:        CancelRequest,
			IsInState:   isCancelling,
			Act:         cancelRequest,
			Transitions: []statemachine.State{CreateFallback, Done},
		},
		{
			Name:        Done,
			IsInState:   isDone,
			Act:         func(ctx context.Context, s *Session) (bool, error) { return false, nil },
			Transitions: []statemachine.State{Done},
		},
	}
}

func isCreatingPrimary(s *Session) bool {
	return s.CurrentRequest == "" && !s.AlreadyTried && s.Decent
}

func isCreatingFallback(s *Session) bool {
	return s.CurrentRequest == "" && (s.AlreadyTried || !s.Decent)
}

// isWaiting holds while a request is pending and may still be waited for:
// always for the fallback type, until the cutoff and grace period for the
// primary one.
func isWaiting(s *Session) bool {
	if !s.pending() {
		return false
	}
	return s.Kind != KindPrimary || !s.pastDeadline()
}

func isCancelling(s *Session) bool {
	return s.pending() && s.Kind == KindPrimary && s.pastDeadline()
}

func isDone(s *Session) bool {
	return s.CurrentRequest != "" && s.Status.Terminal()
}

func createPrimary(ctx context.Context, s *Session) (bool, error) {
	s.AlreadyTried = true
	return true, request(ctx, s, KindPrimary, s.cfg.PrimaryType)
}

func createFallback(ctx context.Context, s *Session) (bool, error) {
	return true, request(ctx, s, KindFallback, s.cfg.FallbackType)
}

func request(ctx context.Context, s *Session, kind Kind, instanceType string) error {
	h, err := s.provisioner.RequestInstances(ctx, instanceType, s.Count)
	if err != nil {
		return errors.Wrapf(err, "failed to request %d %s", s.Count, instanceType)
	}
	s.CurrentRequest = h
	s.Kind = kind
	s.Status = provisioner.StatusPending
	s.metrics.requested(kind).Inc(int64(s.Count))

	log.WithFields(log.Fields{
		"session":       s.ID,
		"request":       h,
		"instance_type": instanceType,
		"count":         s.Count,
		"kind":          kind.String(),
		"decent_price":  s.Decent,
	}).Info("requested instances")
	return nil
}

func waitForRequest(ctx context.Context, s *Session) (bool, error) {
	if err := s.wait(ctx); err != nil {
		return false, err
	}
	status, err := s.provisioner.RequestStatus(ctx, s.CurrentRequest)
	if err != nil {
		return false, errors.Wrapf(err, "failed to poll request %s", s.CurrentRequest)
	}
	s.Status = status
	return true, nil
}

// cancelRequest cancels the primary request. A request fulfilled
// concurrently is kept.
func cancelRequest(ctx context.Context, s *Session) (bool, error) {
	h := s.CurrentRequest
	if err := s.provisioner.Cancel(ctx, h); err != nil {
		return false, errors.Wrapf(err, "failed to cancel request %s", h)
	}
	s.metrics.Cancelled.Inc(1)

	status, err := s.provisioner.RequestStatus(ctx, h)
	if err != nil {
		return false, errors.Wrapf(err, "failed to poll cancelled request %s", h)
	}
	fields := log.Fields{
		"session": s.ID,
		"request": h,
		"cutoff":  s.Cutoff(),
		"start":   s.StartTime,
	}
	if status == provisioner.StatusFulfilled {
		s.Status = status
		s.metrics.CancelRace.Inc(1)
		log.WithFields(fields).Info("cancelled request was fulfilled, keeping it")
		return true, nil
	}

	s.clearRequest()
	log.WithFields(fields).Info("gave up on primary instance type")
	return true, nil
}

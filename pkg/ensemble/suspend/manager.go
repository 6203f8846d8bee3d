// Copyright 2026 Conductor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package suspend

import (
	"context"
	"time"

	conductorerrors "github.com/ensemble-edge/conductor/pkg/errors"
)

// DefaultTTL is used when a suspending step does not declare its own.
const DefaultTTL = 24 * time.Hour

// Manager captures and rehydrates suspended runs against a FrameStore.
// It owns the approve/reject/cancel single-shot transitions; the
// Ensemble Driver owns deciding when a member's Suspend response
// requires calling Capture and when a rehydrated Frame's approval data
// is ready to feed back into the executor.
type Manager struct {
	store FrameStore
	clock func() time.Time
}

// NewManager returns a Manager backed by store.
func NewManager(store FrameStore) *Manager {
	return &Manager{store: store, clock: time.Now}
}

// Capture generates a token, stores frame under it with ttl (or
// DefaultTTL if ttl <= 0), and returns the token and its expiry.
func (m *Manager) Capture(ctx context.Context, frame *Frame, ttl time.Duration) (token string, expiresAt time.Time, err error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	token, err = NewToken()
	if err != nil {
		return "", time.Time{}, err
	}
	now := m.clock()
	frame.Token = token
	frame.Status = StatusPending
	frame.CreatedAt = now
	frame.ExpiresAt = now.Add(ttl)

	if err := m.store.Put(ctx, frame, ttl); err != nil {
		return "", time.Time{}, err
	}
	return token, frame.ExpiresAt, nil
}

// Fetch returns the live frame for token, or TokenExpiredError if it
// is absent or past its TTL.
func (m *Manager) Fetch(ctx context.Context, token string) (*Frame, error) {
	frame, ok, err := m.store.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if !ok || frame.Expired(m.clock()) {
		return nil, &conductorerrors.TokenExpiredError{Token: token}
	}
	return frame, nil
}

// Approve transitions token's frame pending -> approved, recording
// actor and any approval data the caller supplied. Fails with
// InvalidTransitionError if the frame is not currently pending.
func (m *Manager) Approve(ctx context.Context, token, actor string, data any) (*Frame, error) {
	frame, err := m.transition(ctx, token, func(f *Frame) error {
		f.Status = StatusApproved
		f.Actor = actor
		f.ApprovalData = data
		return nil
	}, "approve")
	return frame, err
}

// Reject transitions token's frame pending -> rejected.
func (m *Manager) Reject(ctx context.Context, token, actor, reason string) (*Frame, error) {
	frame, err := m.transition(ctx, token, func(f *Frame) error {
		f.Status = StatusRejected
		f.Actor = actor
		f.RejectReason = reason
		return nil
	}, "reject")
	return frame, err
}

// Cancel deletes token's frame outright. Unlike Approve/Reject this is
// not gated on the current status: an operator cancelling a pending
// approval is always allowed to walk away from it.
func (m *Manager) Cancel(ctx context.Context, token string) error {
	if _, err := m.Fetch(ctx, token); err != nil {
		return err
	}
	return m.store.Delete(ctx, token)
}

// transition applies mutate to the current frame and CAS-writes it
// back in a single attempt, with no retry. It fails with
// InvalidTransitionError when the live status is not pending or when the
// CAS finds the stored frame no longer matches.
func (m *Manager) transition(ctx context.Context, token string, mutate func(*Frame) error, event string) (*Frame, error) {
	frame, err := m.Fetch(ctx, token)
	if err != nil {
		return nil, err
	}
	if frame.Status != StatusPending {
		return nil, &conductorerrors.InvalidTransitionError{Token: token, From: string(frame.Status), Event: event}
	}

	next := *frame
	if err := mutate(&next); err != nil {
		return nil, err
	}

	ok, err := m.store.CompareAndSwap(ctx, token, StatusPending, &next)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &conductorerrors.InvalidTransitionError{Token: token, From: string(frame.Status), Event: event}
	}
	return &next, nil
}

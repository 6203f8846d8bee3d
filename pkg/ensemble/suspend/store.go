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
)

// FrameStore is the durable KV contract a suspended run's frame is
// parked in between capture and rehydration. Implementations MUST
// treat an expired entry (per TTL) as absent from Get onward, even if
// physical cleanup lags behind.
type FrameStore interface {
	// Put stores frame under frame.Token with the given TTL.
	Put(ctx context.Context, frame *Frame, ttl time.Duration) error

	// Get returns the frame for token, or ok=false if absent or expired.
	Get(ctx context.Context, token string) (*Frame, bool, error)

	// CompareAndSwap atomically replaces the stored frame with next,
	// but only if the currently stored frame's Status still equals
	// expectStatus. Returns ok=false (no error) on a status mismatch,
	// which the caller treats as a concurrent transition having already
	// happened — the single-shot guarantee approve/reject/cancel rely on.
	CompareAndSwap(ctx context.Context, token string, expectStatus Status, next *Frame) (bool, error)

	// Delete removes token's frame unconditionally.
	Delete(ctx context.Context, token string) error
}

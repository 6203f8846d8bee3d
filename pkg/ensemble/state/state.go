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

// Package state is the shared, permission-scoped bag an ensemble's steps
// read and write. A step declares the keys it may read (stateUse) and the
// keys it may write (stateSet); the store rejects anything outside those
// declared sets, the same allow-list discipline the engine applies to
// path/host/secret/tool permissions, narrowed here to exact-match state
// keys rather than glob patterns.
package state

import (
	"fmt"
	"sync"

	conductorerrors "github.com/ensemble-edge/conductor/pkg/errors"
)

// Store is the engine-owned state bag for one ensemble execution.
// Reading and writing go exclusively through a Handle acquired with
// BeginStep; Store itself never exposes raw map access.
type Store struct {
	mu     sync.Mutex
	values map[string]any
	schema map[string]string // key -> declared type ("string","number","bool","object","array")
}

// New returns a Store seeded with initialState and, optionally, a
// stateSchema declaring each key's type for write-time checking.
func New(initialState map[string]any, schema map[string]string) *Store {
	values := make(map[string]any, len(initialState))
	for k, v := range initialState {
		values[k] = v
	}
	if schema == nil {
		schema = make(map[string]string)
	}
	return &Store{values: values, schema: schema}
}

// Snapshot returns a shallow copy of the full state bag.
func (s *Store) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Put writes key directly, bypassing the use/set permission model. Not
// for step code: reserved for engine-internal bookkeeping keys (e.g. the
// scoring controller's per-step trace) that no step ever declares in its
// own stateUse/stateSet.
func (s *Store) Put(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Handle is the permission-scoped view of the store one step invocation
// receives. Writes buffer in the handle until Commit; Abort discards them.
type Handle struct {
	store    *Store
	useKeys  map[string]bool
	setKeys  map[string]bool
	pending  map[string]any
	resolved bool
}

// BeginStep opens a Handle scoped to useKeys (readable) and setKeys
// (writable). The returned handle must be resolved with Commit or Abort
// before the store is safe to read from again for the next step
// (invariant I1: a step never observes uncommitted writes from a later
// step — enforced here by never applying pending writes until Commit).
func (s *Store) BeginStep(useKeys, setKeys []string) *Handle {
	use := make(map[string]bool, len(useKeys))
	for _, k := range useKeys {
		use[k] = true
	}
	set := make(map[string]bool, len(setKeys))
	for _, k := range setKeys {
		set[k] = true
	}
	return &Handle{store: s, useKeys: use, setKeys: set, pending: make(map[string]any)}
}

// Read returns the committed value of k. Fails with PermissionError if k
// was not declared in this handle's useKeys (invariant I3).
func (h *Handle) Read(key string) (any, error) {
	if !h.useKeys[key] {
		return nil, &conductorerrors.PermissionError{Key: key, Operation: "read"}
	}
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	return h.store.values[key], nil
}

// Write buffers value for key, to be applied on Commit. Fails with
// PermissionError if key was not declared in this handle's setKeys
// (invariant I4), or StateTypeError if schema declares a conflicting
// type for key.
func (h *Handle) Write(key string, value any) error {
	if !h.setKeys[key] {
		return &conductorerrors.PermissionError{Key: key, Operation: "write"}
	}
	if want, ok := h.store.schema[key]; ok {
		if got := typeName(value); got != want {
			return &conductorerrors.StateTypeError{Key: key, Got: got, Want: want}
		}
	}
	h.pending[key] = value
	return nil
}

// Commit atomically applies every buffered write. Either all of setKeys
// become visible or, on a schema violation caught earlier by Write, none
// do (Write rejects the offending key immediately, so by the time Commit
// runs every pending entry has already passed validation).
func (h *Handle) Commit() error {
	if h.resolved {
		return fmt.Errorf("handle already resolved")
	}
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	for k, v := range h.pending {
		h.store.values[k] = v
	}
	h.resolved = true
	return nil
}

// Abort discards buffered writes without touching the store.
func (h *Handle) Abort() {
	h.resolved = true
	h.pending = nil
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	case int, int64, float64, float32:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// DetectOverlap reports the first state key written by more than one of
// the given setKeys lists, or "" if none overlap. The Graph Scheduler
// calls this at planning time for sibling steps in a parallel/foreach
// block (§4.3: overlapping stateSet on concurrent branches is a
// configuration error, detected before any step runs).
func DetectOverlap(setKeyLists [][]string) string {
	seen := make(map[string]bool)
	for _, keys := range setKeyLists {
		for _, k := range keys {
			if seen[k] {
				return k
			}
			seen[k] = true
		}
	}
	return ""
}

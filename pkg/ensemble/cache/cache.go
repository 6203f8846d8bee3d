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

// Package cache provides content-addressed memoization of step results,
// keyed by a stable fingerprint of the member name, version, resolved
// input, and config. At most one computation per fingerprint runs at a
// time within the process; concurrent callers share its outcome.
package cache

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Entry is a cached value plus its bookkeeping.
type Entry struct {
	Fingerprint string
	Value       any
	CreatedAt   time.Time
	TTL         time.Duration
	Tags        []string
}

func (e Entry) expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) > e.TTL
}

// PutOptions configures a Put call.
type PutOptions struct {
	TTL  time.Duration
	Tags []string
}

// inflight tracks a computation in progress for one fingerprint so
// concurrent lookups can wait on it instead of recomputing.
type inflight struct {
	done  chan struct{}
	value any
	err   error
}

// Cache is a process-local, thread-safe content-addressed store.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]Entry
	inflight map[string]*inflight
	tagIndex map[string]map[string]struct{} // tag -> set of fingerprints
	now      func() time.Time
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{
		entries:  make(map[string]Entry),
		inflight: make(map[string]*inflight),
		tagIndex: make(map[string]map[string]struct{}),
		now:      time.Now,
	}
}

// Get returns the cached value for key and whether it was present and
// unexpired. Expired entries are evicted on read.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *Cache) getLocked(key string) (any, bool) {
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if entry.expired(c.now()) {
		c.deleteLocked(key)
		return nil, false
	}
	return entry.Value, true
}

// Put stores value under key, replacing any existing entry.
func (c *Cache) Put(key string, value any, opts PutOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(key, value, opts)
}

func (c *Cache) putLocked(key string, value any, opts PutOptions) {
	c.entries[key] = Entry{
		Fingerprint: key,
		Value:       value,
		CreatedAt:   c.now(),
		TTL:         opts.TTL,
		Tags:        opts.Tags,
	}
	for _, tag := range opts.Tags {
		if c.tagIndex[tag] == nil {
			c.tagIndex[tag] = make(map[string]struct{})
		}
		c.tagIndex[tag][key] = struct{}{}
	}
}

// Invalidate removes a single key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteLocked(key)
}

// InvalidateTag removes every entry carrying tag.
func (c *Cache) InvalidateTag(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.tagIndex[tag] {
		c.deleteLocked(key)
	}
	delete(c.tagIndex, tag)
}

func (c *Cache) deleteLocked(key string) {
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	for _, tag := range entry.Tags {
		delete(c.tagIndex[tag], key)
	}
}

// Compute returns the cached value for key if present, or runs fn to
// produce one. Concurrent Compute calls for the same key in-flight share
// the same outcome — fn runs at most once per fingerprint at a time. A
// failure is not cached (the next caller retries) but is shared with
// whoever was waiting on this computation.
func (c *Cache) Compute(key string, opts PutOptions, fn func() (any, error)) (any, error) {
	c.mu.Lock()
	if v, ok := c.getLocked(key); ok {
		c.mu.Unlock()
		return v, nil
	}
	if existing, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		<-existing.done
		return existing.value, existing.err
	}

	fl := &inflight{done: make(chan struct{})}
	c.inflight[key] = fl
	c.mu.Unlock()

	value, err := fn()

	c.mu.Lock()
	delete(c.inflight, key)
	if err == nil {
		c.putLocked(key, value, opts)
	}
	c.mu.Unlock()

	fl.value, fl.err = value, err
	close(fl.done)
	return value, err
}

// Fingerprint computes the stable cache key for a step invocation:
// hash(memberName, memberVersion, canonicalJSON(resolvedInput),
// canonicalJSON(config)). Canonical JSON sorts object keys recursively so
// identical logical input always hashes identically regardless of map
// iteration order.
func Fingerprint(memberName, memberVersion string, resolvedInput, config any) (string, error) {
	inputJSON, err := canonicalJSON(resolvedInput)
	if err != nil {
		return "", err
	}
	configJSON, err := canonicalJSON(config)
	if err != nil {
		return "", err
	}

	h := xxhash.New()
	h.WriteString(memberName)
	h.Write([]byte{0})
	h.WriteString(memberVersion)
	h.Write([]byte{0})
	h.Write(inputJSON)
	h.Write([]byte{0})
	h.Write(configJSON)

	return formatHash(h.Sum64()), nil
}

func formatHash(h uint64) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[h&0xf]
		h >>= 4
	}
	return string(buf)
}

// canonicalJSON marshals v with object keys sorted recursively, so two
// structurally-equal maps with different iteration orders produce
// byte-identical output.
func canonicalJSON(v any) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil, err
	}
	return sortedCopy(generic), nil
}

// sortedCopy rebuilds nested maps and slices as plain map[string]any and
// []any values, inserting keys in sorted order; key order in the output
// comes from json.Marshal, which sorts map keys.
func sortedCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(t))
		for _, k := range keys {
			out[k] = sortedCopy(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sortedCopy(e)
		}
		return out
	default:
		return t
	}
}

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

// Package interpolate resolves "${path}" references against a layered
// context. A resolver chain inspects each value by shape (string, array,
// object, anything else) so new resolvers can be added without touching
// the callers that walk a step's inputTemplate.
package interpolate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	conductorerrors "github.com/ensemble-edge/conductor/pkg/errors"
)

var refPattern = regexp.MustCompile(`\$\{([^}]*)\}`)
var wholeRefPattern = regexp.MustCompile(`^\$\{([^}]*)\}$`)

// undefined is the sentinel value returned for an empty or unresolved
// path within an otherwise-whole-string match.
type undefined struct{}

// Undefined is the value Resolve returns for "${}" or an unresolved
// whole-string path reference.
var Undefined any = undefined{}

// Context is the layered lookup surface the interpolator walks: a dotted
// path's first segment selects the layer ("input", "state", "outputs",
// "env"), the rest addresses into it. Item and Index are a fifth,
// optional layer bound by the graph scheduler's foreach/map-reduce
// blocks for the lifetime of one iteration; HasItem distinguishes "not
// inside a loop" from "looping over a literal nil".
type Context struct {
	Input   map[string]any
	State   map[string]any
	Outputs map[string]any
	Env     map[string]any

	Item    any
	Index   int
	HasItem bool

	// Items is the map-reduce reduce phase's collected map-step results,
	// bound to "${items}" for the duration of the reduce block.
	Items    []any
	HasItems bool
}

// WithItem returns a copy of c bound to one foreach/map-reduce iteration.
func (c Context) WithItem(item any, index int) Context {
	c.Item = item
	c.Index = index
	c.HasItem = true
	return c
}

// WithItems returns a copy of c bound to a map-reduce reduce phase's
// collected results.
func (c Context) WithItems(items []any) Context {
	c.Items = items
	c.HasItems = true
	return c
}

func (c Context) layer(name string) (map[string]any, bool) {
	switch name {
	case "input":
		return c.Input, true
	case "state":
		return c.State, true
	case "outputs":
		return c.Outputs, true
	case "env":
		return c.Env, true
	default:
		return nil, false
	}
}

// a resolver inspects value and either handles it (ok=true) or defers to
// the next resolver in the chain.
type resolver func(value any, ctx Context) (result any, ok bool, err error)

var chain = []resolver{
	stringResolver,
	arrayResolver,
	objectResolver,
	passthroughResolver,
}

// Resolve walks value recursively, replacing "${path}" references. A
// value that is itself a bare string matching the whole pattern
// "^\$\{PATH\}$" resolves to the raw referenced value (preserving its
// type); any other occurrence of "${PATH}" inside a larger string is
// replaced by its stringified value, and an unresolved reference is left
// literal rather than silently deleted.
func Resolve(value any, ctx Context) (any, error) {
	for _, r := range chain {
		if result, ok, err := r(value, ctx); ok {
			return result, err
		}
	}
	return value, nil
}

func stringResolver(value any, ctx Context) (any, bool, error) {
	s, ok := value.(string)
	if !ok {
		return nil, false, nil
	}

	if m := wholeRefPattern.FindStringSubmatch(s); m != nil {
		path := strings.TrimSpace(m[1])
		if path == "" {
			return Undefined, true, nil
		}
		v, err := resolvePath(path, ctx)
		if err != nil {
			if _, bad := err.(*conductorerrors.InvalidTemplateError); bad {
				return nil, true, err
			}
			return Undefined, true, nil
		}
		return v, true, nil
	}

	var firstErr error
	result := refPattern.ReplaceAllStringFunc(s, func(match string) string {
		path := strings.TrimSpace(match[2 : len(match)-1])
		if path == "" {
			return match
		}
		v, err := resolvePath(path, ctx)
		if err != nil {
			if bad, ok := err.(*conductorerrors.InvalidTemplateError); ok && firstErr == nil {
				firstErr = bad
			}
			return match
		}
		return stringify(v)
	})
	if firstErr != nil {
		return nil, true, firstErr
	}
	return result, true, nil
}

func arrayResolver(value any, ctx Context) (any, bool, error) {
	arr, ok := value.([]any)
	if !ok {
		return nil, false, nil
	}
	out := make([]any, len(arr))
	for i, v := range arr {
		resolved, err := Resolve(v, ctx)
		if err != nil {
			return nil, true, err
		}
		out[i] = resolved
	}
	return out, true, nil
}

func objectResolver(value any, ctx Context) (any, bool, error) {
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, false, nil
	}
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		resolved, err := Resolve(v, ctx)
		if err != nil {
			return nil, true, err
		}
		out[k] = resolved
	}
	return out, true, nil
}

func passthroughResolver(value any, _ Context) (any, bool, error) {
	return value, true, nil
}

// resolvePath splits path on "." and traverses layer-by-layer, then
// key-by-key through nested maps. A missing layer name or an invalid
// reference shape is InvalidTemplate; a missing key deep in the path is
// an ordinary "unresolved" (returns an error the caller treats as
// undefined, not a hard failure).
func resolvePath(path string, ctx Context) (any, error) {
	parts := strings.Split(path, ".")
	if len(parts) == 0 || parts[0] == "" {
		return nil, &conductorerrors.InvalidTemplateError{Template: path, Reason: "empty reference path"}
	}

	if parts[0] == "item" && ctx.HasItem {
		current := ctx.Item
		for _, key := range parts[1:] {
			m, ok := current.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("cannot index into non-object at %q", key)
			}
			v, ok := m[key]
			if !ok {
				return nil, fmt.Errorf("key %q not found", key)
			}
			current = v
		}
		return current, nil
	}
	if parts[0] == "index" && ctx.HasItem {
		if len(parts) != 1 {
			return nil, &conductorerrors.InvalidTemplateError{Template: path, Reason: "index is a scalar, cannot be indexed further"}
		}
		return ctx.Index, nil
	}
	if parts[0] == "items" && ctx.HasItems {
		if len(parts) == 1 {
			return ctx.Items, nil
		}
		idx, err := strconv.Atoi(parts[1])
		if err != nil || idx < 0 || idx >= len(ctx.Items) {
			return nil, fmt.Errorf("index %q out of range for items", parts[1])
		}
		current := ctx.Items[idx]
		for _, key := range parts[2:] {
			m, ok := current.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("cannot index into non-object at %q", key)
			}
			v, ok := m[key]
			if !ok {
				return nil, fmt.Errorf("key %q not found", key)
			}
			current = v
		}
		return current, nil
	}

	layer, ok := ctx.layer(parts[0])
	if !ok {
		return nil, &conductorerrors.InvalidTemplateError{
			Template: path,
			Reason:   fmt.Sprintf("unknown context layer %q (expected input, state, outputs, env, item, or index)", parts[0]),
		}
	}

	var current any = layer
	for _, key := range parts[1:] {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot index into non-object at %q", key)
		}
		v, ok := m[key]
		if !ok {
			return nil, fmt.Errorf("key %q not found", key)
		}
		current = v
	}
	return current, nil
}

// stringify renders a resolved value for substring substitution, matching
// the teacher's expr-lang literal conversion but producing plain text
// instead of expr-lang syntax since the consumer here is a YAML string,
// not a compiled expression.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

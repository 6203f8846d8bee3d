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

package member

import (
	"sort"
	"strings"
	"sync"

	conductorerrors "github.com/ensemble-edge/conductor/pkg/errors"
)

// Metadata describes a registered member kind, independent of any one
// version's config.
type Metadata struct {
	Name    string
	Type    string
	Version string
}

// registration pairs metadata with the factory that builds it.
type registration struct {
	meta    Metadata
	factory Factory
}

// Registry resolves memberRef strings ("name", "name@version", "name@latest",
// "name@label") to a constructed Member. Registries are immutable once the
// process boots: Register happens at startup from built-ins and parsed
// project member definitions, never concurrently with Create.
type Registry struct {
	mu    sync.RWMutex
	byName map[string][]registration

	// labels maps a deployment label (e.g. "production") to a concrete
	// version for a given member name. Populated by deployment binding,
	// external to the registry itself.
	labels map[string]map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string][]registration),
		labels: make(map[string]map[string]string),
	}
}

// Register adds a member factory under (name, version). Re-registering the
// same (name, version) replaces the prior factory.
func (r *Registry) Register(meta Metadata, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.byName[meta.Name]
	for i, existing := range regs {
		if existing.meta.Version == meta.Version {
			regs[i] = registration{meta: meta, factory: factory}
			r.byName[meta.Name] = regs
			return
		}
	}
	r.byName[meta.Name] = append(regs, registration{meta: meta, factory: factory})
}

// BindLabel associates a deployment label with a concrete version of a
// named member (e.g. "summarize", "production" -> "2.1.0").
func (r *Registry) BindLabel(name, label, version string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.labels[name] == nil {
		r.labels[name] = make(map[string]string)
	}
	r.labels[name][label] = version
}

// Create resolves a memberRef of the form "name", "name@version",
// "name@latest", or "name@label" and constructs the Member.
func (r *Registry) Create(memberRef string, config map[string]any, env map[string]any) (Member, error) {
	name, version := splitRef(memberRef)

	r.mu.RLock()
	regs := r.byName[name]
	label := r.labels[name]
	r.mu.RUnlock()

	if len(regs) == 0 {
		return nil, &conductorerrors.MemberNotFoundError{Name: name, Version: version}
	}

	resolved, err := resolveVersion(name, version, regs, label)
	if err != nil {
		return nil, err
	}

	return resolved.factory(config, env)
}

// Resolve returns the Metadata a memberRef currently resolves to, without
// constructing a Member. The executor uses this to fingerprint cache keys
// against the concrete (name, version) a floating ref like "summarize" or
// "summarize@latest" points to right now, rather than the ref string
// itself, so a version bump invalidates old cache entries.
func (r *Registry) Resolve(memberRef string) (Metadata, error) {
	name, version := splitRef(memberRef)

	r.mu.RLock()
	regs := r.byName[name]
	label := r.labels[name]
	r.mu.RUnlock()

	if len(regs) == 0 {
		return Metadata{}, &conductorerrors.MemberNotFoundError{Name: name, Version: version}
	}

	resolved, err := resolveVersion(name, version, regs, label)
	if err != nil {
		return Metadata{}, err
	}
	return resolved.meta, nil
}

// Has reports whether memberRef resolves to a registered factory, without
// constructing it. Used by the Ensemble Driver's pre-execution validation.
func (r *Registry) Has(memberRef string) bool {
	name, version := splitRef(memberRef)

	r.mu.RLock()
	regs := r.byName[name]
	label := r.labels[name]
	r.mu.RUnlock()

	if len(regs) == 0 {
		return false
	}
	_, err := resolveVersion(name, version, regs, label)
	return err == nil
}

func splitRef(memberRef string) (name, version string) {
	if i := strings.LastIndex(memberRef, "@"); i >= 0 {
		return memberRef[:i], memberRef[i+1:]
	}
	return memberRef, ""
}

func resolveVersion(name, version string, regs []registration, labels map[string]string) (registration, error) {
	switch {
	case version == "" || version == "latest":
		return highestVersion(regs), nil
	default:
		if concrete, ok := labels[version]; ok {
			version = concrete
		}
		for _, reg := range regs {
			if reg.meta.Version == version {
				return reg, nil
			}
		}
		return registration{}, &conductorerrors.MemberNotFoundError{Name: name, Version: version}
	}
}

// highestVersion returns the registration with the greatest version under
// compareSemver, which compares dot-separated segments numerically. Built-in members
// typically register a single "1.0.0", so this degrades to "the only one"
// in the common case.
func highestVersion(regs []registration) registration {
	sorted := make([]registration, len(regs))
	copy(sorted, regs)
	sort.Slice(sorted, func(i, j int) bool {
		return compareSemver(sorted[i].meta.Version, sorted[j].meta.Version) < 0
	})
	return sorted[len(sorted)-1]
}

// compareSemver compares two "vMAJOR.MINOR.PATCH"-shaped strings (the "v"
// prefix is optional). Non-numeric segments sort lexicographically as a
// fallback rather than erroring, since member versions are author-supplied.
func compareSemver(a, b string) int {
	pa := strings.Split(strings.TrimPrefix(a, "v"), ".")
	pb := strings.Split(strings.TrimPrefix(b, "v"), ".")

	for i := 0; i < len(pa) || i < len(pb); i++ {
		var sa, sb string
		if i < len(pa) {
			sa = pa[i]
		}
		if i < len(pb) {
			sb = pb[i]
		}
		if sa == sb {
			continue
		}
		na, aok := parseSegment(sa)
		nb, bok := parseSegment(sb)
		if aok && bok {
			if na != nb {
				return na - nb
			}
			continue
		}
		return strings.Compare(sa, sb)
	}
	return 0
}

func parseSegment(s string) (int, bool) {
	if s == "" {
		return 0, true
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

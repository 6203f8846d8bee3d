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

package ensemble

import (
	"fmt"

	conductorerrors "github.com/ensemble-edge/conductor/pkg/errors"
	"gopkg.in/yaml.v3"
)

// FlowElement is one entry in an ensemble's flow, or in a graph block's
// nested step list. Exactly one field is non-nil, selected by the YAML
// element's type tag ("step" is implicit when a "member" key is present).
type FlowElement struct {
	Step      *Step      `yaml:"-"`
	Parallel  *Parallel  `yaml:"-"`
	Branch    *Branch    `yaml:"-"`
	Foreach   *Foreach   `yaml:"-"`
	While     *While     `yaml:"-"`
	Try       *Try       `yaml:"-"`
	Switch    *Switch    `yaml:"-"`
	MapReduce *MapReduce `yaml:"-"`
}

// children returns the nested flow elements of whichever block this
// element wraps, or nil for a leaf step. Used by traversal-only code
// (auto-ID generation, validation) that must recurse uniformly.
func (e FlowElement) children() []FlowElement {
	switch {
	case e.Parallel != nil:
		return e.Parallel.Steps
	case e.Branch != nil:
		return append(append([]FlowElement{}, e.Branch.Then...), e.Branch.Else...)
	case e.Foreach != nil:
		return e.Foreach.Steps
	case e.While != nil:
		return e.While.Steps
	case e.Try != nil:
		return append(append(append([]FlowElement{}, e.Try.Steps...), e.Try.Catch...), e.Try.Finally...)
	case e.Switch != nil:
		var all []FlowElement
		for _, v := range e.Switch.Cases {
			all = append(all, v...)
		}
		return append(all, e.Switch.Default...)
	case e.MapReduce != nil:
		return append(append([]FlowElement{}, e.MapReduce.Map...), e.MapReduce.Reduce...)
	default:
		return nil
	}
}

// Step is a single member invocation within a flow.
type Step struct {
	ID             string            `yaml:"id,omitempty"`
	MemberRef      string            `yaml:"member"`
	InputTemplate  map[string]any    `yaml:"inputTemplate,omitempty"`
	StateUse       []string          `yaml:"stateUse,omitempty"`
	StateSet       []string          `yaml:"stateSet,omitempty"`
	Cache          *CacheConfig      `yaml:"cache,omitempty"`
	Scoring        *ScoringPolicy    `yaml:"scoring,omitempty"`
	When           string            `yaml:"when,omitempty"`
	TimeoutSeconds int               `yaml:"timeout,omitempty"`
	Retry          *RetryConfig      `yaml:"retry,omitempty"`
	DependsOn      []string          `yaml:"dependsOn,omitempty"`
}

// CacheConfig is a step's per-invocation caching directive.
type CacheConfig struct {
	Bypass bool     `yaml:"bypass,omitempty"`
	TTLSeconds int  `yaml:"ttlSeconds,omitempty"`
	Tags   []string `yaml:"tags,omitempty"`

	// CacheFailures, when true, caches a member.Response{OK:false} result
	// the same as a success — useful for idempotent "don't retry a
	// permanently-rejected external call" steps. Default false: a failed
	// invocation is never cached and every caller retries independently.
	CacheFailures bool `yaml:"cacheFailures,omitempty"`
}

// RetryConfig is the member-level (not scoring-level) retry policy: how
// many times to re-invoke a member after a transient failure.
type RetryConfig struct {
	Attempts            int      `yaml:"attempts,omitempty"`
	Backoff             string   `yaml:"backoff,omitempty"`
	InitialDelaySeconds float64  `yaml:"initialDelay,omitempty"`
	RetryOn             []string `yaml:"retryOn,omitempty"`
}

// Validate checks Step-level invariants. Overlapping stateSet between
// sibling steps is a planning-time concern the graph package checks once
// it has the full sibling set; a single step's own use/set lists need no
// further validation here.
func (s *Step) Validate() error {
	if s.MemberRef == "" {
		return &conductorerrors.ValidationError{Field: "member", Message: fmt.Sprintf("step %q is missing a member reference", s.ID)}
	}
	return nil
}

// Parallel runs its children concurrently.
type Parallel struct {
	Steps          []FlowElement `yaml:"-"`
	WaitFor        string        `yaml:"waitFor,omitempty"` // all | any
	MaxConcurrency int           `yaml:"maxConcurrency,omitempty"`
}

// Branch evaluates Condition and runs Then or Else.
type Branch struct {
	Condition string        `yaml:"condition"`
	Then      []FlowElement `yaml:"-"`
	Else      []FlowElement `yaml:"-"`
}

// Foreach instantiates Steps once per item of the resolved Items array.
type Foreach struct {
	Items          string        `yaml:"items"`
	Steps          []FlowElement `yaml:"-"`
	MaxConcurrency int           `yaml:"maxConcurrency,omitempty"`
	BreakWhen      string        `yaml:"breakWhen,omitempty"`
}

// While loops Steps while Condition evaluates true, bounded by
// MaxIterations.
type While struct {
	Condition     string        `yaml:"condition"`
	Steps         []FlowElement `yaml:"-"`
	MaxIterations int           `yaml:"maxIterations,omitempty"`
}

// Try runs Steps, falling back to Catch on failure, and always runs
// Finally on exit.
type Try struct {
	Steps   []FlowElement `yaml:"-"`
	Catch   []FlowElement `yaml:"-"`
	Finally []FlowElement `yaml:"-"`
}

// Switch evaluates Value and dispatches to the matching Cases entry, or
// Default if none match. Case keys compare as strings.
type Switch struct {
	Value   string                   `yaml:"value"`
	Cases   map[string][]FlowElement `yaml:"-"`
	Default []FlowElement            `yaml:"-"`
}

// MapReduce runs Map per item (bounded by MaxConcurrency), then runs
// Reduce once with the collected results bound to ${items}.
type MapReduce struct {
	Items          string        `yaml:"items"`
	Map            []FlowElement `yaml:"-"`
	MaxConcurrency int           `yaml:"maxConcurrency,omitempty"`
	Reduce         []FlowElement `yaml:"-"`
}

// parseFlowElements decodes a slice of raw YAML nodes into FlowElements,
// dispatching on whichever block-type key is present, matching the
// teacher's step/parallel-block discrimination idiom (definition.go's
// StepDefinition.UnmarshalYAML) generalized from one struct with many
// optional fields to one discriminated union per flow entry.
func parseFlowElements(nodes []yaml.Node) ([]FlowElement, error) {
	elems := make([]FlowElement, 0, len(nodes))
	for i := range nodes {
		el, err := parseFlowElement(&nodes[i])
		if err != nil {
			return nil, err
		}
		elems = append(elems, el)
	}
	return elems, nil
}

func parseFlowElement(node *yaml.Node) (FlowElement, error) {
	var probe map[string]yaml.Node
	if err := node.Decode(&probe); err != nil {
		return FlowElement{}, conductorerrors.Wrap(err, "parsing flow element")
	}

	switch {
	case has(probe, "member"):
		var s Step
		if err := node.Decode(&s); err != nil {
			return FlowElement{}, conductorerrors.Wrap(err, "parsing step")
		}
		return FlowElement{Step: &s}, nil

	case has(probe, "parallel"):
		var raw struct {
			Parallel struct {
				Steps          []yaml.Node `yaml:"steps"`
				WaitFor        string      `yaml:"waitFor"`
				MaxConcurrency int         `yaml:"maxConcurrency"`
			} `yaml:"parallel"`
		}
		if err := node.Decode(&raw); err != nil {
			return FlowElement{}, conductorerrors.Wrap(err, "parsing parallel block")
		}
		steps, err := parseFlowElements(raw.Parallel.Steps)
		if err != nil {
			return FlowElement{}, err
		}
		waitFor := raw.Parallel.WaitFor
		if waitFor == "" {
			waitFor = "all"
		}
		return FlowElement{Parallel: &Parallel{Steps: steps, WaitFor: waitFor, MaxConcurrency: raw.Parallel.MaxConcurrency}}, nil

	case has(probe, "branch"):
		var raw struct {
			Branch struct {
				Condition string      `yaml:"condition"`
				Then      []yaml.Node `yaml:"then"`
				Else      []yaml.Node `yaml:"else"`
			} `yaml:"branch"`
		}
		if err := node.Decode(&raw); err != nil {
			return FlowElement{}, conductorerrors.Wrap(err, "parsing branch block")
		}
		then, err := parseFlowElements(raw.Branch.Then)
		if err != nil {
			return FlowElement{}, err
		}
		els, err := parseFlowElements(raw.Branch.Else)
		if err != nil {
			return FlowElement{}, err
		}
		return FlowElement{Branch: &Branch{Condition: raw.Branch.Condition, Then: then, Else: els}}, nil

	case has(probe, "foreach"):
		var raw struct {
			Foreach struct {
				Items          string      `yaml:"items"`
				Steps          []yaml.Node `yaml:"steps"`
				MaxConcurrency int         `yaml:"maxConcurrency"`
				BreakWhen      string      `yaml:"breakWhen"`
			} `yaml:"foreach"`
		}
		if err := node.Decode(&raw); err != nil {
			return FlowElement{}, conductorerrors.Wrap(err, "parsing foreach block")
		}
		steps, err := parseFlowElements(raw.Foreach.Steps)
		if err != nil {
			return FlowElement{}, err
		}
		return FlowElement{Foreach: &Foreach{
			Items: raw.Foreach.Items, Steps: steps,
			MaxConcurrency: raw.Foreach.MaxConcurrency, BreakWhen: raw.Foreach.BreakWhen,
		}}, nil

	case has(probe, "while"):
		var raw struct {
			While struct {
				Condition     string      `yaml:"condition"`
				Steps         []yaml.Node `yaml:"steps"`
				MaxIterations int         `yaml:"maxIterations"`
			} `yaml:"while"`
		}
		if err := node.Decode(&raw); err != nil {
			return FlowElement{}, conductorerrors.Wrap(err, "parsing while block")
		}
		steps, err := parseFlowElements(raw.While.Steps)
		if err != nil {
			return FlowElement{}, err
		}
		return FlowElement{While: &While{Condition: raw.While.Condition, Steps: steps, MaxIterations: raw.While.MaxIterations}}, nil

	case has(probe, "try"):
		var raw struct {
			Try struct {
				Steps   []yaml.Node `yaml:"steps"`
				Catch   []yaml.Node `yaml:"catch"`
				Finally []yaml.Node `yaml:"finally"`
			} `yaml:"try"`
		}
		if err := node.Decode(&raw); err != nil {
			return FlowElement{}, conductorerrors.Wrap(err, "parsing try block")
		}
		steps, err := parseFlowElements(raw.Try.Steps)
		if err != nil {
			return FlowElement{}, err
		}
		catch, err := parseFlowElements(raw.Try.Catch)
		if err != nil {
			return FlowElement{}, err
		}
		fin, err := parseFlowElements(raw.Try.Finally)
		if err != nil {
			return FlowElement{}, err
		}
		return FlowElement{Try: &Try{Steps: steps, Catch: catch, Finally: fin}}, nil

	case has(probe, "switch"):
		var raw struct {
			Switch struct {
				Value   string                 `yaml:"value"`
				Cases   map[string][]yaml.Node `yaml:"cases"`
				Default []yaml.Node            `yaml:"default"`
			} `yaml:"switch"`
		}
		if err := node.Decode(&raw); err != nil {
			return FlowElement{}, conductorerrors.Wrap(err, "parsing switch block")
		}
		cases := make(map[string][]FlowElement, len(raw.Switch.Cases))
		for k, v := range raw.Switch.Cases {
			parsed, err := parseFlowElements(v)
			if err != nil {
				return FlowElement{}, err
			}
			cases[k] = parsed
		}
		def, err := parseFlowElements(raw.Switch.Default)
		if err != nil {
			return FlowElement{}, err
		}
		return FlowElement{Switch: &Switch{Value: raw.Switch.Value, Cases: cases, Default: def}}, nil

	case has(probe, "map-reduce"):
		var raw struct {
			MapReduce struct {
				Items          string      `yaml:"items"`
				Map            []yaml.Node `yaml:"map"`
				MaxConcurrency int         `yaml:"maxConcurrency"`
				Reduce         []yaml.Node `yaml:"reduce"`
			} `yaml:"map-reduce"`
		}
		if err := node.Decode(&raw); err != nil {
			return FlowElement{}, conductorerrors.Wrap(err, "parsing map-reduce block")
		}
		m, err := parseFlowElements(raw.MapReduce.Map)
		if err != nil {
			return FlowElement{}, err
		}
		r, err := parseFlowElements(raw.MapReduce.Reduce)
		if err != nil {
			return FlowElement{}, err
		}
		return FlowElement{MapReduce: &MapReduce{Items: raw.MapReduce.Items, Map: m, MaxConcurrency: raw.MapReduce.MaxConcurrency, Reduce: r}}, nil

	default:
		return FlowElement{}, &conductorerrors.ValidationError{
			Field:   "flow",
			Message: "flow element has no 'member' key and no recognized block type",
			Suggestion: "expected one of: member, parallel, branch, foreach, while, try, switch, map-reduce",
		}
	}
}

func has(m map[string]yaml.Node, key string) bool {
	_, ok := m[key]
	return ok
}

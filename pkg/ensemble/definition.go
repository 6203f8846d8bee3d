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
	"strings"

	conductorerrors "github.com/ensemble-edge/conductor/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Ensemble is the parsed, validated form of an ensemble YAML document.
type Ensemble struct {
	Name         string                 `yaml:"name"`
	Description  string                 `yaml:"description,omitempty"`
	StateSchema  map[string]string      `yaml:"state,omitempty"`
	InitialState map[string]any         `yaml:"initialState,omitempty"`
	ScoringPolicy *ScoringPolicy        `yaml:"scoring,omitempty"`
	Flow         []FlowElement          `yaml:"flow"`
	Output       map[string]any         `yaml:"output,omitempty"`
	Webhooks     []WebhookBinding       `yaml:"webhooks,omitempty"`
	Schedules    []ScheduleBinding      `yaml:"schedules,omitempty"`
	Notifications map[string]any        `yaml:"notifications,omitempty"`
	Expose       []string               `yaml:"expose,omitempty"`

	DefaultTimeoutSeconds int `yaml:"-"`
}

// ScoringPolicy is the ensemble-level default scoring configuration; a
// step's own `scoring` block overrides these per-field.
type ScoringPolicy struct {
	Evaluator    string        `yaml:"evaluator,omitempty"`
	Criteria     []Criterion   `yaml:"criteria,omitempty"`
	Thresholds   Thresholds    `yaml:"thresholds,omitempty"`
	Aggregation  string        `yaml:"aggregation,omitempty"`
	RetryLimit   int           `yaml:"retryLimit,omitempty"`
	Backoff      BackoffPolicy `yaml:"backoff,omitempty"`
	OnFailure    string        `yaml:"onFailure,omitempty"`
	TrackInState bool          `yaml:"trackInState,omitempty"`
	RequireImprovement bool    `yaml:"requireImprovement,omitempty"`
	MinImprovement     float64 `yaml:"minImprovement,omitempty"`
}

// Criterion is one named check a scoring evaluator applies to a step's
// content. Which fields matter depends on the evaluator: Rule uses
// Expression, NLP and Embedding use Reference, Judge uses only Name and
// Weight (the judging logic lives entirely in the injected judge
// function).
type Criterion struct {
	Name       string  `yaml:"name"`
	Weight     float64 `yaml:"weight,omitempty"`
	Expression string  `yaml:"expression,omitempty"`
	Reference  string  `yaml:"reference,omitempty"`
}

// Thresholds are the three named score bands, all in [0,1].
type Thresholds struct {
	Minimum   float64 `yaml:"minimum"`
	Target    float64 `yaml:"target,omitempty"`
	Excellent float64 `yaml:"excellent,omitempty"`
}

// BackoffPolicy governs delay between scoring or member retry attempts.
type BackoffPolicy struct {
	Strategy       string  `yaml:"strategy,omitempty"` // linear | exponential | fixed
	InitialSeconds float64 `yaml:"initialBackoff,omitempty"`
}

// WebhookBinding maps an inbound HTTP path to a trigger or resume action.
type WebhookBinding struct {
	Path    string `yaml:"path"`
	Method  string `yaml:"method"`
	Auth    string `yaml:"auth,omitempty"` // bearer | signature | basic
	Mode    string `yaml:"mode"`           // trigger | resume
	Async   bool   `yaml:"async,omitempty"`
	Timeout string `yaml:"timeout,omitempty"`
}

// ScheduleBinding is a cron-triggered dispatch of this ensemble.
type ScheduleBinding struct {
	Cron  string         `yaml:"cron"`
	Input map[string]any `yaml:"input,omitempty"`
}

// Member is the parsed form of a member YAML document: the registration
// metadata plus its config and optional I/O schemas. Distinct from
// member.Member, which is the runtime interface; this type never touches
// the engine directly, only the registry at load time.
type Member struct {
	Name        string         `yaml:"name"`
	Type        string         `yaml:"type"`
	Version     string         `yaml:"version"`
	Description string         `yaml:"description,omitempty"`
	Config      map[string]any `yaml:"config"`
	InputSchema  map[string]any `yaml:"schema,omitempty"`
	OutputSchema map[string]any `yaml:"outputSchema,omitempty"`
}

// memberTypes is the advisory vocabulary from §3; type is metadata only
// and the runtime never switches on it.
var memberTypes = map[string]bool{
	"Think": true, "Function": true, "Data": true, "API": true, "MCP": true,
	"Scoring": true, "Email": true, "SMS": true, "Form": true, "Page": true,
	"HTML": true, "PDF": true,
}

// Validate checks Member-level invariants independent of any ensemble.
func (m *Member) Validate() error {
	if m.Name == "" {
		return &conductorerrors.ValidationError{Field: "name", Message: "member name is required"}
	}
	if m.Type == "" {
		return &conductorerrors.ValidationError{Field: "type", Message: "member type is required"}
	}
	if !memberTypes[m.Type] {
		return &conductorerrors.ValidationError{
			Field:      "type",
			Message:    fmt.Sprintf("unknown member type %q", m.Type),
			Suggestion: "must be one of Think, Function, Data, API, MCP, Scoring, Email, SMS, Form, Page, HTML, PDF",
		}
	}
	if m.Version == "" {
		return &conductorerrors.ValidationError{Field: "version", Message: "member version is required"}
	}
	return nil
}

// ParseMember parses and validates a single member YAML document.
func ParseMember(data []byte) (*Member, error) {
	var m Member
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, conductorerrors.Wrap(err, "parsing member")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ParseEnsemble parses, defaults, and validates an ensemble YAML document.
func ParseEnsemble(data []byte) (*Ensemble, error) {
	var raw rawEnsemble
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, conductorerrors.Wrap(err, "parsing ensemble")
	}
	if raw.Triggers != nil {
		return nil, &conductorerrors.ConfigError{
			Key:    "triggers",
			Reason: "the top-level 'triggers' key was removed; use 'webhooks' and 'schedules' instead",
		}
	}

	e := &Ensemble{
		Name:          raw.Name,
		Description:   raw.Description,
		StateSchema:   raw.State,
		InitialState:  raw.InitialState,
		ScoringPolicy: raw.Scoring,
		Output:        raw.Output,
		Webhooks:      raw.Webhooks,
		Schedules:     raw.Schedules,
		Notifications: raw.Notifications,
		Expose:        raw.Expose,
	}

	flow, err := parseFlowElements(raw.Flow)
	if err != nil {
		return nil, err
	}
	e.Flow = flow

	e.applyDefaults()
	autoGenerateStepIDs(e.Flow)

	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// rawEnsemble is the pre-defaulted, pre-validated shape the YAML decodes
// into; Flow stays as []yaml.Node so each element's type tag can select
// its concrete struct before the final Ensemble is assembled.
type rawEnsemble struct {
	Name          string            `yaml:"name"`
	Description   string            `yaml:"description"`
	State         map[string]string `yaml:"state"`
	InitialState  map[string]any    `yaml:"initialState"`
	Scoring       *ScoringPolicy    `yaml:"scoring"`
	Flow          []yaml.Node       `yaml:"flow"`
	Output        map[string]any    `yaml:"output"`
	Webhooks      []WebhookBinding  `yaml:"webhooks"`
	Schedules     []ScheduleBinding `yaml:"schedules"`
	Notifications map[string]any    `yaml:"notifications"`
	Expose        []string          `yaml:"expose"`

	// Triggers is only decoded to detect the deprecated key; conductor
	// never reads it otherwise.
	Triggers any `yaml:"triggers"`
}

func (e *Ensemble) applyDefaults() {
	if e.DefaultTimeoutSeconds == 0 {
		e.DefaultTimeoutSeconds = 30
	}
	if e.ScoringPolicy != nil {
		if e.ScoringPolicy.RetryLimit == 0 {
			e.ScoringPolicy.RetryLimit = 2
		}
		if e.ScoringPolicy.Backoff.Strategy == "" {
			e.ScoringPolicy.Backoff.Strategy = "exponential"
		}
		if e.ScoringPolicy.Backoff.InitialSeconds == 0 {
			e.ScoringPolicy.Backoff.InitialSeconds = 1
		}
		if e.ScoringPolicy.Aggregation == "" {
			e.ScoringPolicy.Aggregation = "weighted-average"
		}
		if e.ScoringPolicy.OnFailure == "" {
			e.ScoringPolicy.OnFailure = "abort"
		}
	}
	applyStepDefaults(e.Flow, e.DefaultTimeoutSeconds)
}

// autoGenerateStepIDs assigns "{memberName}_{n}" to steps that didn't
// declare an explicit id, in flow order, recursing into nested blocks.
func autoGenerateStepIDs(flow []FlowElement) {
	counts := make(map[string]int)
	var walk func([]FlowElement)
	walk = func(elems []FlowElement) {
		for i := range elems {
			el := elems[i]
			if step := el.Step; step != nil && step.ID == "" {
				base := step.MemberRef
				if at := strings.LastIndex(base, "@"); at > 0 {
					base = base[:at]
				}
				counts[base]++
				step.ID = fmt.Sprintf("%s_%d", base, counts[base])
			}
			walk(el.children())
		}
	}
	walk(flow)
}

func applyStepDefaults(flow []FlowElement, defaultTimeout int) {
	var walk func([]FlowElement)
	walk = func(elems []FlowElement) {
		for i := range elems {
			el := elems[i]
			if step := el.Step; step != nil {
				if step.TimeoutSeconds == 0 {
					step.TimeoutSeconds = defaultTimeout
				}
				if step.Retry != nil {
					if step.Retry.Attempts == 0 {
						step.Retry.Attempts = 2
					}
					if step.Retry.InitialDelaySeconds == 0 {
						step.Retry.InitialDelaySeconds = 1
					}
				}
			}
			if el.While != nil && el.While.MaxIterations == 0 {
				el.While.MaxIterations = 1000
			}
			walk(el.children())
		}
	}
	walk(flow)
}

// Validate checks Ensemble-level invariants: name required, at least one
// flow element, unique step IDs, every step's own Validate, and every
// dependsOn reference resolves within the same block.
func (e *Ensemble) Validate() error {
	if e.Name == "" {
		return &conductorerrors.ValidationError{Field: "name", Message: "ensemble name is required"}
	}
	if len(e.Flow) == 0 {
		return &conductorerrors.ValidationError{Field: "flow", Message: "ensemble must declare at least one flow element"}
	}

	seen := make(map[string]bool)
	var walk func([]FlowElement) error
	walk = func(elems []FlowElement) error {
		ids := make(map[string]bool, len(elems))
		for i := range elems {
			el := elems[i]
			if step := el.Step; step != nil {
				if seen[step.ID] {
					return &conductorerrors.ValidationError{
						Field:   "flow",
						Message: fmt.Sprintf("duplicate step id %q", step.ID),
					}
				}
				seen[step.ID] = true
				ids[step.ID] = true
				if err := step.Validate(); err != nil {
					return err
				}
				for _, dep := range step.DependsOn {
					if !ids[dep] {
						return &conductorerrors.ValidationError{
							Field:   "dependsOn",
							Message: fmt.Sprintf("step %q depends on unknown step %q", step.ID, dep),
						}
					}
				}
			}
			if err := walk(el.children()); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(e.Flow)
}

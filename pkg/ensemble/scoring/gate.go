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

package scoring

import (
	"context"
	"math"
	"time"

	conductorerrors "github.com/ensemble-edge/conductor/pkg/errors"
)

// Thresholds are the three named score bands a gate checks against, all
// in [0,1] with Minimum <= Target <= Excellent.
type Thresholds struct {
	Minimum   float64
	Target    float64
	Excellent float64
}

// Backoff describes the delay between retry attempts.
type Backoff struct {
	Strategy       string // linear | exponential | fixed
	InitialSeconds float64
}

func (b Backoff) delay(attempt int) time.Duration {
	switch b.Strategy {
	case "linear":
		return time.Duration(b.InitialSeconds*float64(attempt)) * time.Second
	case "fixed":
		return time.Duration(b.InitialSeconds) * time.Second
	default: // exponential
		return time.Duration(b.InitialSeconds*math.Pow(2, float64(attempt-1))) * time.Second
	}
}

// OnFailure is the policy applied once retries are exhausted without
// passing the gate.
type OnFailure string

const (
	OnFailureContinue OnFailure = "continue"
	OnFailureAbort    OnFailure = "abort"
	OnFailureRetry    OnFailure = "retry" // retried already; equivalent to Abort once retryLimit is hit
)

// GateConfig is a step's scoring directive.
type GateConfig struct {
	StepID              string
	Criteria            []Criterion
	Thresholds          Thresholds
	Aggregation         string // weighted-average | minimum | geometric-mean
	RetryLimit          int
	Backoff             Backoff
	RequireImprovement  bool
	MinImprovement      float64
	OnFailure           OnFailure
}

// RunFunc is what the retry loop needs from one execution of the
// underlying step: its content to score, and a function to re-run the
// step for the next retry.
type RunFunc func(ctx context.Context, attempt int) (content string, err error)

// Outcome is the retry loop's final result.
type Outcome struct {
	Report     Report
	Passed     bool
	Attempts   int
	Aborted    bool
	LastError  error
}

// Run drives the retry loop described in the Scoring Controller: execute,
// evaluate, commit on pass, else backoff-and-retry up to RetryLimit
// attempts (optionally requiring each retry to improve over the last by
// MinImprovement), then apply OnFailure.
func Run(ctx context.Context, evaluator Evaluator, cfg GateConfig, run RunFunc) (Outcome, error) {
	limit := cfg.RetryLimit
	if limit < 1 {
		limit = 1
	}

	var lastScore float64
	var lastReport Report
	for attempt := 1; attempt <= limit; attempt++ {
		content, err := run(ctx, attempt)
		if err != nil {
			return Outcome{Attempts: attempt, LastError: err}, err
		}

		report, err := evaluator.Evaluate(content, cfg.Criteria)
		if err != nil {
			return Outcome{Attempts: attempt, LastError: err}, err
		}
		report.Threshold = cfg.Thresholds.Minimum
		aggregate := aggregate(report.Breakdown, cfg.Aggregation)
		if (cfg.Aggregation == "" || cfg.Aggregation == "weighted-average") && len(cfg.Criteria) > 0 {
			var sum, total float64
			for _, c := range cfg.Criteria {
				if v, ok := report.Breakdown[c.Name]; ok {
					w := c.Weight
					if w <= 0 {
						w = 1
					}
					sum, total = sum+v*w, total+w
				}
			}
			if total > 0 {
				aggregate = sum / total
			}
		}
		report.Average = aggregate
		report.Passed = aggregate >= cfg.Thresholds.Minimum

		if report.Passed {
			return Outcome{Report: report, Passed: true, Attempts: attempt}, nil
		}

		if attempt < limit {
			if cfg.RequireImprovement && attempt > 1 && aggregate-lastScore < cfg.MinImprovement {
				return Outcome{Report: report, Attempts: attempt}, &conductorerrors.ScoringFailureError{
					StepID: cfg.StepID, LastScore: aggregate, Threshold: cfg.Thresholds.Minimum, RetryCount: attempt,
					Breakdown: report.Breakdown,
				}
			}
			lastScore, lastReport = aggregate, report
			select {
			case <-ctx.Done():
				return Outcome{Report: report, Attempts: attempt}, ctx.Err()
			case <-time.After(cfg.Backoff.delay(attempt)):
			}
			continue
		}

		lastScore, lastReport = aggregate, report
	}

	switch cfg.OnFailure {
	case OnFailureContinue:
		return Outcome{Report: lastReport, Attempts: limit}, nil
	default: // abort, retry-exhausted
		return Outcome{Report: lastReport, Attempts: limit, Aborted: true}, &conductorerrors.ScoringFailureError{
			StepID: cfg.StepID, LastScore: lastScore, Threshold: cfg.Thresholds.Minimum, RetryCount: limit, Breakdown: lastReport.Breakdown,
		}
	}
}

// aggregate combines per-criterion breakdown scores per the named
// policy. Its default branch is an unweighted mean; for the default
// weighted-average policy Run replaces that with a mean weighted by the
// step's criterion weights (a zero weight counts as 1) when criteria are
// configured.
func aggregate(breakdown map[string]float64, policy string) float64 {
	if len(breakdown) == 0 {
		return 0
	}
	switch policy {
	case "minimum":
		min := math.MaxFloat64
		for _, v := range breakdown {
			if v < min {
				min = v
			}
		}
		return min
	case "geometric-mean":
		product := 1.0
		for _, v := range breakdown {
			product *= v
		}
		return math.Pow(product, 1/float64(len(breakdown)))
	default: // weighted-average
		var sum float64
		for _, v := range breakdown {
			sum += v
		}
		return sum / float64(len(breakdown))
	}
}

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
	"fmt"

	conductorerrors "github.com/ensemble-edge/conductor/pkg/errors"
)

// JudgeEvaluator delegates each criterion's score to an external judge
// (typically a Think member invoked by the caller and adapted into a
// JudgeFunc); this package only aggregates the per-criterion scores it's
// handed back.
type JudgeEvaluator struct {
	judge JudgeFunc
}

// NewJudgeEvaluator builds a JudgeEvaluator backed by judge.
func NewJudgeEvaluator(judge JudgeFunc) *JudgeEvaluator {
	return &JudgeEvaluator{judge: judge}
}

func (e *JudgeEvaluator) Evaluate(content string, criteria []Criterion) (Report, error) {
	breakdown := make(map[string]float64, len(criteria))
	var weightedSum, weightSum float64

	for _, c := range criteria {
		score, err := e.judge(content, c)
		if err != nil {
			return Report{}, conductorerrors.Wrap(err, fmt.Sprintf("judging criterion %q", c.Name))
		}
		if score < 0 || score > 1 {
			return Report{}, &conductorerrors.ValidationError{
				Field:   "scoring.judge",
				Message: fmt.Sprintf("criterion %q returned score %v outside [0,1]", c.Name, score),
			}
		}
		weight := c.Weight
		if weight == 0 {
			weight = 1
		}
		breakdown[c.Name] = score
		weightedSum += score * weight
		weightSum += weight
	}

	avg := 0.0
	if weightSum > 0 {
		avg = weightedSum / weightSum
	}
	return Report{Average: avg, Breakdown: breakdown}, nil
}

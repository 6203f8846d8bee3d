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
	"math"

	conductorerrors "github.com/ensemble-edge/conductor/pkg/errors"
)

// EmbedFunc produces a vector embedding for a string. The embedding
// model itself is a member body (a Think/API collaborator) and out of
// this package's scope; EmbeddingEvaluator only does the vector math.
type EmbedFunc func(text string) ([]float64, error)

// EmbeddingEvaluator scores cosine similarity between embeddings of the
// content and each criterion's reference, normalized from [-1,1] to
// [0,1].
type EmbeddingEvaluator struct {
	embed EmbedFunc
}

// NewEmbeddingEvaluator builds an EmbeddingEvaluator backed by embed.
func NewEmbeddingEvaluator(embed EmbedFunc) *EmbeddingEvaluator {
	return &EmbeddingEvaluator{embed: embed}
}

func (e *EmbeddingEvaluator) Evaluate(content string, criteria []Criterion) (Report, error) {
	contentVec, err := e.embed(content)
	if err != nil {
		return Report{}, conductorerrors.Wrap(err, "embedding content")
	}

	breakdown := make(map[string]float64, len(criteria))
	var sum float64
	for _, c := range criteria {
		refVec, err := e.embed(c.Reference)
		if err != nil {
			return Report{}, conductorerrors.Wrap(err, fmt.Sprintf("embedding reference for criterion %q", c.Name))
		}
		sim, err := cosineSimilarity(contentVec, refVec)
		if err != nil {
			return Report{}, err
		}
		score := (sim + 1) / 2
		breakdown[c.Name] = score
		sum += score
	}
	avg := 0.0
	if len(criteria) > 0 {
		avg = sum / float64(len(criteria))
	}
	return Report{Average: avg, Breakdown: breakdown}, nil
}

func cosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

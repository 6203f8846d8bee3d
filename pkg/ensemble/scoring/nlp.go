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

import "strings"

// NLPEvaluator scores content against a reference string using
// unigram-precision BLEU-1, LCS-based ROUGE-L, and a length-ratio
// penalty, averaged per criterion. No third-party NLP library in the
// example corpus covers this narrow a metric set, so it's hand-rolled
// stdlib math, same as the teacher's own text-similarity helpers.
type NLPEvaluator struct{}

func NewNLPEvaluator() *NLPEvaluator { return &NLPEvaluator{} }

func (e *NLPEvaluator) Evaluate(content string, criteria []Criterion) (Report, error) {
	breakdown := make(map[string]float64, len(criteria))
	var sum float64
	for _, c := range criteria {
		candidate := strings.Fields(content)
		reference := strings.Fields(c.Reference)
		score := (bleu1(candidate, reference) + rougeL(candidate, reference) + lengthRatio(candidate, reference)) / 3
		breakdown[c.Name] = score
		sum += score
	}
	avg := 0.0
	if len(criteria) > 0 {
		avg = sum / float64(len(criteria))
	}
	return Report{Average: avg, Breakdown: breakdown}, nil
}

// bleu1 is unigram precision: the fraction of candidate tokens that
// appear in reference, clipped so a repeated token can't over-count
// beyond how many times it occurs in reference.
func bleu1(candidate, reference []string) float64 {
	if len(candidate) == 0 {
		return 0
	}
	refCounts := counts(reference)
	matched := 0
	for _, tok := range candidate {
		if refCounts[tok] > 0 {
			refCounts[tok]--
			matched++
		}
	}
	return float64(matched) / float64(len(candidate))
}

// rougeL is the F1 of precision/recall over the longest common
// subsequence length.
func rougeL(candidate, reference []string) float64 {
	if len(candidate) == 0 || len(reference) == 0 {
		return 0
	}
	lcs := float64(lcsLength(candidate, reference))
	precision := lcs / float64(len(candidate))
	recall := lcs / float64(len(reference))
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

func lengthRatio(candidate, reference []string) float64 {
	if len(reference) == 0 {
		if len(candidate) == 0 {
			return 1
		}
		return 0
	}
	ratio := float64(len(candidate)) / float64(len(reference))
	if ratio > 1 {
		ratio = 1 / ratio
	}
	return ratio
}

func counts(tokens []string) map[string]int {
	m := make(map[string]int, len(tokens))
	for _, t := range tokens {
		m[t]++
	}
	return m
}

func lcsLength(a, b []string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

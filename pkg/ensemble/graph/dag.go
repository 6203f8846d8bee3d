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

package graph

import (
	"sort"
	"sync"

	"github.com/ensemble-edge/conductor/pkg/ensemble"
)

// dagState tracks, for one parallel/foreach sibling set, which indices
// are still blocked on a dependsOn predecessor. Plan has already
// rejected cycles, so every node is guaranteed to eventually become
// ready as its predecessors complete.
type dagState struct {
	mu         sync.Mutex
	indegree   map[int]int
	dependents map[int][]int
}

func newDagState(children []ensemble.FlowElement) *dagState {
	idOf := make(map[string]int, len(children))
	for i, c := range children {
		if c.Step != nil {
			idOf[c.Step.ID] = i
		}
	}

	d := &dagState{
		indegree:   make(map[int]int, len(children)),
		dependents: make(map[int][]int, len(children)),
	}
	for i, c := range children {
		if c.Step == nil {
			d.indegree[i] = 0
			continue
		}
		count := 0
		for _, dep := range c.Step.DependsOn {
			if j, ok := idOf[dep]; ok {
				count++
				d.dependents[j] = append(d.dependents[j], i)
			}
		}
		d.indegree[i] = count
	}
	return d
}

// initialReady returns every index with no dependsOn predecessor, sorted
// for deterministic dispatch order.
func (d *dagState) initialReady() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ready []int
	for idx, indeg := range d.indegree {
		if indeg == 0 {
			ready = append(ready, idx)
		}
	}
	sort.Ints(ready)
	return ready
}

// complete marks idx finished and returns the direct dependents whose
// indegree just dropped to zero as a result, i.e. the next wave this one
// node's completion unblocks.
func (d *dagState) complete(idx int) []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	var newlyReady []int
	for _, dep := range d.dependents[idx] {
		d.indegree[dep]--
		if d.indegree[dep] == 0 {
			newlyReady = append(newlyReady, dep)
		}
	}
	sort.Ints(newlyReady)
	return newlyReady
}

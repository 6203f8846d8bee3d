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
	"crypto/rand"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// FunctionMember implements general-purpose utility operations: random
// selection, ID generation, and basic math, none of which touch the
// network or filesystem. The step's "op" input selects the operation.
type FunctionMember struct {
	maxArraySize int
}

// NewFunctionMember builds a FunctionMember from member config. An absent
// or zero "maxArraySize" falls back to 10000.
func NewFunctionMember(config map[string]any, _ map[string]any) (Member, error) {
	max := 10000
	if v, ok := config["maxArraySize"]; ok {
		if n, ok := toInt(v); ok && n > 0 {
			max = n
		}
	}
	return &FunctionMember{maxArraySize: max}, nil
}

func (f *FunctionMember) Execute(ctx ExecuteContext) (Response, error) {
	start := time.Now()
	op, _ := ctx.Input["op"].(string)

	data, err := f.dispatch(op, ctx.Input)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return Response{OK: false, Error: err.Error(), DurationMs: elapsed}, nil
	}
	return Response{OK: true, Data: data, DurationMs: elapsed}, nil
}

func (f *FunctionMember) dispatch(op string, in map[string]any) (any, error) {
	switch op {
	case "id_uuid":
		return uuid.NewString(), nil
	case "random_int":
		return f.randomInt(in)
	case "random_choose":
		return f.randomChoose(in)
	case "math_clamp":
		return f.mathClamp(in)
	case "math_round":
		return f.mathRound(in)
	case "sleep":
		return nil, nil // scheduling timers is the executor's job; sleep is a no-op placeholder
	default:
		return nil, fmt.Errorf("unknown function op %q", op)
	}
}

func (f *FunctionMember) randomInt(in map[string]any) (any, error) {
	min, ok1 := toInt(in["min"])
	max, ok2 := toInt(in["max"])
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("random_int requires integer min and max")
	}
	if min > max {
		return nil, fmt.Errorf("min must be <= max")
	}
	span := int64(max-min) + 1
	n, err := cryptoInt63n(span)
	if err != nil {
		return nil, err
	}
	return min + int(n), nil
}

func (f *FunctionMember) randomChoose(in map[string]any) (any, error) {
	items, ok := in["items"].([]any)
	if !ok {
		return nil, fmt.Errorf("random_choose requires an 'items' array")
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("items cannot be empty")
	}
	if len(items) > f.maxArraySize {
		return nil, fmt.Errorf("items exceeds maximum size of %d", f.maxArraySize)
	}
	n, err := cryptoInt63n(int64(len(items)))
	if err != nil {
		return nil, err
	}
	return items[n], nil
}

func (f *FunctionMember) mathClamp(in map[string]any) (any, error) {
	v, ok1 := toFloat(in["value"])
	lo, ok2 := toFloat(in["min"])
	hi, ok3 := toFloat(in["max"])
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("math_clamp requires numeric value, min, max")
	}
	return math.Max(lo, math.Min(hi, v)), nil
}

func (f *FunctionMember) mathRound(in map[string]any) (any, error) {
	v, ok := toFloat(in["value"])
	if !ok {
		return nil, fmt.Errorf("math_round requires a numeric value")
	}
	return math.Round(v), nil
}

func cryptoInt63n(n int64) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("n must be positive")
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	var v uint64
	for _, b := range buf {
		v = v<<8 | uint64(b)
	}
	return int64(v % uint64(n)), nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

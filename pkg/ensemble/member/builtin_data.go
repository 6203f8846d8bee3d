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
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"
)

const (
	defaultDataTimeout      = 1 * time.Second
	defaultDataMaxInputSize = 10 * 1024 * 1024
)

// DataMember runs a jq query against its step input. It never touches the
// network or filesystem; its only job is shaping JSON-like values.
type DataMember struct {
	timeout      time.Duration
	maxInputSize int64
}

// NewDataMember builds a DataMember. Config keys "timeoutMs" and
// "maxInputSize" override the defaults (1s, 10MiB).
func NewDataMember(config map[string]any, _ map[string]any) (Member, error) {
	d := &DataMember{timeout: defaultDataTimeout, maxInputSize: defaultDataMaxInputSize}
	if v, ok := toInt(config["timeoutMs"]); ok && v > 0 {
		d.timeout = time.Duration(v) * time.Millisecond
	}
	if v, ok := toInt(config["maxInputSize"]); ok && v > 0 {
		d.maxInputSize = int64(v)
	}
	return d, nil
}

func (d *DataMember) Execute(ctx ExecuteContext) (Response, error) {
	start := time.Now()

	query, _ := ctx.Input["query"].(string)
	data := ctx.Input["data"]

	result, err := d.run(ctx, query, data)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return Response{OK: false, Error: err.Error(), DurationMs: elapsed}, nil
	}
	return Response{OK: true, Data: result, DurationMs: elapsed}, nil
}

func (d *DataMember) run(ctx ExecuteContext, query string, data any) (any, error) {
	if query == "" {
		return data, nil
	}
	if err := d.validateInputSize(data); err != nil {
		return nil, err
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("parsing query: %w", err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, fmt.Errorf("compiling query: %w", err)
	}

	parent := ctx.Cancellation
	if parent == nil {
		parent = context.Background()
	}
	execCtx, cancel := context.WithTimeout(parent, d.timeout)
	defer cancel()

	type outcome struct {
		values []any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		iter := code.Run(data)
		var values []any
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if e, ok := v.(error); ok {
				done <- outcome{err: fmt.Errorf("evaluating query: %w", e)}
				return
			}
			values = append(values, v)
		}
		done <- outcome{values: values}
	}()

	select {
	case <-execCtx.Done():
		return nil, fmt.Errorf("query exceeded timeout of %s", d.timeout)
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		switch len(out.values) {
		case 0:
			return nil, nil
		case 1:
			return out.values[0], nil
		default:
			return out.values, nil
		}
	}
}

func (d *DataMember) validateInputSize(data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("measuring input size: %w", err)
	}
	if int64(len(b)) > d.maxInputSize {
		return fmt.Errorf("input size %d exceeds maximum of %d bytes", len(b), d.maxInputSize)
	}
	return nil
}

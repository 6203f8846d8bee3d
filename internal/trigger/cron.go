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

// Package trigger drives ensembles from outside sources: cron schedules
// and inbound webhooks, both dispatching into an ensemble driver.Driver
// rather than waiting on a human CLI invocation.
package trigger

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// cronExpr is a parsed 5-field cron expression (minute hour
// day-of-month month day-of-week). No third-party cron library is
// pulled in for this: the field arithmetic is small enough that hand
// rolling it avoids a dependency for five lines of date math.
type cronExpr struct {
	minute     []int
	hour       []int
	dayOfMonth []int
	month      []int
	dayOfWeek  []int
}

// parseCron parses a standard 5-field cron expression, plus the usual
// @hourly/@daily/@weekly/@monthly/@yearly aliases.
func parseCron(expr string) (*cronExpr, error) {
	switch strings.ToLower(expr) {
	case "@hourly":
		expr = "0 * * * *"
	case "@daily", "@midnight":
		expr = "0 0 * * *"
	case "@weekly":
		expr = "0 0 * * 0"
	case "@monthly":
		expr = "0 0 1 * *"
	case "@yearly", "@annually":
		expr = "0 0 1 1 *"
	}

	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron expression %q: expected 5 fields, got %d", expr, len(fields))
	}

	var c cronExpr
	var err error
	if c.minute, err = parseCronField(fields[0], 0, 59); err != nil {
		return nil, fmt.Errorf("minute field: %w", err)
	}
	if c.hour, err = parseCronField(fields[1], 0, 23); err != nil {
		return nil, fmt.Errorf("hour field: %w", err)
	}
	if c.dayOfMonth, err = parseCronField(fields[2], 1, 31); err != nil {
		return nil, fmt.Errorf("day-of-month field: %w", err)
	}
	if c.month, err = parseCronField(fields[3], 1, 12); err != nil {
		return nil, fmt.Errorf("month field: %w", err)
	}
	if c.dayOfWeek, err = parseCronField(fields[4], 0, 6); err != nil {
		return nil, fmt.Errorf("day-of-week field: %w", err)
	}
	return &c, nil
}

func parseCronField(field string, min, max int) ([]int, error) {
	var result []int
	for _, part := range strings.Split(field, ",") {
		values, err := parseCronFieldPart(part, min, max)
		if err != nil {
			return nil, err
		}
		result = append(result, values...)
	}
	return uniqueSorted(result), nil
}

func parseCronFieldPart(part string, min, max int) ([]int, error) {
	step := 1
	if idx := strings.Index(part, "/"); idx != -1 {
		var err error
		step, err = strconv.Atoi(part[idx+1:])
		if err != nil || step <= 0 {
			return nil, fmt.Errorf("invalid step %q", part[idx+1:])
		}
		part = part[:idx]
	}

	var start, end int
	switch {
	case part == "*":
		start, end = min, max
	case strings.Contains(part, "-"):
		idx := strings.Index(part, "-")
		var err error
		if start, err = strconv.Atoi(part[:idx]); err != nil {
			return nil, fmt.Errorf("invalid range start %q", part[:idx])
		}
		if end, err = strconv.Atoi(part[idx+1:]); err != nil {
			return nil, fmt.Errorf("invalid range end %q", part[idx+1:])
		}
	default:
		var err error
		if start, err = strconv.Atoi(part); err != nil {
			return nil, fmt.Errorf("invalid value %q", part)
		}
		end = start
	}

	if start < min || end > max || start > end {
		return nil, fmt.Errorf("value out of range [%d-%d]: %q", min, max, part)
	}

	result := make([]int, 0, (end-start)/step+1)
	for i := start; i <= end; i += step {
		result = append(result, i)
	}
	return result, nil
}

func uniqueSorted(in []int) []int {
	seen := make(map[int]bool, len(in))
	out := in[:0]
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// next returns the first minute strictly after from that matches c, scanning
// minute by minute up to 4 years out.
func (c *cronExpr) next(from time.Time) time.Time {
	t := from.Truncate(time.Minute).Add(time.Minute)
	deadline := from.Add(4 * 365 * 24 * time.Hour)

	for t.Before(deadline) {
		if !containsInt(c.month, int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !containsInt(c.dayOfMonth, t.Day()) || !containsInt(c.dayOfWeek, int(t.Weekday())) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !containsInt(c.hour, t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
			continue
		}
		if !containsInt(c.minute, t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}

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

package cli

import (
	"fmt"
	"os"

	"github.com/ensemble-edge/conductor/pkg/ensemble"
	"github.com/ensemble-edge/conductor/pkg/ensemble/member"
)

// BuildRegistry registers the engine-native member kinds and then loads
// one member definition per path in memberFiles, binding each to its own
// Config at registration time so the executor's Registry.Create call
// (which passes no per-step config) still gets the right behavior.
func BuildRegistry(memberFiles []string) (*member.Registry, error) {
	registry := member.NewRegistry()
	member.RegisterBuiltins(registry)

	for _, path := range memberFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading member file %s: %w", path, err)
		}
		m, err := ensemble.ParseMember(data)
		if err != nil {
			return nil, fmt.Errorf("parsing member file %s: %w", path, err)
		}
		if err := registerMember(registry, m); err != nil {
			return nil, fmt.Errorf("member file %s: %w", path, err)
		}
	}

	return registry, nil
}

// registerMember binds m's declared config into a factory and registers
// it under m.Name/m.Version. Only Function and Data are runnable without
// external wiring (no model/network integration exists in this build).
func registerMember(registry *member.Registry, m *ensemble.Member) error {
	meta := member.Metadata{Name: m.Name, Type: m.Type, Version: m.Version}

	switch m.Type {
	case "Function":
		registry.Register(meta, func(config, env map[string]any) (member.Member, error) {
			return member.NewFunctionMember(m.Config, env)
		})
	case "Data":
		registry.Register(meta, func(config, env map[string]any) (member.Member, error) {
			return member.NewDataMember(m.Config, env)
		})
	default:
		return fmt.Errorf("member %q has type %q, which has no runnable implementation in this build (only Function and Data are supported)", m.Name, m.Type)
	}

	return nil
}

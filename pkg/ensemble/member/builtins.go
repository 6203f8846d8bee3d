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

// RegisterBuiltins registers the member kinds that ship with the engine
// itself: function (random/id/math utilities) and data (jq-style shaping).
// Think/API/MCP/Scoring/Email/SMS/Form/Page/HTML/PDF are registered by
// whatever integration wires their networked or model-calling bodies; this
// registry only owns the kinds that are safe to run with no external
// collaborator.
func RegisterBuiltins(r *Registry) {
	r.Register(Metadata{Name: "function", Type: "function", Version: "1.0.0"}, NewFunctionMember)
	r.Register(Metadata{Name: "data", Type: "data", Version: "1.0.0"}, NewDataMember)
}

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

package trigger

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ensemble-edge/conductor/pkg/ensemble"
)

func echoEnsembleWithWebhook(binding ensemble.WebhookBinding) *ensemble.Ensemble {
	ens := echoEnsembleWithSchedule("* * * * *")
	ens.Schedules = nil
	ens.Webhooks = []ensemble.WebhookBinding{binding}
	return ens
}

func TestDispatcherTriggerRunsEnsemble(t *testing.T) {
	mem := &countingMember{}
	disp := NewDispatcher(newTestDriver(t, mem), nil, nil)
	ens := echoEnsembleWithWebhook(ensemble.WebhookBinding{Path: "/hooks/fire", Method: http.MethodPost, Mode: "trigger"})
	disp.Add(ens)

	mux := http.NewServeMux()
	disp.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/hooks/fire", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), mem.calls)
}

func TestDispatcherTriggerAsyncAccepted(t *testing.T) {
	mem := &countingMember{}
	disp := NewDispatcher(newTestDriver(t, mem), nil, nil)
	ens := echoEnsembleWithWebhook(ensemble.WebhookBinding{Path: "/hooks/async", Method: http.MethodPost, Mode: "trigger", Async: true})
	disp.Add(ens)

	mux := http.NewServeMux()
	disp.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/hooks/async", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestDispatcherRejectsBadSignature(t *testing.T) {
	mem := &countingMember{}
	disp := NewDispatcher(newTestDriver(t, mem), map[string]string{"/hooks/signed": "top-secret"}, nil)
	ens := echoEnsembleWithWebhook(ensemble.WebhookBinding{Path: "/hooks/signed", Method: http.MethodPost, Mode: "trigger", Auth: "signature"})
	disp.Add(ens)

	mux := http.NewServeMux()
	disp.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/hooks/signed", strings.NewReader(`{}`))
	req.Header.Set("X-Webhook-Signature", "sha256=wrong")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, int32(0), mem.calls)
}

func TestDispatcherResumeRequiresToken(t *testing.T) {
	mem := &countingMember{}
	disp := NewDispatcher(newTestDriver(t, mem), nil, nil)
	ens := echoEnsembleWithWebhook(ensemble.WebhookBinding{Path: "/hooks/resume", Method: http.MethodPost, Mode: "resume"})
	disp.Add(ens)

	mux := http.NewServeMux()
	disp.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/hooks/resume", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNewDispatcherDefaultsSecrets(t *testing.T) {
	disp := NewDispatcher(newTestDriver(t, &countingMember{}), nil, nil)
	require.NotNil(t, disp.secrets)
}

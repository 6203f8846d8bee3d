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
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ensemble-edge/conductor/pkg/ensemble"
	"github.com/ensemble-edge/conductor/pkg/ensemble/driver"
)

// boundEnsemble pairs a parsed ensemble with one of its own
// WebhookBinding entries, keyed by path+method for dispatch.
type boundEnsemble struct {
	ensemble *ensemble.Ensemble
	binding  ensemble.WebhookBinding
}

// Dispatcher maps inbound HTTP requests to ensemble Run (trigger mode)
// or Resume (resume mode) calls, per each ensemble's own webhook
// bindings. Secrets are supplied out of band (deployment config), never
// carried in the ensemble YAML itself.
type Dispatcher struct {
	driver  *driver.Driver
	logger  *slog.Logger
	routes  map[string]boundEnsemble // "METHOD path" -> binding
	secrets map[string]string        // path -> shared secret / HMAC key / JWT key
}

// NewDispatcher builds a Dispatcher bound to d. secrets maps a webhook
// binding's Path to the secret its Auth mode should verify against.
func NewDispatcher(d *driver.Driver, secrets map[string]string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if secrets == nil {
		secrets = make(map[string]string)
	}
	return &Dispatcher{
		driver:  d,
		logger:  logger.With(slog.String("component", "webhook")),
		routes:  make(map[string]boundEnsemble),
		secrets: secrets,
	}
}

// Add registers every WebhookBinding on ens.
func (disp *Dispatcher) Add(ens *ensemble.Ensemble) {
	for _, binding := range ens.Webhooks {
		disp.routes[routeKey(binding.Method, binding.Path)] = boundEnsemble{ensemble: ens, binding: binding}
	}
}

func routeKey(method, path string) string { return method + " " + path }

// RegisterRoutes wires every bound path onto mux.
func (disp *Dispatcher) RegisterRoutes(mux *http.ServeMux) {
	for key, bound := range disp.routes {
		bound := bound
		mux.HandleFunc(key, func(w http.ResponseWriter, r *http.Request) {
			disp.handle(w, r, bound)
		})
	}
}

func (disp *Dispatcher) handle(w http.ResponseWriter, r *http.Request, bound boundEnsemble) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if bound.binding.Auth != "" {
		if err := disp.verify(r, body, bound.binding); err != nil {
			disp.logger.Warn("webhook auth failed", slog.String("path", bound.binding.Path), slog.Any("error", err))
			writeJSONError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
	}

	switch bound.binding.Mode {
	case "resume":
		disp.handleResume(w, r, bound, body)
	default:
		disp.handleTrigger(w, r, bound, body)
	}
}

func (disp *Dispatcher) handleTrigger(w http.ResponseWriter, r *http.Request, bound boundEnsemble, body []byte) {
	input := make(map[string]any)
	if len(body) > 0 {
		if err := json.Unmarshal(body, &input); err != nil {
			writeJSONError(w, http.StatusBadRequest, "body must be JSON")
			return
		}
	}

	runCtx := r.Context()
	if bound.binding.Async {
		go func() {
			if _, err := disp.driver.Run(runCtx, bound.ensemble, input); err != nil {
				disp.logger.Error("async webhook run failed", slog.Any("error", err))
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
		return
	}

	result, err := disp.driver.Run(runCtx, bound.ensemble, input)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, statusFor(result), result)
}

func (disp *Dispatcher) handleResume(w http.ResponseWriter, r *http.Request, bound boundEnsemble, body []byte) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if rest, ok := strings.CutPrefix(r.URL.Path, bound.binding.Path+"/"); ok {
			token = rest
		}
	}
	if token == "" {
		writeJSONError(w, http.StatusBadRequest, "missing resumption token")
		return
	}

	var approvalData any
	if len(body) > 0 {
		_ = json.Unmarshal(body, &approvalData)
	}

	result, err := disp.driver.Resume(r.Context(), token, bound.ensemble)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, statusFor(result), result)
}

func statusFor(result *driver.Result) int {
	switch result.Status {
	case driver.StatusCompleted:
		return http.StatusOK
	case driver.StatusSuspended:
		return http.StatusAccepted
	default:
		return http.StatusUnprocessableEntity
	}
}

func (disp *Dispatcher) verify(r *http.Request, body []byte, binding ensemble.WebhookBinding) error {
	secret := disp.secrets[binding.Path]
	switch binding.Auth {
	case "bearer":
		return verifyBearer(r, secret)
	case "signature":
		return verifySignature(r, body, secret)
	case "basic":
		return verifyBasic(r, secret)
	default:
		return nil
	}
}

// verifyBearer accepts either a constant-time shared-secret comparison
// or, when the presented token looks like a JWT, a token signed with secret.
func verifyBearer(r *http.Request, secret string) error {
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" || token == header {
		return errUnauthorized("missing bearer token")
	}

	if looksLikeJWT(token) {
		_, err := jwt.Parse(token, func(t *jwt.Token) (any, error) { return []byte(secret), nil })
		return err
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		return errUnauthorized("bearer token mismatch")
	}
	return nil
}

func looksLikeJWT(token string) bool { return strings.Count(token, ".") == 2 }

// verifySignature checks the generic HMAC-SHA256 convention: an
// "X-Webhook-Signature: sha256=<hex>" header over the raw body.
func verifySignature(r *http.Request, body []byte, secret string) error {
	sig := strings.TrimPrefix(r.Header.Get("X-Webhook-Signature"), "sha256=")
	if sig == "" {
		return errUnauthorized("missing X-Webhook-Signature header")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return errUnauthorized("signature mismatch")
	}
	return nil
}

func verifyBasic(r *http.Request, secret string) error {
	_, password, ok := r.BasicAuth()
	if !ok || subtle.ConstantTimeCompare([]byte(password), []byte(secret)) != 1 {
		return errUnauthorized("invalid basic auth credentials")
	}
	return nil
}

type errUnauthorized string

func (e errUnauthorized) Error() string { return string(e) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

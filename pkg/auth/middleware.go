package auth

import (
	"encoding/json"
	"net/http"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// BypassIdentity is the fixed synthetic identity substituted when the
// gateway is started with bypass_jwt=true (§4.7 "A development override
// (bypass_jwt=true) substitutes a fixed synthetic identity").
var BypassIdentity = Identity{
	Subject:  "test-user-id",
	ClientID: "test-client",
	Scopes:   []string{"api:read", "api:write"},
	Audience: []string{"https://api.example.com"},
}

// UserTokenMiddleware verifies the bearer token on every request with a
// gorilla-style http.Handler wrapper, then injects the resulting
// Identity into the request context for downstream handlers.
func UserTokenMiddleware(verifier *Verifier, bypass bool, logger log.Logger) func(http.Handler) http.Handler {
	if bypass {
		level.Warn(logger).Log("msg", "JWT validation is bypassed, for development/testing only", "bypass_jwt", true)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypass {
				level.Warn(logger).Log("msg", "bypassing JWT validation for this request", "path", r.URL.Path)
				ctx := WithIdentity(r.Context(), BypassIdentity)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			token, err := ExtractBearerToken(r.Header.Get("Authorization"))
			if err != nil {
				writeAuthError(w, err)
				return
			}

			identity, err := verifier.Verify(r.Context(), token)
			if err != nil {
				writeAuthError(w, err)
				return
			}

			ctx := WithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AgentKeyMiddleware gates agent-facing routes behind the single shared
// bearer key (§4.7 "Agent key check").
func AgentKeyMiddleware(sharedKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := ExtractBearerToken(r.Header.Get("Authorization"))
			if err != nil {
				writeAuthError(w, err)
				return
			}
			if err := CheckAgentKey(token, sharedKey); err != nil {
				writeAuthError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// errorEnvelope is the structured failure body shared across the HTTP
// surface: {"error": <http status>, "message": <string>} (§6).
type errorEnvelope struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
}

func writeAuthError(w http.ResponseWriter, err error) {
	status := http.StatusUnauthorized
	message := err.Error()
	if authErr, ok := err.(*Error); ok {
		status = authErr.Status
		message = authErr.Message
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: status, Message: message})
}

package httphandler

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/ericfisherdev/tokenwarden/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body. Code carries the token
// error kind when there is one.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// statusForKind maps a token error kind to the HTTP status the API reports.
func statusForKind(kind model.ErrorKind) int {
	switch kind {
	case model.ErrKindNotFound:
		return http.StatusNotFound
	case model.ErrKindInvalidCredential:
		return http.StatusBadRequest
	case model.ErrKindRateLimited:
		return http.StatusTooManyRequests
	case model.ErrKindRevoked,
		model.ErrKindExpired,
		model.ErrKindRefreshExhausted,
		model.ErrKindReauthFailed,
		model.ErrKindCancelled:
		return http.StatusConflict
	case model.ErrKindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// messageForKind is the client-facing text for each kind. Provider responses
// are not echoed back.
var messageForKind = map[model.ErrorKind]string{
	model.ErrKindNotFound:          "credential not found",
	model.ErrKindRateLimited:       "provider rate limit in effect",
	model.ErrKindRevoked:           "credential has been revoked",
	model.ErrKindExpired:           "credential has expired and cannot be refreshed",
	model.ErrKindRefreshExhausted:  "credential refresh failed; sign in again",
	model.ErrKindReauthFailed:      "provider rejected the refreshed credential",
	model.ErrKindCancelled:         "request was cancelled by sign-out",
	model.ErrKindTimeout:           "provider did not respond in time",
	model.ErrKindInvalidCredential: "credential is invalid",
}

// writeTokenError writes the error response for err and reports the status
// it chose. RATE_LIMITED responses carry a Retry-After header in whole seconds.
func writeTokenError(w http.ResponseWriter, err error) int {
	kind := model.KindOf(err)
	status := statusForKind(kind)
	if status == http.StatusInternalServerError {
		writeError(w, status, "internal server error")
		return status
	}

	if kind == model.ErrKindRateLimited {
		if d := model.RetryAfterOf(err); d > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.Seconds()))))
		}
	}

	message := messageForKind[kind]
	var te *model.TokenError
	if kind == model.ErrKindInvalidCredential && errors.As(err, &te) && te.Err != nil {
		message = te.Err.Error()
	}
	writeJSON(w, status, errorResponse{Error: message, Code: string(kind)})
	return status
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// SessionResponse is returned by sign-in.
type SessionResponse struct {
	Owner       string `json:"owner"`
	Credentials int    `json:"credentials"`
}

// CredentialStatusResponse is the secret-free status of one credential.
// ExpiresIn is whole seconds and null for credentials that never expire.
type CredentialStatusResponse struct {
	ID        string   `json:"id"`
	Provider  string   `json:"provider"`
	Status    string   `json:"status"`
	ExpiresIn *int64   `json:"expires_in"`
	Scopes    []string `json:"scopes"`
	UpdatedAt string   `json:"updated_at"`
}

// StoreCredentialRequest is the JSON body for storing an initial credential.
type StoreCredentialRequest struct {
	Provider      string            `json:"provider"`
	Secret        string            `json:"secret"`
	RefreshSecret string            `json:"refresh_secret"`
	ExpiresAt     *time.Time        `json:"expires_at"`
	Scopes        []string          `json:"scopes"`
	Metadata      map[string]string `json:"metadata"`
}

// CredentialResponse describes a stored credential without its secrets.
type CredentialResponse struct {
	ID          string   `json:"id"`
	Owner       string   `json:"owner"`
	Provider    string   `json:"provider"`
	Kind        string   `json:"kind"`
	Status      string   `json:"status"`
	Refreshable bool     `json:"refreshable"`
	ExpiresAt   *string  `json:"expires_at"`
	Scopes      []string `json:"scopes"`
	CreatedAt   string   `json:"created_at"`
}

func toCredentialStatusResponse(st model.CredentialStatus) CredentialStatusResponse {
	scopes := st.Scopes
	if scopes == nil {
		scopes = []string{}
	}

	resp := CredentialStatusResponse{
		ID:        st.ID,
		Provider:  string(st.Provider),
		Status:    string(st.Status),
		Scopes:    scopes,
		UpdatedAt: st.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if st.ExpiresIn != nil {
		secs := int64(st.ExpiresIn.Seconds())
		resp.ExpiresIn = &secs
	}
	return resp
}

func toCredentialResponse(c *model.Credential) CredentialResponse {
	scopes := c.Scopes
	if scopes == nil {
		scopes = []string{}
	}

	resp := CredentialResponse{
		ID:          c.ID,
		Owner:       c.Owner,
		Provider:    string(c.Provider),
		Kind:        string(c.Kind),
		Status:      string(c.Status),
		Refreshable: c.HasRefreshCapability(),
		Scopes:      scopes,
		CreatedAt:   c.CreatedAt.UTC().Format(time.RFC3339),
	}
	if c.ExpiresAt != nil {
		s := c.ExpiresAt.UTC().Format(time.RFC3339)
		resp.ExpiresAt = &s
	}
	return resp
}

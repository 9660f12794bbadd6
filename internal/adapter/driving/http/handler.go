package httphandler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ericfisherdev/tokenwarden/internal/application"
	"github.com/ericfisherdev/tokenwarden/internal/domain/model"
)

// maxBodyBytes bounds request bodies accepted by the API.
const maxBodyBytes = 64 << 10

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	manager *application.Manager
	logger  *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(manager *application.Manager, logger *slog.Logger) *Handler {
	return &Handler{
		manager: manager,
		logger:  logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware. Metrics are served from gatherer.
func NewServeMux(h *Handler, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("POST /api/v1/owners/{owner}/session", h.SignIn)
	mux.HandleFunc("DELETE /api/v1/owners/{owner}/session", h.SignOut)
	mux.HandleFunc("GET /api/v1/owners/{owner}/credentials", h.ListCredentials)
	mux.HandleFunc("POST /api/v1/owners/{owner}/credentials", h.StoreCredential)
	mux.HandleFunc("POST /api/v1/owners/{owner}/credentials/{provider}/refresh", h.RefreshCredential)
	mux.HandleFunc("DELETE /api/v1/credentials/{id}", h.RevokeCredential)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// SignIn warms the owner's credentials into the working set.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")

	n, err := h.manager.SignIn(r.Context(), owner)
	if err != nil {
		h.fail(w, "failed to sign in", owner, err)
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{Owner: owner, Credentials: n})
}

// SignOut revokes every live credential of the owner.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")

	if err := h.manager.SignOut(r.Context(), owner); err != nil {
		h.fail(w, "failed to sign out", owner, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListCredentials returns the secret-free status of each of the owner's credentials.
func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")

	statuses, err := h.manager.ListStatuses(r.Context(), owner)
	if err != nil {
		h.fail(w, "failed to list credentials", owner, err)
		return
	}

	resp := make([]CredentialStatusResponse, 0, len(statuses))
	for _, st := range statuses {
		resp = append(resp, toCredentialStatusResponse(st))
	}

	writeJSON(w, http.StatusOK, resp)
}

// StoreCredential installs the credential an external sign-in produced.
func (h *Handler) StoreCredential(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")

	var req StoreCredentialRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	cred, err := h.manager.StoreInitialCredential(r.Context(), application.InitialCredential{
		Owner:         owner,
		Provider:      model.Provider(req.Provider),
		Secret:        model.Secret(req.Secret),
		RefreshSecret: model.Secret(req.RefreshSecret),
		ExpiresAt:     req.ExpiresAt,
		Scopes:        req.Scopes,
		Metadata:      req.Metadata,
	})
	if err != nil {
		h.fail(w, "failed to store credential", owner, err)
		return
	}

	writeJSON(w, http.StatusCreated, toCredentialResponse(cred))
}

// RefreshCredential makes sure the pair's credential is usable, refreshing it
// when needed, and reports its status.
func (h *Handler) RefreshCredential(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")
	provider := model.Provider(r.PathValue("provider"))
	if !provider.Valid() {
		writeError(w, http.StatusBadRequest, "unknown provider")
		return
	}

	cred, err := h.manager.EnsureFresh(r.Context(), owner, provider)
	if err != nil {
		h.fail(w, "failed to refresh credential", owner, err)
		return
	}

	writeJSON(w, http.StatusOK, toCredentialStatusResponse(model.StatusOf(cred, time.Now())))
}

// RevokeCredential revokes a credential by id.
func (h *Handler) RevokeCredential(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.manager.RevokeCredential(r.Context(), id); err != nil {
		h.fail(w, "failed to revoke credential", "", err, "id", id)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// fail writes the error response for err. Only unclassified failures are
// logged here; the access log records the rest.
func (h *Handler) fail(w http.ResponseWriter, msg, owner string, err error, attrs ...any) {
	if writeTokenError(w, err) != http.StatusInternalServerError {
		return
	}
	args := append([]any{"error", err}, attrs...)
	if owner != "" {
		args = append(args, "owner", owner)
	}
	h.logger.Error(msg, args...)
}

package agent

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/agentpassport/passport/internal/apierror"
	"github.com/agentpassport/passport/internal/httpserver"
)

// Handler provides HTTP handlers for agent registration and key lifecycle.
type Handler struct {
	service    *Service
	logger     *slog.Logger
	production bool
}

// NewHandler creates an agent Handler.
func NewHandler(service *Service, logger *slog.Logger, production bool) *Handler {
	return &Handler{service: service, logger: logger, production: production}
}

// Routes mounts the agent endpoints. challengeLimit and tokenLimit wrap the
// rate-limited public endpoints; agentAuth wraps the bearer-authenticated
// ones and enforces subject equality with the "id" path parameter.
func (h *Handler) Routes(challengeLimit, tokenLimit, agentAuth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/register", h.handleRegister)
	r.With(challengeLimit).Post("/{id}/challenge", h.handleChallenge)
	r.With(tokenLimit).Post("/{id}/identity-token", h.handleIdentityToken)
	r.With(agentAuth).Post("/{id}/keys", h.handleAddKey)
	r.With(agentAuth).Post("/{id}/keys/{kid}/revoke", h.handleRevokeKey)
	return r
}

// RegisterRequest is the body of POST /v1/agents/register.
type RegisterRequest struct {
	Handle    string `json:"handle" validate:"required,min=3,max=64"`
	PublicKey string `json:"public_key" validate:"required"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.service.Register(r.Context(), req.Handle, req.PublicKey, clientAddr(r))
	if err != nil {
		httpserver.RespondAPIError(w, r, err, h.production)
		return
	}

	httpserver.Respond(w, http.StatusCreated, map[string]any{
		"agent_id": result.AgentID,
		"handle":   result.Handle,
		"key_id":   result.KeyID,
	})
}

func (h *Handler) handleChallenge(w http.ResponseWriter, r *http.Request) {
	agentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondAPIError(w, r, apierror.Validation(apierror.CodeValidationError, "invalid agent id"), h.production)
		return
	}

	issued, err := h.service.IssueChallenge(r.Context(), agentID)
	if err != nil {
		httpserver.RespondAPIError(w, r, err, h.production)
		return
	}

	httpserver.Respond(w, http.StatusCreated, map[string]any{
		"challenge_id": issued.ChallengeID,
		"nonce":        issued.Nonce,
		"expires_at":   issued.ExpiresAt,
	})
}

// IdentityTokenRequest is the body of POST /v1/agents/{id}/identity-token.
type IdentityTokenRequest struct {
	ChallengeID string   `json:"challenge_id" validate:"required,uuid"`
	Signature   string   `json:"signature" validate:"required"`
	Scopes      []string `json:"scopes"`
}

func (h *Handler) handleIdentityToken(w http.ResponseWriter, r *http.Request) {
	agentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondAPIError(w, r, apierror.Validation(apierror.CodeValidationError, "invalid agent id"), h.production)
		return
	}

	var req IdentityTokenRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	challengeID, err := uuid.Parse(req.ChallengeID)
	if err != nil {
		httpserver.RespondAPIError(w, r, apierror.Validation(apierror.CodeValidationError, "invalid challenge id"), h.production)
		return
	}

	result, err := h.service.RedeemChallengeForToken(r.Context(), agentID, challengeID, req.Signature, req.Scopes, clientAddr(r))
	if err != nil {
		httpserver.RespondAPIError(w, r, err, h.production)
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"token":      result.Token,
		"expires_at": result.ExpiresAt,
	})
}

// AddKeyRequest is the body of POST /v1/agents/{id}/keys.
type AddKeyRequest struct {
	PublicKey string `json:"public_key" validate:"required"`
}

func (h *Handler) handleAddKey(w http.ResponseWriter, r *http.Request) {
	agentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondAPIError(w, r, apierror.Validation(apierror.CodeValidationError, "invalid agent id"), h.production)
		return
	}

	var req AddKeyRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	key, err := h.service.AddKey(r.Context(), agentID, req.PublicKey, clientAddr(r))
	if err != nil {
		httpserver.RespondAPIError(w, r, err, h.production)
		return
	}

	httpserver.Respond(w, http.StatusCreated, map[string]any{"key_id": key.ID})
}

func (h *Handler) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	agentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondAPIError(w, r, apierror.Validation(apierror.CodeValidationError, "invalid agent id"), h.production)
		return
	}
	keyID, err := uuid.Parse(chi.URLParam(r, "kid"))
	if err != nil {
		httpserver.RespondAPIError(w, r, apierror.Validation(apierror.CodeValidationError, "invalid key id"), h.production)
		return
	}

	if err := h.service.RevokeKey(r.Context(), agentID, keyID, clientAddr(r)); err != nil {
		httpserver.RespondAPIError(w, r, err, h.production)
		return
	}

	httpserver.Respond(w, http.StatusNoContent, nil)
}

func clientAddr(r *http.Request) string {
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		return v
	}
	return r.RemoteAddr
}


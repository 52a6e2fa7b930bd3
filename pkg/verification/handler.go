package verification

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/agentpassport/passport/internal/apierror"
	"github.com/agentpassport/passport/internal/httpserver"
	"github.com/agentpassport/passport/pkg/risk"
)

// Handler provides the app-key-authenticated HTTP handlers for token
// verification, introspection, and revocation.
type Handler struct {
	service    *Service
	logger     *slog.Logger
	production bool
}

// NewHandler creates a verification Handler.
func NewHandler(service *Service, logger *slog.Logger, production bool) *Handler {
	return &Handler{service: service, logger: logger, production: production}
}

// Routes mounts the token endpoints, all of which require appAuth. verifyLimit
// additionally wraps /verify with the verify-identity per-ip/per-app rate
// limit (spec.md §4.6); it runs after appAuth so the app identity it keys on
// is already in context.
func (h *Handler) Routes(appAuth, verifyLimit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(appAuth)
	r.With(verifyLimit).Post("/verify", h.handleVerify)
	r.Post("/introspect", h.handleIntrospect)
	r.Post("/revoke", h.handleRevoke)
	return r
}

// tokenRequest is the shared body shape for all three endpoints.
type tokenRequest struct {
	Token string `json:"token" validate:"required"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	appID, ok := requireAppID(w, r, h.production)
	if !ok {
		return
	}

	var req tokenRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	result := h.service.Verify(r.Context(), appID, req.Token, clientAddr(r))

	body := map[string]any{"valid": result.Valid}
	if !result.Valid {
		body["reason"] = result.Reason
		if result.Risk.RecommendedAction != "" {
			body["risk"] = riskBody(result.Risk)
		}
		httpserver.Respond(w, http.StatusOK, body)
		return
	}

	body["agent_id"] = result.AgentID
	body["handle"] = result.Handle
	body["scopes"] = result.Scopes
	body["expires_at"] = result.ExpiresAt
	body["risk"] = riskBody(result.Risk)
	body["human_verification"] = result.HumanVerification

	httpserver.Respond(w, http.StatusOK, body)
}

func (h *Handler) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	appID, ok := requireAppID(w, r, h.production)
	if !ok {
		return
	}

	var req tokenRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	result := h.service.Introspect(r.Context(), appID, req.Token)
	if !result.Active {
		httpserver.Respond(w, http.StatusOK, map[string]any{"active": false})
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"active":    true,
		"sub":       result.AgentID,
		"handle":    result.Handle,
		"scope":     result.Scopes,
		"exp":       result.Expiry.Unix(),
		"client_id": result.ClientID,
	})
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	appID, ok := requireAppID(w, r, h.production)
	if !ok {
		return
	}

	var req tokenRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	revocation, err := h.service.Revoke(r.Context(), appID, req.Token, clientAddr(r))
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			httpserver.RespondAPIError(w, r, apierror.Validation(apierror.CodeInvalidToken, "token has no recoverable jti/exp"), h.production)
			return
		}
		httpserver.RespondAPIError(w, r, apierror.Internal(apierror.CodeRedisUnavailable, "revocation store unavailable"), h.production)
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"revoked":    revocation.Revoked,
		"jti":        revocation.JTI,
		"expires_at": revocation.ExpiresAt,
	})
}

func riskBody(a risk.Assessment) map[string]any {
	return map[string]any{
		"score":              a.Score,
		"recommended_action": a.RecommendedAction,
		"reasons":            a.Reasons,
	}
}

func requireAppID(w http.ResponseWriter, r *http.Request, production bool) (uuid.UUID, bool) {
	identity, ok := httpserver.AppFromContext(r.Context())
	if !ok {
		httpserver.RespondAPIError(w, r, apierror.Auth(apierror.CodeUnauthorized, "missing app identity"), production)
		return uuid.UUID{}, false
	}
	appID, err := uuid.Parse(identity.AppID)
	if err != nil {
		httpserver.RespondAPIError(w, r, apierror.Internal(apierror.CodeInternalError, "invalid app id in context").Wrap(err), production)
		return uuid.UUID{}, false
	}
	return appID, true
}

func clientAddr(r *http.Request) string {
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		return v
	}
	return r.RemoteAddr
}

package app

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/agentpassport/passport/internal/apierror"
	"github.com/agentpassport/passport/internal/httpserver"
)

// Handler provides the portal-internal HTTP handlers for app lifecycle.
// Ordinary app CRUD belongs to the portal's own UI; this handler exists so
// the passport service can be bootstrapped and administered standalone, and
// is gated behind a shared internal key rather than end-user auth.
type Handler struct {
	service     *Service
	logger      *slog.Logger
	internalKey string
	production  bool
}

// NewHandler creates an app Handler. internalKey must be non-empty for any
// route to be reachable; an empty key disables the portal-internal routes.
func NewHandler(service *Service, logger *slog.Logger, internalKey string, production bool) *Handler {
	return &Handler{service: service, logger: logger, internalKey: internalKey, production: production}
}

// Routes mounts the portal-internal app endpoints behind requireInternalKey.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.requireInternalKey)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/rotate", h.handleRotate)
	return r
}

func (h *Handler) requireInternalKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.internalKey == "" {
			httpserver.RespondAPIError(w, r, apierror.Forbidden(apierror.CodeForbidden, "portal-internal routes are disabled"), h.production)
			return
		}
		got := r.Header.Get("X-Portal-Internal-Key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.internalKey)) != 1 {
			httpserver.RespondAPIError(w, r, apierror.Auth(apierror.CodeUnauthorized, "invalid internal key"), h.production)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CreateRequest is the body of POST /v1/apps.
type CreateRequest struct {
	Name          string   `json:"name" validate:"required,min=1,max=128"`
	Description   string   `json:"description" validate:"max=1024"`
	OwnerUserID   string   `json:"owner_user_id" validate:"required,uuid"`
	AllowedScopes []string `json:"allowed_scopes"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	ownerID, err := uuid.Parse(req.OwnerUserID)
	if err != nil {
		httpserver.RespondAPIError(w, r, apierror.Validation(apierror.CodeValidationError, "invalid owner_user_id"), h.production)
		return
	}

	created, err := h.service.CreateApp(r.Context(), req.Name, req.Description, ownerID, req.AllowedScopes)
	if err != nil {
		httpserver.RespondAPIError(w, r, err, h.production)
		return
	}

	httpserver.Respond(w, http.StatusCreated, map[string]any{
		"app_id": created.AppID,
		"key_id": created.KeyID,
		"secret": created.Secret,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	appID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondAPIError(w, r, apierror.Validation(apierror.CodeValidationError, "invalid app id"), h.production)
		return
	}

	a, err := h.service.GetApp(r.Context(), appID)
	if err != nil {
		httpserver.RespondAPIError(w, r, err, h.production)
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"app_id":         a.ID,
		"name":           a.Name,
		"description":    a.Description,
		"status":         a.Status,
		"allowed_scopes": a.AllowedScopes,
		"created_at":     a.CreatedAt,
	})
}

func (h *Handler) handleRotate(w http.ResponseWriter, r *http.Request) {
	appID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondAPIError(w, r, apierror.Validation(apierror.CodeValidationError, "invalid app id"), h.production)
		return
	}

	rotated, err := h.service.Rotate(r.Context(), appID)
	if err != nil {
		httpserver.RespondAPIError(w, r, err, h.production)
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"key_id": rotated.KeyID,
		"secret": rotated.Secret,
	})
}

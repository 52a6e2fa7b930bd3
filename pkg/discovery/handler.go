// Package discovery serves the static OpenID/JWKS discovery documents: thin
// views over the signing key, carrying no business logic of their own.
package discovery

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentpassport/passport/internal/httpserver"
	"github.com/agentpassport/passport/pkg/token"
)

// Handler serves /.well-known discovery documents.
type Handler struct {
	minter *token.Minter
	issuer string
}

// NewHandler creates a discovery Handler. baseURL is the externally visible
// origin (scheme + host), used to build absolute endpoint URLs.
func NewHandler(minter *token.Minter, baseURL string) *Handler {
	return &Handler{minter: minter, issuer: baseURL}
}

// Routes mounts the discovery endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/jwks.json", h.handleJWKS)
	r.Get("/openid-configuration", h.handleOpenIDConfiguration)
	return r
}

func (h *Handler) handleJWKS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"keys": []token.JWK{h.minter.PublicJWK()},
	})
}

func (h *Handler) handleOpenIDConfiguration(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"issuer":                                 token.Issuer,
		"authorization_endpoint":                 fmt.Sprintf("%s/v1/agents/register", h.issuer),
		"token_endpoint":                         fmt.Sprintf("%s/v1/agents/{id}/identity-token", h.issuer),
		"jwks_uri":                               fmt.Sprintf("%s/.well-known/jwks.json", h.issuer),
		"introspection_endpoint":                 fmt.Sprintf("%s/v1/tokens/introspect", h.issuer),
		"id_token_signing_alg_values_supported":  []string{"EdDSA"},
	})
}

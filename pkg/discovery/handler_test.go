package discovery

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentpassport/passport/pkg/token"
)

func newTestMinter(t *testing.T) *token.Minter {
	t.Helper()
	m, err := token.NewMinter(make([]byte, 32), time.Hour)
	require.NoError(t, err)
	return m
}

func TestJWKSResponse(t *testing.T) {
	h := NewHandler(newTestMinter(t), "https://passport.example.com")

	req := httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))

	var body struct {
		Keys []token.JWK `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Keys, 1)
	require.Equal(t, "EdDSA", body.Keys[0].Alg)
	require.Equal(t, "OKP", body.Keys[0].Kty)
}

func TestOpenIDConfigurationResponse(t *testing.T) {
	h := NewHandler(newTestMinter(t), "https://passport.example.com")

	req := httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, token.Issuer, body["issuer"])
	require.Contains(t, body["jwks_uri"], "jwks.json")
	require.Equal(t, []any{"EdDSA"}, body["id_token_signing_alg_values_supported"])
}

package audit

import (
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentpassport/passport/internal/store"
)

func TestClientIPXForwardedFor(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18")

	require.Equal(t, "203.0.113.50", clientIP(r))
}

func TestClientIPXRealIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Real-IP", "198.51.100.23")

	require.Equal(t, "198.51.100.23", clientIP(r))
}

func TestClientIPRemoteAddrFallback(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.1:12345"

	require.Equal(t, "192.0.2.1", clientIP(r))
}

func TestClientIPPrecedence(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.50")
	r.Header.Set("X-Real-IP", "198.51.100.23")
	r.RemoteAddr = "192.0.2.1:12345"

	require.Equal(t, "203.0.113.50", clientIP(r))
}

func TestLogAuditDropsWhenFull(t *testing.T) {
	w := NewWriter(nil, slog.Default())
	// No Start call: nothing drains the channel.

	for i := 0; i < bufferSize; i++ {
		w.LogAudit(store.AuditEvent{EventType: "test"})
	}
	w.LogAudit(store.AuditEvent{EventType: "dropped"}) // should be dropped, not block

	require.Len(t, w.auditEntries, bufferSize)
}

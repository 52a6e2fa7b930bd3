package signverify

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(pub), priv
}

func TestIsValidPublicKey(t *testing.T) {
	pubB64, _ := generateKey(t)

	require.True(t, IsValidPublicKey(pubB64))
	require.False(t, IsValidPublicKey("not-base64!!"))
	require.False(t, IsValidPublicKey(base64.StdEncoding.EncodeToString([]byte("too short"))))
	require.False(t, IsValidPublicKey(""))
}

func TestVerifyRoundTrip(t *testing.T) {
	pubB64, priv := generateKey(t)
	message := []byte("challenge-nonce-12345")

	sig := ed25519.Sign(priv, message)
	sigB64 := base64.StdEncoding.EncodeToString(sig)

	require.True(t, Verify(sigB64, message, pubB64))
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	pubB64, priv := generateKey(t)
	sig := ed25519.Sign(priv, []byte("original"))
	sigB64 := base64.StdEncoding.EncodeToString(sig)

	require.False(t, Verify(sigB64, []byte("tampered"), pubB64))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	_, priv := generateKey(t)
	otherPubB64, _ := generateKey(t)

	message := []byte("hello")
	sig := ed25519.Sign(priv, message)
	sigB64 := base64.StdEncoding.EncodeToString(sig)

	require.False(t, Verify(sigB64, message, otherPubB64))
}

func TestVerifyMalformedInputs(t *testing.T) {
	pubB64, _ := generateKey(t)

	require.False(t, Verify("not-base64!!", []byte("m"), pubB64))
	require.False(t, Verify(base64.StdEncoding.EncodeToString([]byte("short")), []byte("m"), pubB64))
	require.False(t, VerifyString("", "m", "invalid-key"))
}

package challenge

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/agentpassport/passport/internal/apierror"
	"github.com/agentpassport/passport/pkg/signverify"
)

func TestRandomNonceLength(t *testing.T) {
	nonce, err := randomNonce()
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(nonce)
	require.NoError(t, err)
	require.Len(t, raw, nonceBytes)
}

func TestChallengeKeyFormat(t *testing.T) {
	id := uuid.New()
	require.Equal(t, "challenge:"+id.String(), challengeKey(id))
}

// TestSignatureVerificationAgainstStoredNonce exercises the same
// verification step Redeem performs, grounding the expected pass/fail
// behavior without requiring a database.
func TestSignatureVerificationAgainstStoredNonce(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	nonce := "a-test-nonce-value"
	sig := ed25519.Sign(priv, []byte(nonce))

	pubB64 := base64.StdEncoding.EncodeToString(pub)
	sigB64 := base64.StdEncoding.EncodeToString(sig)

	require.True(t, signverify.VerifyString(sigB64, nonce, pubB64))
	require.False(t, signverify.VerifyString(sigB64, "different-nonce", pubB64))
}

// TestFailureErrorCodes pins the error codes Redeem's failure paths use,
// which the HTTP edge's status table depends on.
func TestFailureErrorCodes(t *testing.T) {
	require.Equal(t, apierror.CodeChallengeNotFound, apierror.NotFound(apierror.CodeChallengeNotFound, "x").Code)
	require.Equal(t, apierror.CodeChallengeExpired, apierror.Conflict(apierror.CodeChallengeExpired, "x").Code)
	require.Equal(t, apierror.CodeChallengeAlreadyUsed, apierror.Conflict(apierror.CodeChallengeAlreadyUsed, "x").Code)
	require.Equal(t, apierror.CodeInvalidSignature, apierror.Auth(apierror.CodeInvalidSignature, "x").Code)
	require.Equal(t, apierror.CodeAgentSuspended, apierror.Forbidden(apierror.CodeAgentSuspended, "x").Code)
	require.Equal(t, apierror.CodeNoActiveKeys, apierror.Validation(apierror.CodeNoActiveKeys, "x").Code)
}

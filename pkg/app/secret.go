package app

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	secretPrefix   = "ap_live_"
	secretHexBytes = 32 // 64 hex chars
	prefixLen      = 12

	argon2Memory      = 64 * 1024 // 64 MiB, KiB units
	argon2Iterations  = 3
	argon2Parallelism = 4
	argon2SaltLen     = 16
	argon2KeyLen      = 32
)

// generateSecret produces a fresh "ap_live_<64 hex>" secret and its prefix.
func generateSecret() (secret, prefix string, err error) {
	b := make([]byte, secretHexBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("reading random bytes: %w", err)
	}
	secret = secretPrefix + hex.EncodeToString(b)
	prefix = secret[:prefixLen]
	return secret, prefix, nil
}

// hashSecret produces a memory-hard argon2id hash encoded as a single
// string carrying its parameters and salt, so verification doesn't depend
// on external configuration state.
func hashSecret(secret string) string {
	salt := make([]byte, argon2SaltLen)
	_, _ = rand.Read(salt)

	hash := argon2.IDKey([]byte(secret), salt, argon2Iterations, argon2Memory, argon2Parallelism, argon2KeyLen)

	return fmt.Sprintf("argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argon2Memory, argon2Iterations, argon2Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)
}

var errMalformedHash = errors.New("app: malformed secret hash")

// verifySecret reports whether secret matches the encoded hash, constant-time
// in the final comparison.
func verifySecret(encoded, secret string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[0] != "argon2id" {
		return false, errMalformedHash
	}

	var version, memory, iterations int
	var parallelism int
	if _, err := fmt.Sscanf(parts[1], "v=%d", &version); err != nil {
		return false, errMalformedHash
	}
	if _, err := fmt.Sscanf(parts[2], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, errMalformedHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return false, errMalformedHash
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, errMalformedHash
	}

	got := argon2.IDKey([]byte(secret), salt, uint32(iterations), uint32(memory), uint8(parallelism), uint32(len(want)))

	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

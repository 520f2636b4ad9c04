package cryptox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// lowCost keeps Argon2id cheap enough for unit tests while exercising the
// same code paths as production parameters.
var lowCost = HashParams{
	Memory:      8 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

func TestHashAndVerifySecret(t *testing.T) {
	t.Parallel()

	secret, err := GenerateSecret(SecretSize256)
	require.NoError(t, err)

	hash, err := HashSecret(secret, lowCost)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$argon2id$v=19$"))

	require.NoError(t, VerifySecret(secret, hash))
	require.ErrorIs(t, VerifySecret(secret+"x", hash), ErrHashMismatch)
}

func TestHashSecretSaltsEachCall(t *testing.T) {
	t.Parallel()

	h1, err := HashSecret("same-input", lowCost)
	require.NoError(t, err)
	h2, err := HashSecret("same-input", lowCost)
	require.NoError(t, err)

	require.NotEqual(t, h1, h2)
	require.NoError(t, VerifySecret("same-input", h1))
	require.NoError(t, VerifySecret("same-input", h2))
}

func TestVerifySecretHonoursEmbeddedParams(t *testing.T) {
	t.Parallel()

	// Hash with one cost profile, verify with nothing but the PHC string.
	heavier := lowCost
	heavier.Iterations = 2

	hash, err := HashSecret("secret", heavier)
	require.NoError(t, err)
	require.NoError(t, VerifySecret("secret", hash))
}

func TestVerifySecretRejectsMalformedHashes(t *testing.T) {
	t.Parallel()

	cases := []string{
		"",
		"plain-text",
		"$bcrypt$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$!!!",
	}
	for _, encoded := range cases {
		err := VerifySecret("secret", encoded)
		require.Error(t, err, "hash %q", encoded)
		require.NotErrorIs(t, err, ErrHashMismatch, "hash %q", encoded)
	}
}

func TestGenerateSecretProperties(t *testing.T) {
	t.Parallel()

	s1, err := GenerateSecret(SecretSize256)
	require.NoError(t, err)
	s2, err := GenerateSecret(SecretSize256)
	require.NoError(t, err)

	require.Len(t, s1, 43) // 32 bytes base64url, no padding
	require.NotEqual(t, s1, s2)
	require.NotContains(t, s1, "=")
	require.NotContains(t, s1, "+")
	require.NotContains(t, s1, "/")

	_, err = GenerateSecret(0)
	require.Error(t, err)
}

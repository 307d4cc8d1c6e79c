package cryptox

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	t.Parallel()

	for _, size := range []int{TokenSize128, TokenSize256, TokenSize512} {
		token, err := GenerateToken(size)
		require.NoError(t, err)

		raw, err := base64.RawURLEncoding.DecodeString(token)
		require.NoError(t, err)
		require.Len(t, raw, size)

		other, err := GenerateToken(size)
		require.NoError(t, err)
		require.NotEqual(t, token, other)
	}

	for _, size := range []int{0, -1} {
		token, err := GenerateToken(size)
		require.Error(t, err)
		require.Empty(t, token)
	}

	require.Panics(t, func() { MustGenerateToken(0) })
	require.Len(t, MustGenerateToken(TokenSize256), 43)
}

func TestFingerprintToken(t *testing.T) {
	t.Parallel()

	fp := FingerprintToken("refresh-token-value")
	require.Equal(t, fp, FingerprintToken("refresh-token-value"), "fingerprints are deterministic")
	require.NotEqual(t, fp, FingerprintToken("refresh-token-valuf"))
	require.Len(t, fp, 43)
	require.NotContains(t, fp, "refresh")
}

func TestS256Challenge(t *testing.T) {
	t.Parallel()

	// RFC 7636 appendix B.
	require.Equal(t,
		"E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		S256Challenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFrWA-gXk"),
	)
}

func TestEqualTokens(t *testing.T) {
	t.Parallel()

	require.True(t, EqualTokens("abc", "abc"))
	require.False(t, EqualTokens("abc", "abd"))
	require.False(t, EqualTokens("abc", "abcd"))
	require.False(t, EqualTokens("", "x"))
}

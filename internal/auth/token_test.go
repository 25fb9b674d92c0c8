package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIssuer() *TokenIssuer {
	return NewTokenIssuer("access-secret", "refresh-secret", 15*time.Minute, 7*24*time.Hour)
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer()

	raw, err := issuer.IssueRefreshToken("user-1", "family-1", 3)
	require.NoError(t, err)

	claims, err := issuer.ParseRefreshToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.PrincipalID)
	assert.Equal(t, "family-1", claims.TokenFamilyID)
	assert.Equal(t, 3, claims.TokenVersion)
}

func TestParseRefreshToken_Expired(t *testing.T) {
	t.Parallel()

	issuer := NewTokenIssuer("access-secret", "refresh-secret", time.Minute, -time.Second)

	raw, err := issuer.IssueRefreshToken("user-1", "family-1", 1)
	require.NoError(t, err)

	_, err = issuer.ParseRefreshToken(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRefreshToken_WrongSecret(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer()
	other := NewTokenIssuer("access-secret", "different-secret", time.Minute, time.Hour)

	raw, err := other.IssueRefreshToken("user-1", "family-1", 1)
	require.NoError(t, err)

	_, err = issuer.ParseRefreshToken(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRefreshToken_RejectsAccessToken(t *testing.T) {
	t.Parallel()

	// Same signing secret for both token types: the typ claim alone must keep
	// an access token out of the rotation path.
	issuer := NewTokenIssuer("shared-secret", "shared-secret", time.Minute, time.Hour)

	raw, _, err := issuer.IssueAccessToken("user-1")
	require.NoError(t, err)

	_, err = issuer.ParseRefreshToken(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRefreshToken_Malformed(t *testing.T) {
	t.Parallel()

	_, err := newTestIssuer().ParseRefreshToken("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHashRefreshToken(t *testing.T) {
	t.Parallel()

	raw := "some-refresh-token"
	hash := HashRefreshToken(raw)

	assert.NotEqual(t, raw, hash)
	assert.Len(t, hash, 64)
	assert.True(t, RefreshTokenHashMatches(raw, hash))
	assert.False(t, RefreshTokenHashMatches("another-token", hash))
}

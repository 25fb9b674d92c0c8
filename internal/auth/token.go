package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer mints the signed access and refresh tokens. Access tokens are
// stateless; refresh tokens carry the rotation metadata (family id + version)
// that the session record validates them against.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

type RefreshClaims struct {
	PrincipalID   string
	TokenFamilyID string
	TokenVersion  int
}

func NewTokenIssuer(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

func (i *TokenIssuer) IssueAccessToken(principalID string) (string, int64, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": principalID,
		"iat": now.Unix(),
		"exp": now.Add(i.accessTTL).Unix(),
		"typ": "access",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(i.accessSecret)
	if err != nil {
		return "", 0, fmt.Errorf("sign access token: %w", err)
	}

	return encoded, int64(i.accessTTL.Seconds()), nil
}

func (i *TokenIssuer) IssueRefreshToken(principalID, tokenFamilyID string, tokenVersion int) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": principalID,
		"fam": tokenFamilyID,
		"ver": tokenVersion,
		"iat": now.Unix(),
		"exp": now.Add(i.refreshTTL).Unix(),
		"typ": "refresh",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(i.refreshSecret)
	if err != nil {
		return "", fmt.Errorf("sign refresh token: %w", err)
	}

	return encoded, nil
}

// ParseRefreshToken verifies signature and expiry and extracts the rotation
// metadata. Any structural failure collapses to ErrInvalidToken; the relational
// checks against the session record happen in the rotation protocol.
func (i *TokenIssuer) ParseRefreshToken(raw string) (RefreshClaims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return i.refreshSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return RefreshClaims{}, ErrInvalidToken
	}

	if tokenType, _ := claims["typ"].(string); tokenType != "refresh" {
		return RefreshClaims{}, ErrInvalidToken
	}

	sub, _ := claims["sub"].(string)
	fam, _ := claims["fam"].(string)
	ver, ok := claims["ver"].(float64)
	if sub == "" || fam == "" || !ok || ver < 1 {
		return RefreshClaims{}, ErrInvalidToken
	}

	return RefreshClaims{
		PrincipalID:   sub,
		TokenFamilyID: fam,
		TokenVersion:  int(ver),
	}, nil
}

func (i *TokenIssuer) AccessSecret() []byte {
	return i.accessSecret
}

// HashRefreshToken is the one-way digest stored in the session record. The raw
// token never touches the database.
func HashRefreshToken(raw string) string {
	digest := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(digest[:])
}

func RefreshTokenHashMatches(raw, storedHash string) bool {
	digest := HashRefreshToken(raw)
	return subtle.ConstantTimeCompare([]byte(digest), []byte(storedHash)) == 1
}

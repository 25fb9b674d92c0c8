package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultAccessTTL   = 15 * time.Minute
	defaultRefreshTTL  = 7 * 24 * time.Hour
	defaultMaxAttempts = 5
	defaultLockWindow  = 15 * time.Minute
)

var (
	ErrInvalidToken       = errors.New("invalid refresh token")
	ErrPrincipalNotFound  = errors.New("principal not found")
	ErrSessionRevoked     = errors.New("session revoked")
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email or username already taken")
)

type ErrLoginLocked struct {
	Until time.Time
}

func (e ErrLoginLocked) Error() string {
	return "login temporarily locked"
}

type Service struct {
	store        Store
	issuer       *TokenIssuer
	maxAttempts  int
	lockDuration time.Duration
}

func NewService(store Store, issuer *TokenIssuer) *Service {
	return &Service{
		store:        store,
		issuer:       issuer,
		maxAttempts:  defaultMaxAttempts,
		lockDuration: defaultLockWindow,
	}
}

func (s *Service) WithLockoutConfig(maxAttempts int, lockDuration time.Duration) {
	if maxAttempts > 0 {
		s.maxAttempts = maxAttempts
	}
	if lockDuration > 0 {
		s.lockDuration = lockDuration
	}
}

func (s *Service) Register(ctx context.Context, email, username, password, displayName string) (Principal, Tokens, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	username = strings.TrimSpace(strings.ToLower(username))

	id, err := uuid.NewV7()
	if err != nil {
		return Principal{}, Tokens{}, fmt.Errorf("generate user id: %w", err)
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Principal{}, Tokens{}, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	p := Principal{
		ID:           id.String(),
		Email:        email,
		Username:     username,
		PasswordHash: string(passwordHash),
		DisplayName:  strings.TrimSpace(displayName),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreatePrincipal(ctx, p); err != nil {
		return Principal{}, Tokens{}, err
	}

	tokens, err := s.BeginSession(ctx, p.ID)
	if err != nil {
		return Principal{}, Tokens{}, err
	}

	return p, tokens, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (Principal, Tokens, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	password = strings.TrimSpace(password)

	if email == "" || password == "" {
		return Principal{}, Tokens{}, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	attempt, err := s.store.GetLoginAttempt(ctx, email)
	if err != nil {
		return Principal{}, Tokens{}, err
	}
	if attempt.LockedUntil != nil && now.Before(*attempt.LockedUntil) {
		return Principal{}, Tokens{}, ErrLoginLocked{Until: *attempt.LockedUntil}
	}

	p, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return Principal{}, Tokens{}, s.failedLogin(ctx, email, now)
		}
		return Principal{}, Tokens{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)); err != nil {
		return Principal{}, Tokens{}, s.failedLogin(ctx, email, now)
	}

	if err := s.store.ResetLoginAttempt(ctx, email); err != nil {
		return Principal{}, Tokens{}, err
	}

	tokens, err := s.BeginSession(ctx, p.ID)
	if err != nil {
		return Principal{}, Tokens{}, err
	}

	return p, tokens, nil
}

func (s *Service) failedLogin(ctx context.Context, email string, now time.Time) error {
	lockedUntil, err := s.store.RegisterFailedAttempt(ctx, email, s.maxAttempts, s.lockDuration, now)
	if err != nil {
		return err
	}
	if lockedUntil != nil {
		return ErrLoginLocked{Until: *lockedUntil}
	}
	return ErrInvalidCredentials
}

// BeginSession starts a fresh token family for the principal: new family id,
// version 1, hash of the new refresh token stored, any prior revocation
// cleared. Called on both login and registration.
func (s *Service) BeginSession(ctx context.Context, principalID string) (Tokens, error) {
	familyID, err := uuid.NewV7()
	if err != nil {
		return Tokens{}, fmt.Errorf("generate token family id: %w", err)
	}

	refreshToken, err := s.issuer.IssueRefreshToken(principalID, familyID.String(), 1)
	if err != nil {
		return Tokens{}, err
	}
	accessToken, expiresIn, err := s.issuer.IssueAccessToken(principalID)
	if err != nil {
		return Tokens{}, err
	}

	err = s.store.UpdateSession(ctx, principalID, func(sess *Session) (bool, error) {
		sess.TokenFamilyID = familyID.String()
		sess.TokenVersion = 1
		sess.RefreshTokenHash = HashRefreshToken(refreshToken)
		sess.RevokedAt = nil
		return true, nil
	})
	if err != nil {
		return Tokens{}, err
	}

	return Tokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
	}, nil
}

// Rotate exchanges a presented refresh token for a new access/refresh pair.
// The presented token is single-use: success overwrites the stored hash, so a
// later replay of the same token observes a bumped stored version and trips
// reuse detection, which revokes the whole family before rejecting. A raced
// double-refresh from a legitimate client collapses to the same revocation;
// there is no sub-signal separating it from theft.
func (s *Service) Rotate(ctx context.Context, rawToken string) (Tokens, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return Tokens{}, ErrInvalidToken
	}

	claims, err := s.issuer.ParseRefreshToken(rawToken)
	if err != nil {
		return Tokens{}, err
	}

	var tokens Tokens
	err = s.store.UpdateSession(ctx, claims.PrincipalID, func(sess *Session) (bool, error) {
		if sess.RevokedAt != nil {
			return false, ErrSessionRevoked
		}
		if sess.TokenFamilyID != claims.TokenFamilyID {
			return false, ErrInvalidToken
		}

		// The hash compare runs before any version branching so rejection
		// timing does not leak where in the lineage a forged token landed.
		hashMatches := RefreshTokenHashMatches(rawToken, sess.RefreshTokenHash)

		if sess.TokenVersion > claims.TokenVersion {
			// A rotated-away token from this family is being replayed. The
			// strongest available theft signal: contain the whole family now.
			revoke(sess, time.Now().UTC())
			return true, ErrTokenReuseDetected
		}
		if !hashMatches || sess.TokenVersion != claims.TokenVersion {
			return false, ErrInvalidToken
		}

		sess.TokenVersion++
		newRefresh, issueErr := s.issuer.IssueRefreshToken(claims.PrincipalID, sess.TokenFamilyID, sess.TokenVersion)
		if issueErr != nil {
			return false, issueErr
		}
		accessToken, expiresIn, issueErr := s.issuer.IssueAccessToken(claims.PrincipalID)
		if issueErr != nil {
			return false, issueErr
		}

		sess.RefreshTokenHash = HashRefreshToken(newRefresh)
		tokens = Tokens{
			AccessToken:  accessToken,
			RefreshToken: newRefresh,
			TokenType:    "Bearer",
			ExpiresIn:    expiresIn,
		}
		return true, nil
	})
	if err != nil {
		return Tokens{}, err
	}

	return tokens, nil
}

// EndSession revokes the principal's current token family. Idempotent:
// revoking an already-revoked session succeeds without touching state.
func (s *Service) EndSession(ctx context.Context, principalID string) error {
	return s.store.UpdateSession(ctx, principalID, func(sess *Session) (bool, error) {
		if sess.RevokedAt != nil {
			return false, nil
		}
		revoke(sess, time.Now().UTC())
		return true, nil
	})
}

// Logout identifies the principal from the presented refresh token and ends
// the session. The token only needs to parse; a token from a superseded family
// still names the right principal.
func (s *Service) Logout(ctx context.Context, rawToken string) error {
	claims, err := s.issuer.ParseRefreshToken(strings.TrimSpace(rawToken))
	if err != nil {
		return err
	}

	return s.EndSession(ctx, claims.PrincipalID)
}

func revoke(sess *Session, now time.Time) {
	sess.RevokedAt = &now
	sess.TokenVersion = 0
	sess.TokenFamilyID = ""
	sess.RefreshTokenHash = ""
}

package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Authorizer decides whether a decoded payload starts a charging session.
// stationID is the station the scanner was opened for, or "" when opened from bottom navigation.
// It returns the station the session is authorized for.
type Authorizer interface {
	Authorize(ctx context.Context, stationID, payload string) (string, error)
}

var (
	_ Authorizer = AcceptAny{}
	_ Authorizer = (*ChallengeAuthorizer)(nil)
)

// AcceptAny authorizes every non-blank payload for the station the scanner was opened for.
type AcceptAny struct{}

// Authorize accepts any payload containing non-space characters.
func (AcceptAny) Authorize(_ context.Context, stationID, payload string) (string, error) {
	if strings.TrimSpace(payload) == "" {
		return "", fmt.Errorf("%w: empty payload", ErrPayloadRejected)
	}
	return stationID, nil
}

// DefaultChallengeTTL is how long an issued challenge stays valid.
const DefaultChallengeTTL = 10 * time.Minute

const challengeIssuer = "voltmap"

// ChallengeConfig holds configuration for the challenge authorizer.
type ChallengeConfig struct {
	// Secret is the HMAC key shared with the station sticker printer.
	Secret string

	// TTL is the challenge lifetime (default: 10 minutes).
	TTL time.Duration

	// Now overrides the clock for tests.
	Now func() time.Time
}

// ChallengeAuthorizer accepts only HS256-signed challenges naming the station being charged.
type ChallengeAuthorizer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewChallengeAuthorizer creates a challenge authorizer.
func NewChallengeAuthorizer(cfg ChallengeConfig) (*ChallengeAuthorizer, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("challenge secret must be at least 32 bytes")
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultChallengeTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &ChallengeAuthorizer{secret: []byte(cfg.Secret), ttl: ttl, now: now}, nil
}

// Issue mints a challenge for stationID.
func (a *ChallengeAuthorizer) Issue(stationID string) (string, error) {
	if stationID == "" {
		return "", errors.New("station id is required")
	}

	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    challengeIssuer,
		Subject:   stationID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		ID:        uuid.NewString(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("signing challenge: %w", err)
	}
	return token, nil
}

// Authorize verifies the challenge signature and expiry. When the scanner was opened for a
// station, the challenge subject must name that station.
func (a *ChallengeAuthorizer) Authorize(_ context.Context, stationID, payload string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(payload), claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(challengeIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPayloadRejected, err.Error())
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: challenge names no station", ErrPayloadRejected)
	}
	if stationID != "" && claims.Subject != stationID {
		return "", fmt.Errorf("%w: challenge is for another station", ErrPayloadRejected)
	}
	return claims.Subject, nil
}

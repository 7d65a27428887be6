package credential

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Subject is the identity snapshot embedded in a token at sign-in time.
type Subject struct {
	ID          int64    `json:"id"`
	Username    string   `json:"username"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// Claims is the verified token payload.
type Claims struct {
	Subject
	jwt.RegisteredClaims
}

// TokenConfig configures issued tokens.
type TokenConfig struct {
	Issuer   string
	Audience string
	Duration time.Duration
}

// TokenManager signs and verifies EdDSA bearer tokens.
type TokenManager struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	cfg     TokenConfig
	now     func() time.Time
}

// NewTokenManager constructs a TokenManager. private may be nil for verify-only use.
func NewTokenManager(private ed25519.PrivateKey, public ed25519.PublicKey, cfg TokenConfig) *TokenManager {
	if cfg.Duration <= 0 {
		cfg.Duration = 24 * time.Hour
	}
	return &TokenManager{private: private, public: public, cfg: cfg, now: time.Now}
}

// Sign issues a token for subject, returning it with its expiry.
func (m *TokenManager) Sign(subject Subject) (string, time.Time, error) {
	if m.private == nil {
		return "", time.Time{}, shared.InternalError("sign token", errors.New("no signing key configured"))
	}
	now := m.now().UTC()
	exp := now.Add(m.cfg.Duration)
	claims := Claims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.cfg.Issuer,
			Subject:   strconv.FormatInt(subject.ID, 10),
			Audience:  jwt.ClaimStrings{m.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["typ"] = "JWT"
	signed, err := token.SignedString(m.private)
	if err != nil {
		return "", time.Time{}, shared.InternalError("sign token", err)
	}
	return signed, exp, nil
}

// Verify parses raw and enforces signature, issuer, audience and expiry.
func (m *TokenManager) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return m.public, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(m.cfg.Issuer),
		jwt.WithAudience(m.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("verify token: %v: %w", err, shared.ErrUnauthorized)
	}
	if claims.Username == "" {
		return nil, fmt.Errorf("verify token: missing username: %w", shared.ErrUnauthorized)
	}
	return claims, nil
}

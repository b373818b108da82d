package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultSessionTTL = 30 * time.Minute

var (
	ErrMissingSigningSecret = errors.New("auth: signing secret required")
	ErrMissingHandle        = errors.New("auth: viewer handle required")
	ErrMissingToken         = errors.New("auth: token required")
	ErrInvalidToken         = errors.New("auth: invalid token")
	ErrExpiredToken         = errors.New("auth: token expired")
)

// Session is the ephemeral viewer identity carried by a signed token. The
// numeric handle is the basis for every authorship and permission check;
// nothing about the viewer is persisted by the catalog engine.
type Session struct {
	Handle int64
	Name   string
	Admin  bool
}

type sessionClaims struct {
	Handle int64  `json:"handle"`
	Name   string `json:"name"`
	Admin  bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// ManagerConfig configures the session token manager.
type ManagerConfig struct {
	SigningSecret []byte
	Issuer        string
	SessionTTL    time.Duration
	Clock         func() time.Time
}

// Manager mints and validates HS256 viewer-session tokens.
type Manager struct {
	signingSecret []byte
	issuer        string
	sessionTTL    time.Duration
	clock         func() time.Time
}

// NewManager constructs a Manager with sane defaults.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = "chartfall"
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		sessionTTL:    ttl,
		clock:         clock,
	}, nil
}

// Issue produces a signed session token and its expiry in seconds.
func (m *Manager) Issue(session Session) (string, int64, error) {
	if session.Handle <= 0 {
		return "", 0, ErrMissingHandle
	}

	now := m.clock().UTC()
	expiresAt := now.Add(m.sessionTTL).UTC()

	claims := sessionClaims{
		Handle: session.Handle,
		Name:   session.Name,
		Admin:  session.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", session.Handle),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.signingSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// Validate parses the supplied token string and returns the viewer session.
func (m *Manager) Validate(tokenString string) (Session, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return Session{}, ErrMissingToken
	}

	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidToken, t.Method.Alg())
			}
			return m.signingSecret, nil
		},
		jwt.WithTimeFunc(m.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Session{}, ErrExpiredToken
		}
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return Session{}, ErrInvalidToken
	}
	if claims.Issuer != m.issuer {
		return Session{}, ErrInvalidToken
	}
	if claims.Handle <= 0 {
		return Session{}, ErrMissingHandle
	}
	return Session{Handle: claims.Handle, Name: claims.Name, Admin: claims.Admin}, nil
}

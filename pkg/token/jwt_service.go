package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is how long an issued access token stays valid.
const DefaultTTL = 30 * 24 * time.Hour

// DevelopmentSecret is used when no signing key is configured. Never deploy with it.
const DevelopmentSecret = "change-this-in-production"

// ErrUnauthenticated covers every reason a bearer token is rejected.
var ErrUnauthenticated = errors.New("invalid token")

// IService issues and validates stateless bearer tokens bound to a user id.
type IService interface {
	Issue(userId string) (string, error)
	Validate(tokenStr string) (string, error)
}

type jwtService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

type Option func(*jwtService)

// WithClock overrides the time source used for issuance and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *jwtService) {
		s.now = now
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(s *jwtService) {
		s.ttl = ttl
	}
}

func NewJWTService(secret string, opts ...Option) IService {
	if secret == "" {
		secret = DevelopmentSecret
	}
	s := &jwtService{
		secret: []byte(secret),
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *jwtService) Issue(userId string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   userId,
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Validate returns the subject of a token that is signed with our key, well formed
// and unexpired. There is no revocation list: a valid token stays valid until exp.
func (s *jwtService) Validate(tokenStr string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(tokenStr, claims,
		func(t *jwt.Token) (interface{}, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return "", ErrUnauthenticated
	}
	if claims.Subject == "" {
		return "", ErrUnauthenticated
	}
	return claims.Subject, nil
}

// Package auth issues and verifies the bearer tokens used by both the REST
// API and the realtime handshake. Tokens are HS256 JWTs carrying the user id;
// the refresh flow lives in the accounts service and is out of scope here.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a token fails signature or claim checks.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims are the JWT claims embedded in marketplace access tokens. The user
// id is duplicated into the registered Subject claim for interoperability
// with the other marketplace services.
type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// Service verifies and (for tooling and tests) issues access tokens.
type Service struct {
	secret []byte

	// AccessTokenDuration controls the lifetime of issued tokens.
	AccessTokenDuration time.Duration
}

// NewService creates a token service with the given signing secret.
func NewService(secret string) *Service {
	return &Service{
		secret:              []byte(secret),
		AccessTokenDuration: 15 * time.Minute,
	}
}

// Issue creates a signed access token for the given user.
func (s *Service) Issue(userID int64) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.AccessTokenDuration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the token signature and expiry and returns the user id it was
// issued for.
func (s *Service) Verify(tokenString string) (int64, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return 0, ErrInvalidToken
	}

	userID := claims.UserID
	if userID == 0 && claims.Subject != "" {
		// Tokens minted by older services carry only the subject claim.
		userID, err = strconv.ParseInt(claims.Subject, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, claims.Subject)
		}
	}
	if userID == 0 {
		return 0, fmt.Errorf("%w: no user id claim", ErrInvalidToken)
	}
	return userID, nil
}

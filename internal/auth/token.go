// Package auth covers credential tokens and principal resolution.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims is the JWT claim set bound to a credential token.
type Claims struct {
	UserID string `json:"sub"`
	jwt.RegisteredClaims
}

// TokenAuthenticator mints and verifies stateless HS256 credential tokens.
// Validity is determined purely by signature and expiry; there is no server
// side session table to revoke against.
type TokenAuthenticator struct {
	secretKey []byte
	issuer    string
	validity  time.Duration
}

func NewTokenAuthenticator(secretKey, issuer string, validity time.Duration) *TokenAuthenticator {
	return &TokenAuthenticator{
		secretKey: []byte(secretKey),
		issuer:    issuer,
		validity:  validity,
	}
}

// Mint creates a signed token bound to userID.
func (a *TokenAuthenticator) Mint(userID string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.validity)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    a.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secretKey)
}

// Verify parses and validates a raw token, returning the bound user ID.
func (a *TokenAuthenticator) Verify(raw string) (string, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.UserID != "" {
		return claims.UserID, nil
	}
	return "", ErrInvalidToken
}

// Package utils provides helpers for minting admin access tokens.
package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the only role accepted by the admin endpoints.
const RoleAdmin = "ADMIN"

// AccessToken is a signed JWT along with its expiry.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// NewAdminToken builds and signs an HS256 JWT carrying the admin role.
// subject names the operator the token was issued to and shows up in
// the logs of every admin request.
func NewAdminToken(secret, subject string, ttl time.Duration) (AccessToken, error) {
	if secret == "" {
		return AccessToken{}, errors.New("jwt secret is empty")
	}
	if ttl <= 0 {
		return AccessToken{}, errors.New("token ttl must be positive")
	}
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": RoleAdmin,
		"exp":  exp.Unix(),
		"iat":  now.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

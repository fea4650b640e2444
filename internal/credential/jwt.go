package credential

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nfrund/chatsession/internal/domain"
)

// Issuer is the iss claim of tokens minted by the development backend.
const Issuer = "chatsession-dev"

// Claims is the JWT body: the subject is the user id, Name the display name.
type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// Parse reads the subject, display name and expiry of raw without verifying its signature.
// Tokens that are not JWTs, or carry no exp, expire at fallback.
func Parse(raw string, fallback time.Time) domain.Credential {
	cred := domain.Credential{Token: raw, ExpiresAt: fallback}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return cred
	}
	cred.Subject = claims.Subject
	cred.Name = claims.Name
	if claims.ExpiresAt != nil {
		cred.ExpiresAt = claims.ExpiresAt.Time
	}
	return cred
}

// Issue signs an HS256 token for the given user.
func Issue(key []byte, subject, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of raw. Any failure is reported as
// domain.ErrUnauthorized wrapping the cause.
func Verify(key []byte, raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, errors.Join(domain.ErrUnauthorized, err)
	}
	if !token.Valid {
		return nil, errors.Join(domain.ErrUnauthorized, jwt.ErrSignatureInvalid)
	}
	return claims, nil
}

// Package auth mints and checks the bearer tokens chat transports present.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const TransportSubject = "transport"

var ErrInvalidToken = errors.New("auth: invalid token")

type TransportClaims struct {
	// Name identifies the transport in logs, e.g. "telegram".
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// SignTransportToken issues an HS256 token for a transport. A zero ttl never expires.
func SignTransportToken(secret, name string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("auth: empty secret")
	}
	now := time.Now()
	c := TransportClaims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  TransportSubject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl != 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}

func ParseTransportToken(secret, raw string) (*TransportClaims, error) {
	var c TransportClaims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithSubject(TransportSubject))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &c, nil
}

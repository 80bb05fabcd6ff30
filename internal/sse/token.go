package sse

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Token validation failures surfaced to the transport layer.
var (
	ErrTokenInvalid  = errors.New("subscription token invalid")
	ErrAudienceWrong = errors.New("subscription token audience mismatch")
)

// TokenClaims is the validated identity of an SSE subscription: which
// broadcaster's stream it may read and as which audience.
type TokenClaims struct {
	Broadcaster string
	Audience    string
}

type subscriptionClaims struct {
	jwt.RegisteredClaims
}

// MintToken issues a short-lived HS256 subscription token for one
// broadcaster and audience.
func MintToken(key []byte, broadcasterID, audience string, ttl time.Duration, now time.Time) (string, error) {
	claims := subscriptionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   broadcasterID,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// ValidateToken parses and verifies a subscription token and checks it was
// minted for the requested audience.
func ValidateToken(key []byte, raw, wantAudience string) (TokenClaims, error) {
	var claims subscriptionClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil || !token.Valid {
		return TokenClaims{}, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return TokenClaims{}, ErrTokenInvalid
	}

	matched := ""
	for _, aud := range claims.Audience {
		if aud == wantAudience {
			matched = aud
			break
		}
	}
	if matched == "" {
		return TokenClaims{}, ErrAudienceWrong
	}
	return TokenClaims{Broadcaster: claims.Subject, Audience: matched}, nil
}

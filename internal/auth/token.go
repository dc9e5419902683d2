package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// PushTokenVerifier validates the bearer token attached to push-style webhook
// deliveries, such as the mail gateway's subscription pushes.
type PushTokenVerifier struct {
	secret   []byte
	audience string
}

// NewPushTokenVerifier builds a verifier from the shared push secret.
func NewPushTokenVerifier(secret, audience string) *PushTokenVerifier {
	return &PushTokenVerifier{secret: []byte(secret), audience: audience}
}

// PushClaims describes the expected JWT payload.
type PushClaims struct {
	jwt.RegisteredClaims
}

// Verify validates signature, expiry, and audience of the token.
func (v *PushTokenVerifier) Verify(tokenStr string) (*PushClaims, error) {
	if len(v.secret) == 0 {
		return nil, errors.New("push secret not configured")
	}
	parsed, err := jwt.ParseWithClaims(tokenStr, &PushClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, jwt.WithLeeway(30*time.Second))
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*PushClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	if v.audience != "" {
		if err := verifyAudience(claims, v.audience); err != nil {
			return nil, err
		}
	}
	return claims, nil
}

func verifyAudience(claims *PushClaims, want string) error {
	for _, aud := range claims.Audience {
		if aud == want {
			return nil
		}
	}
	return errors.New("audience mismatch")
}

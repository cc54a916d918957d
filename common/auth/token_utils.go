package auth

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// TokenValidator checks HMAC-signed JWTs against a fixed secret.
type TokenValidator struct {
	secretKey []byte
}

// NewTokenValidator returns a validator for secret. An empty secret yields a
// validator that rejects every token.
func NewTokenValidator(secret string) *TokenValidator {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &TokenValidator{}
	}
	return &TokenValidator{secretKey: []byte(secret)}
}

// ParseAndValidateToken parses a JWT token string and returns its claims.
// If expectedRole is non-empty, the claim "role" must match it.
func (v *TokenValidator) ParseAndValidateToken(tokenStr, expectedRole string) (jwt.MapClaims, error) {
	if v.secretKey == nil {
		return nil, fmt.Errorf("JWT secret not configured")
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secretKey, nil
	})
	if err != nil || token == nil || !token.Valid {
		return nil, fmt.Errorf("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	if expectedRole != "" {
		if role, ok := claims["role"].(string); !ok || role != expectedRole {
			return nil, fmt.Errorf("invalid token role")
		}
	}
	return claims, nil
}

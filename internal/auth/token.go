// Package auth issues and parses the signed access tokens used by the API.
package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	Sub  string
	Name string
	JTI  string
	Exp  time.Time
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// IssueToken signs an HS256 access token for the given claims.
func IssueToken(secret []byte, claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  claims.Sub,
		"name": claims.Name,
		"jti":  claims.JTI,
		"iat":  time.Now().Unix(),
		"exp":  claims.Exp.Unix(),
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a token string and returns its claims.
func ParseToken(secret []byte, tokenString string) (Claims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrInvalidToken
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Claims{}, ErrInvalidToken
	}

	sub, _ := mapClaims["sub"].(string)
	name, _ := mapClaims["name"].(string)
	jti, _ := mapClaims["jti"].(string)
	expRaw, _ := mapClaims["exp"].(float64)
	if sub == "" || jti == "" || expRaw == 0 {
		return Claims{}, ErrInvalidToken
	}

	return Claims{
		Sub:  sub,
		Name: name,
		JTI:  jti,
		Exp:  time.Unix(int64(expRaw), 0),
	}, nil
}

// HashToken returns the hex sha256 of an opaque refresh token.
// Only the hash is ever persisted.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}

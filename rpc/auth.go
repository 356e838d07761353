package rpc

import (
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// AdminScope is the scope an admin bearer token must carry.
const AdminScope = "bond:admin"

// AdminAuth verifies HMAC-signed admin bearer tokens.
type AdminAuth struct {
	secret    []byte
	clockSkew time.Duration
	now       func() time.Time
}

// NewAdminAuth returns a verifier for tokens signed with secret. An empty
// secret rejects every token.
func NewAdminAuth(secret string) *AdminAuth {
	return &AdminAuth{
		secret:    []byte(strings.TrimSpace(secret)),
		clockSkew: 2 * time.Minute,
		now:       time.Now,
	}
}

// IssueAdminToken mints a token valid for ttl. Used by operators and tests.
func IssueAdminToken(secret, subject string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("admin secret required")
	}
	claims := jwt.MapClaims{
		"sub":   subject,
		"scope": AdminScope,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(secret)))
}

// Check validates the Authorization header of r and returns the token
// subject.
func (a *AdminAuth) Check(r *http.Request) (string, *RPCError) {
	if a == nil || len(a.secret) == 0 {
		return "", &RPCError{Code: codeUnauthorized, Message: "RPC admin secret not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	tokenString := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if tokenString == "" {
		return "", &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.clockSkew), jwt.WithExpirationRequired(), jwt.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return "", &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !hasScope(claims, AdminScope) {
		return "", &RPCError{Code: codeUnauthorized, Message: "insufficient scope"}
	}
	subject, _ := claims.GetSubject()
	return subject, nil
}

func hasScope(claims jwt.MapClaims, want string) bool {
	switch raw := claims["scope"].(type) {
	case string:
		for _, scope := range strings.Fields(raw) {
			if scope == want {
				return true
			}
		}
	case []interface{}:
		for _, item := range raw {
			if s, ok := item.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}

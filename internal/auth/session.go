// Package auth turns bearer tokens into the explicit session passed to every
// core operation. Token issuance itself belongs to an external identity
// service; IssueToken exists for development tooling and tests.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken occurs when no bearer token accompanies a request.
	ErrMissingToken = errors.New("auth: bearer token missing")
	// ErrInvalidToken occurs when a token cannot be verified or carries no subject.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Session is the current user identity consumed by the core.
type Session struct {
	UserID string
	Token  string
}

// Valid reports whether the session names a user.
func (s Session) Valid() bool {
	return s.UserID != ""
}

// Claims carried by loanbook bearer tokens.
type Claims struct {
	jwt.RegisteredClaims
}

// Verifier validates HMAC signed bearer tokens.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier constructs a Verifier for the shared secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()),
	}
}

// Verify checks the token signature and expiry and returns the session.
func (v *Verifier) Verify(token string) (Session, error) {
	if token == "" {
		return Session{}, ErrMissingToken
	}
	var claims Claims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Session{}, ErrInvalidToken
	}
	return Session{UserID: claims.Subject, Token: token}, nil
}

// IssueToken signs a token for userID valid for ttl.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("auth: user id required")
	}
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// SessionFromToken reads the subject without verifying the signature. The
// gateway uses it to learn who it acts for; the backend still verifies every call.
func SessionFromToken(token string) (Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, ErrMissingToken
	}
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Session{}, ErrInvalidToken
	}
	return Session{UserID: claims.Subject, Token: token}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

type sessionContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) (Session, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(Session)
	return sess, ok && sess.Valid()
}

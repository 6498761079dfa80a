package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingCredential is returned when no Authorization header is present
	ErrMissingCredential = errors.New("missing credential")

	// ErrMalformedCredential is returned when the header is not of the form "Bearer <token>"
	ErrMalformedCredential = errors.New("malformed authorization header")

	// ErrInvalidToken is returned when the token signature or claims are invalid
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")
)

const bearerPrefix = "Bearer "

// Identity is the authenticated caller, valid for one request
type Identity struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Claims are the JWT claims carried by access tokens
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"id"`
	Role   string `json:"role"`
}

// Verifier validates HS256 bearer tokens signed with a process-wide secret
type Verifier struct {
	key    []byte
	issuer string
	leeway time.Duration
}

// NewVerifier creates a verifier for tokens signed with secret.
// An empty issuer disables the issuer check.
func NewVerifier(secret []byte, issuer string) *Verifier {
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Verifier{
		key:    key,
		issuer: issuer,
		leeway: 5 * time.Second,
	}
}

// Verify extracts the bearer token from an Authorization header value and validates it
func (v *Verifier) Verify(header string) (Identity, error) {
	token, err := ParseBearer(header)
	if err != nil {
		return Identity{}, err
	}
	return v.VerifyToken(token)
}

// VerifyToken validates a raw token and returns the identity it carries
func (v *Verifier) VerifyToken(tokenString string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	if claims.UserID == "" {
		return Identity{}, fmt.Errorf("%w: missing id claim", ErrInvalidToken)
	}

	return Identity{ID: claims.UserID, Role: claims.Role}, nil
}

// ParseBearer returns the token from an Authorization header value
func ParseBearer(header string) (string, error) {
	if header == "" {
		return "", ErrMissingCredential
	}
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", ErrMalformedCredential
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", ErrMalformedCredential
	}
	return token, nil
}

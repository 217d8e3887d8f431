// Package auth verifies the bearer credentials presented when a client opens
// a connection and turns them into chat identities.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/gochat/internal/chat"
)

// Verifier validates a credential and yields the identity embedded in it.
type Verifier interface {
	Verify(ctx context.Context, credential string) (chat.Identity, error)
}

// JWTConfig holds the HS256 signing parameters shared with the token issuer.
type JWTConfig struct {
	SecretKey string
	Issuer    string
	// Leeway tolerates clock skew between the issuer and this process.
	Leeway time.Duration
}

// Claims are the claims read from a chat credential. UserID falls back to the
// registered subject when absent.
type Claims struct {
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens.
type JWTVerifier struct {
	config JWTConfig
	parser *jwt.Parser
}

// NewJWTVerifier creates a verifier for the given configuration.
func NewJWTVerifier(config JWTConfig) *JWTVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(config.Leeway),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	return &JWTVerifier{
		config: config,
		parser: jwt.NewParser(opts...),
	}
}

// Verify parses credential and returns the identity. A missing credential
// yields chat.ErrUnauthenticated; anything unparseable, badly signed or
// expired yields chat.ErrInvalidCredential.
func (v *JWTVerifier) Verify(_ context.Context, credential string) (chat.Identity, error) {
	if credential == "" {
		return chat.Identity{}, chat.ErrUnauthenticated
	}

	var claims Claims
	_, err := v.parser.ParseWithClaims(credential, &claims, func(*jwt.Token) (any, error) {
		return []byte(v.config.SecretKey), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return chat.Identity{}, fmt.Errorf("%w: token has expired", chat.ErrInvalidCredential)
		}
		return chat.Identity{}, fmt.Errorf("%w: %v", chat.ErrInvalidCredential, err)
	}

	id := claims.UserID
	if id == "" {
		id = claims.Subject
	}
	if err := chat.ValidateIdentityID(id); err != nil {
		return chat.Identity{}, err
	}

	name := claims.Username
	if name == "" {
		name = id
	}
	return chat.Identity{ID: id, Name: name}, nil
}

// Issuer mints credentials. The surrounding login service owns issuance in
// production; the core uses it for tooling and tests.
type Issuer struct {
	config JWTConfig
	ttl    time.Duration
}

// NewIssuer creates an issuer whose tokens expire after ttl.
func NewIssuer(config JWTConfig, ttl time.Duration) *Issuer {
	return &Issuer{config: config, ttl: ttl}
}

// Issue signs a credential for the identity.
func (i *Issuer) Issue(id chat.Identity) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   id.ID,
		Username: id.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.config.Issuer,
			Subject:   id.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(i.config.SecretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign credential: %w", err)
	}
	return signed, nil
}

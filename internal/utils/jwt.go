package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ActorKind identifies who a token was issued to
type ActorKind string

const (
	ActorAffiliate ActorKind = "affiliate"
	ActorProvider  ActorKind = "provider"
	ActorAdmin     ActorKind = "admin"
)

// Valid reports whether k is a known actor kind
func (k ActorKind) Valid() bool {
	switch k {
	case ActorAffiliate, ActorProvider, ActorAdmin:
		return true
	}
	return false
}

// Claims represents the JWT claims issued by the account service
type Claims struct {
	ActorID uuid.UUID `json:"actor_id"`
	Kind    ActorKind `json:"kind"`
	jwt.RegisteredClaims
}

// TokenManager signs and validates HS256 tokens with a shared secret
type TokenManager struct {
	secret []byte
	issuer string
}

// NewTokenManager creates a token manager. An empty issuer skips the issuer check.
func NewTokenManager(secret, issuer string) *TokenManager {
	return &TokenManager{secret: []byte(secret), issuer: issuer}
}

// GenerateToken creates a signed token for an actor
func (m *TokenManager) GenerateToken(actorID uuid.UUID, kind ActorKind, ttl time.Duration) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("unknown actor kind %q", kind)
	}
	now := time.Now()
	claims := Claims{
		ActorID: actorID,
		Kind:    kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID.String(),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// ValidateToken validates a JWT token and returns the claims
func (m *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.ActorID == uuid.Nil || !claims.Kind.Valid() {
		return nil, errors.New("token has no actor")
	}
	return claims, nil
}

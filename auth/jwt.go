package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ueno-ryu/fallback-gateway/config"
	"github.com/ueno-ryu/fallback-gateway/middleware"
)

// Validator validates HS256-signed bearer tokens against a shared secret.
// It implements middleware.TokenValidator.
type Validator struct {
	secret   []byte
	issuer   string
	audience string
}

// NewValidator creates a new JWT validator
func NewValidator(cfg config.AuthConfig) (*Validator, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth secret is required")
	}
	return &Validator{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}, nil
}

// ValidateToken validates a JWT token and returns its claims
func (v *Validator) ValidateToken(_ context.Context, tokenStr string) (*middleware.Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("token parse failed: %w", err)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("unexpected claims type")
	}

	sub, err := mapClaims.GetSubject()
	if err != nil || sub == "" {
		return nil, errors.New("token missing subject")
	}

	claims := &middleware.Claims{Sub: sub}
	if name, ok := mapClaims["name"].(string); ok {
		claims.Name = name
	}
	if role, ok := mapClaims["role"].(string); ok {
		claims.Role = role
	}

	return claims, nil
}

package auth

import (
	"slices"
	"time"
)

// ScopeAdmin grants access to the admin endpoints.
const ScopeAdmin = "reportq:admin"

// Claims represents authentication token claims
type Claims struct {
	Subject   string
	Email     string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Scopes    []string
	Groups    []string
	Raw       map[string]any
}

// HasScope checks if the claims contain a specific scope
func (c *Claims) HasScope(scope string) bool {
	return c != nil && slices.Contains(c.Scopes, scope)
}

func (c *Claims) HasGroup(group string) bool {
	return c != nil && slices.Contains(c.Groups, group)
}

// Validator validates authentication tokens
type Validator interface {
	Validate(token string) (*Claims, error)
}

// Config contains validator configuration
type Config struct {
	JwksURL     string
	Issuer      string
	Audience    string
	ClockSkew   time.Duration
	HTTPTimeout time.Duration
}

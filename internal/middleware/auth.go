package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/osvaldoandrade/reportq/internal/services"
	"github.com/osvaldoandrade/reportq/pkg/auth"

	"github.com/gin-gonic/gin"
)

const (
	claimsKey    = "userClaims"
	submitterKey = "submitter"
)

// AuthMiddleware validates the bearer token and stores the claims and the derived
// submitter on the request.
func AuthMiddleware(validator auth.Validator) gin.HandlerFunc {
	if validator == nil {
		return func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "identity validator not configured"})
		}
	}
	return func(c *gin.Context) {
		claims, err := validateBearer(validator, c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(claimsKey, claims)
		c.Set(submitterKey, submitterFromClaims(claims))
		c.Next()
	}
}

func validateBearer(validator auth.Validator, authHeader string) (*auth.Claims, error) {
	token := bearerToken(authHeader)
	if token == "" {
		if strings.TrimSpace(authHeader) == "" {
			return nil, errors.New("missing Authorization header")
		}
		return nil, errors.New("invalid Authorization format")
	}
	claims, err := validator.Validate(token)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

func bearerToken(authHeader string) string {
	parts := strings.SplitN(strings.TrimSpace(authHeader), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func submitterFromClaims(claims *auth.Claims) services.Submitter {
	return services.Submitter{ID: strings.TrimSpace(claims.Subject), Groups: claims.Groups}
}

// ClaimsFrom returns the claims stored by AuthMiddleware, or nil.
func ClaimsFrom(c *gin.Context) *auth.Claims {
	v, _ := c.Get(claimsKey)
	claims, _ := v.(*auth.Claims)
	return claims
}

// SubmitterFrom returns the submitter stored by AuthMiddleware. The zero value holds
// no principals and is denied everything.
func SubmitterFrom(c *gin.Context) services.Submitter {
	v, _ := c.Get(submitterKey)
	s, _ := v.(services.Submitter)
	return s
}

package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/leadbridge/backend/internal/utils"
)

// Context keys set by AuthMiddleware
const (
	ActorIDKey   = "actor_id"
	ActorKindKey = "actor_kind"
)

// TokenValidator validates bearer tokens, normally a *utils.TokenManager
type TokenValidator interface {
	ValidateToken(tokenString string) (*utils.Claims, error)
}

// AuthMiddleware verifies JWT tokens and adds the actor to the context
func AuthMiddleware(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization token required"})
			return
		}

		claims, err := tokens.ValidateToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(ActorIDKey, claims.ActorID)
		c.Set(ActorKindKey, claims.Kind)
		c.Next()
	}
}

// RequireActor allows only the listed actor kinds. Admins pass every check.
func RequireActor(kinds ...utils.ActorKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, kind, ok := Actor(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization token required"})
			return
		}
		if kind == utils.ActorAdmin {
			c.Next()
			return
		}
		for _, k := range kinds {
			if kind == k {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}

// Actor returns the authenticated actor of the request
func Actor(c *gin.Context) (uuid.UUID, utils.ActorKind, bool) {
	id, ok := c.Get(ActorIDKey)
	if !ok {
		return uuid.Nil, "", false
	}
	kind, ok := c.Get(ActorKindKey)
	if !ok {
		return uuid.Nil, "", false
	}
	actorID, idOK := id.(uuid.UUID)
	actorKind, kindOK := kind.(utils.ActorKind)
	return actorID, actorKind, idOK && kindOK
}

// extractToken gets the token from the Authorization header
func extractToken(c *gin.Context) string {
	parts := strings.Fields(c.GetHeader("Authorization"))
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}

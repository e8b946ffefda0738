package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/router-for-me/SchoolAuth/internal/auth"
	"github.com/router-for-me/SchoolAuth/internal/models"
)

const principalKey = "principal"

// Authenticate resolves the bearer token to an active principal and stores it on the context.
func Authenticate(gate *auth.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, errToken := auth.BearerToken(c.GetHeader("Authorization"))
		if errToken != nil {
			RespondError(c, errToken)
			c.Abort()
			return
		}
		principal, errAuth := gate.Authenticate(c.Request.Context(), token)
		if errAuth != nil {
			RespondError(c, errAuth)
			c.Abort()
			return
		}
		c.Set(principalKey, principal)
		c.Set("userID", principal.ID)
		c.Next()
	}
}

// Require rejects requests whose principal fails any predicate.
func Require(predicates ...auth.Predicate) gin.HandlerFunc {
	return func(c *gin.Context) {
		if errCheck := auth.Check(CurrentPrincipal(c), predicates...); errCheck != nil {
			RespondError(c, errCheck)
			c.Abort()
			return
		}
		c.Next()
	}
}

// CurrentPrincipal returns the principal resolved by Authenticate, or nil.
func CurrentPrincipal(c *gin.Context) *models.User {
	val, exists := c.Get(principalKey)
	if !exists {
		return nil
	}
	principal, _ := val.(*models.User)
	return principal
}

package middleware

import (
	"errors"
	"log"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"storefront/internal/models"
)

const (
	CartSessionHeader = "X-Cart-Session"
	ContextCartOwner  = "cartOwner"
)

// UserAuth validates user JWT tokens and injects the userId into the context.
func UserAuth(secret string) gin.HandlerFunc {
	return AuthGuard(secret)
}

// OptionalUser sets the identity when a valid token is sent and lets
// anonymous requests through. An invalid token is still rejected.
func OptionalUser(secret string) gin.HandlerFunc {
	guard := AuthGuard(secret)
	return func(c *gin.Context) {
		if strings.TrimSpace(c.GetHeader("Authorization")) == "" {
			c.Next()
			return
		}
		guard(c)
	}
}

// CartOwner resolves whose cart a request addresses: the signed-in identity,
// or the anonymous session named by X-Cart-Session. Anonymous requests
// without a session get a new token back in the same header.
func CartOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID := c.GetString(ContextUserID); userID != "" {
			c.Set(ContextCartOwner, models.IdentityCart(userID))
			c.Next()
			return
		}

		token := strings.TrimSpace(c.GetHeader(CartSessionHeader))
		if _, err := uuid.Parse(token); err != nil {
			if token != "" {
				log.Println("[CART] [WARN] ignoring malformed cart session token")
			}
			token = uuid.NewString()
		}
		c.Header(CartSessionHeader, token)
		c.Set(ContextCartOwner, models.AnonymousCart(token))
		c.Next()
	}
}

var ErrNoCartOwner = errors.New("cart owner not resolved")

func CartOwnerFrom(c *gin.Context) (models.CartOwner, error) {
	v, ok := c.Get(ContextCartOwner)
	if !ok {
		return models.CartOwner{}, ErrNoCartOwner
	}
	owner, ok := v.(models.CartOwner)
	if !ok {
		return models.CartOwner{}, ErrNoCartOwner
	}
	return owner, nil
}

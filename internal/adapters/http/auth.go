package http

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/fundmentor/signaling/internal/domain"
)

// IdentityMiddleware decodes the platform-issued bearer token and attaches
// the claimed user id to the request. Token issuance and verification of the
// account itself happen upstream; a missing or unparsable token degrades to
// the unauthenticated sentinel instead of rejecting the connection, since
// ownership checks simply never match it.
func IdentityMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user_id", string(identityFrom(c, secret)))
		c.Next()
	}
}

func identityFrom(c *gin.Context, secret string) domain.UserID {
	raw := bearerToken(c)
	if raw == "" || secret == "" {
		return domain.Unauthenticated
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return domain.Unauthenticated
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return domain.Unauthenticated
	}
	userID, ok := claims["userId"].(string)
	if !ok || userID == "" {
		return domain.Unauthenticated
	}
	return domain.UserID(userID)
}

// bearerToken pulls the token from the Authorization header, falling back to
// the token query param (browsers cannot set headers on websocket dials).
func bearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return c.Query("token")
}

package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/PauFou/form-builder-sub001/internal/handler"
)

const ContextOrganizationID = "organization_id"

// AdminAuth guards the webhook management and dead-letter read surface with
// a service token issued by the admin application. The token carries the
// organization the caller acts for.
type AdminAuth struct {
	secret []byte
}

func NewAdminAuth(secret string) *AdminAuth {
	return &AdminAuth{secret: []byte(secret)}
}

func (a *AdminAuth) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		if !strings.HasPrefix(raw, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				handler.NewErrorResponse("UNAUTHORIZED", "missing bearer token"))
			return
		}

		token, err := jwt.Parse(strings.TrimPrefix(raw, "Bearer "), func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return a.secret, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				handler.NewErrorResponse("UNAUTHORIZED", "invalid token"))
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				handler.NewErrorResponse("UNAUTHORIZED", "invalid claims"))
			return
		}
		orgID, _ := claims["org_id"].(string)
		if orgID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				handler.NewErrorResponse("UNAUTHORIZED", "missing org_id claim"))
			return
		}

		c.Set(ContextOrganizationID, orgID)
		c.Next()
	}
}

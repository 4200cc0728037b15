package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PauFou/form-builder-sub001/internal/handler"
)

// SizeLimit rejects bodies over maxBytes before they reach a handler.
func SizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge,
				handler.NewErrorResponse("MALFORMED_PAYLOAD", "request body too large"))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

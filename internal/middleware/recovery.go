package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PauFou/form-builder-sub001/internal/handler"
	"github.com/PauFou/form-builder-sub001/pkg/logger"
)

// Recovery converts panics into 500 responses instead of dropped connections.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.ZL.Error().
					Interface("panic", r).
					Str("path", c.Request.URL.Path).
					Str("request_id", c.GetString(ContextRequestID)).
					Msg("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError,
					handler.NewErrorResponse("INTERNAL", "internal server error"))
			}
		}()
		c.Next()
	}
}

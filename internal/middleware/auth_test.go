package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "jwt-signing-secret-for-tests"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func authTestEngine() (*gin.Engine, *string) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()

	var gotOrgID string
	engine.GET("/protected", NewAdminAuth(testJWTSecret).Authenticate(), func(c *gin.Context) {
		gotOrgID = c.GetString(ContextOrganizationID)
		c.Status(http.StatusNoContent)
	})
	return engine, &gotOrgID
}

func TestAdminAuthAcceptsValidToken(t *testing.T) {
	engine, gotOrgID := authTestEngine()

	orgID := uuid.New().String()
	token := signToken(t, testJWTSecret, jwt.MapClaims{
		"org_id": orgID,
		"exp":    time.Now().Add(time.Hour).Unix(),
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, orgID, *gotOrgID)
}

func TestAdminAuthRejections(t *testing.T) {
	engine, _ := authTestEngine()

	expired := signToken(t, testJWTSecret, jwt.MapClaims{
		"org_id": uuid.New().String(),
		"exp":    time.Now().Add(-time.Hour).Unix(),
	})
	wrongKey := signToken(t, "a-different-secret-entirely", jwt.MapClaims{
		"org_id": uuid.New().String(),
	})
	noOrg := signToken(t, testJWTSecret, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"not bearer", "Basic abc"},
		{"garbage token", "Bearer not.a.jwt"},
		{"expired token", "Bearer " + expired},
		{"wrong signing key", "Bearer " + wrongKey},
		{"missing org claim", "Bearer " + noOrg},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			engine.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

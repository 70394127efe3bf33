package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testSigner() *Signer {
	return NewSigner("leveltwo", "test-key", time.Minute, time.Hour)
}

func TestIssueAndParse(t *testing.T) {
	s := testSigner()
	pair, err := s.Issue("u1", "Marina", "servant")
	require.NoError(t, err)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	claims, err := s.Parse(pair.AccessToken, TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "Marina", claims.Name)
	assert.Equal(t, "servant", claims.Role)

	_, err = s.Parse(pair.RefreshToken, TypeAccess)
	assert.Error(t, err, "refresh token must not pass as access token")

	_, err = s.Parse(pair.RefreshToken, TypeRefresh)
	assert.NoError(t, err)
}

func TestParseRejectsForeignTokens(t *testing.T) {
	s := testSigner()
	pair, err := s.Issue("u1", "Marina", "servant")
	require.NoError(t, err)

	other := NewSigner("leveltwo", "other-key", time.Minute, time.Hour)
	_, err = other.Parse(pair.AccessToken, TypeAccess)
	assert.Error(t, err)

	otherIssuer := NewSigner("someone-else", "test-key", time.Minute, time.Hour)
	_, err = otherIssuer.Parse(pair.AccessToken, TypeAccess)
	assert.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	s := testSigner()
	s.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }
	pair, err := s.Issue("u1", "Marina", "servant")
	require.NoError(t, err)

	s.now = time.Now
	_, err = s.Parse(pair.AccessToken, TypeAccess)
	assert.Error(t, err)
}

func newRouter(s *Signer) *gin.Engine {
	r := gin.New()
	g := r.Group("/", UserAuth(s))
	g.GET("/me", func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.String(http.StatusOK, claims.Subject)
	})
	g.GET("/admin", RequireRole("admin"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestUserAuthMiddleware(t *testing.T) {
	s := testSigner()
	r := newRouter(s)
	servant, err := s.Issue("u1", "Marina", "servant")
	require.NoError(t, err)
	admin, err := s.Issue("a1", "Abanoub", "admin")
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing token", "/me", "", http.StatusUnauthorized},
		{"garbage token", "/me", "Bearer nope", http.StatusUnauthorized},
		{"bearer header", "/me", "Bearer " + servant.AccessToken, http.StatusOK},
		{"lowercase scheme", "/me", "bearer " + servant.AccessToken, http.StatusOK},
		{"query token", "/me?access_token=" + servant.AccessToken, "", http.StatusOK},
		{"refresh token rejected", "/me", "Bearer " + servant.RefreshToken, http.StatusUnauthorized},
		{"servant on admin route", "/admin", "Bearer " + servant.AccessToken, http.StatusForbidden},
		{"admin on admin route", "/admin", "Bearer " + admin.AccessToken, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

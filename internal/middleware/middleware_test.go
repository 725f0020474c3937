package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-console-api/internal/models"
	"github.com/noah-isme/sma-console-api/internal/service"
	appErrors "github.com/noah-isme/sma-console-api/pkg/errors"
)

type stubResolver struct {
	session   models.Session
	err       error
	lastToken string
}

func (s *stubResolver) ResolveSession(ctx context.Context, token string) (models.Session, error) {
	s.lastToken = token
	return s.session, s.err
}

type stubLoader struct{ terms []models.Term }

func (l stubLoader) LoadTerms(ctx context.Context) ([]models.Term, error) { return l.terms, nil }

func signedIn(role models.Role) models.Session {
	return models.Session{
		Identity: &models.Identity{ID: "u1", Email: "ana@school.test", SessionID: "s1"},
		Profile:  &models.Profile{ID: "u1", Role: role},
	}
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/x", handlers...)
	return r
}

func perform(r *gin.Engine, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) (string, map[string]interface{}) {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code, body.Meta
}

func TestAuthenticateRequiresBearerToken(t *testing.T) {
	r := newRouter(Authenticate(&stubResolver{session: signedIn(models.RoleAdmin)}))

	assert.Equal(t, http.StatusUnauthorized, perform(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, perform(r, "Basic abc").Code)
	assert.Equal(t, http.StatusOK, perform(r, "Bearer tok").Code)
}

func TestAuthenticateMapsResolverOutcomes(t *testing.T) {
	anonymous := newRouter(Authenticate(&stubResolver{session: models.Session{Anonymous: true}}))
	assert.Equal(t, http.StatusUnauthorized, perform(anonymous, "Bearer tok").Code)

	timedOut := newRouter(Authenticate(&stubResolver{session: models.Session{TimedOut: true}, err: appErrors.Clone(appErrors.ErrSessionTimeout, "")}))
	w := perform(timedOut, "Bearer tok")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	unresolved := newRouter(Authenticate(&stubResolver{err: appErrors.Clone(appErrors.ErrProfileUnresolved, "")}))
	w = perform(unresolved, "Bearer tok")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	code, _ := decodeError(t, w)
	assert.Equal(t, appErrors.ErrProfileUnresolved.Code, code)
}

func TestAuthenticateStoresSession(t *testing.T) {
	resolver := &stubResolver{session: signedIn(models.RoleTutor)}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", Authenticate(resolver), func(c *gin.Context) {
		session, ok := SessionFromContext(c)
		require.True(t, ok)
		assert.Equal(t, models.RoleTutor, session.Profile.Role)
		assert.Equal(t, "s1", c.GetString(ContextSessionIDKey))
		c.Status(http.StatusNoContent)
	})

	w := perform(r, "Bearer tok")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "tok", resolver.lastToken)
}

type stubIdentities struct {
	identity *models.Identity
	err      error
}

func (s stubIdentities) CurrentIdentity(ctx context.Context, accessToken string) (*models.Identity, error) {
	return s.identity, s.err
}

func TestRequireIdentitySkipsProfileResolution(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/x", RequireIdentity(stubIdentities{identity: &models.Identity{ID: "u1", SessionID: "s1"}}), func(c *gin.Context) {
		session, ok := SessionFromContext(c)
		require.True(t, ok)
		assert.Equal(t, "s1", session.Identity.SessionID)
		assert.Nil(t, session.Profile)
		assert.Equal(t, "s1", c.GetString(ContextSessionIDKey))
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRequireIdentityRejectsEndedSession(t *testing.T) {
	r := newRouter(RequireIdentity(stubIdentities{err: appErrors.Clone(appErrors.ErrUnauthorized, "session has ended")}))
	assert.Equal(t, http.StatusUnauthorized, perform(r, "Bearer tok").Code)
	assert.Equal(t, http.StatusUnauthorized, perform(r, "").Code)
}

func TestOptionalSessionNeverBlocks(t *testing.T) {
	r := newRouter(OptionalSession(&stubResolver{err: appErrors.Clone(appErrors.ErrUnauthorized, "")}))
	assert.Equal(t, http.StatusOK, perform(r, "").Code)
	assert.Equal(t, http.StatusOK, perform(r, "Bearer tok").Code)
}

func TestRequireAreaDeniesOtherRoles(t *testing.T) {
	r := newRouter(Authenticate(&stubResolver{session: signedIn(models.RoleTutor)}), RequireArea(service.AreaAdmin))

	w := perform(r, "Bearer tok")
	assert.Equal(t, http.StatusForbidden, w.Code)
	code, meta := decodeError(t, w)
	assert.Equal(t, appErrors.ErrAccessDenied.Code, code)
	assert.Equal(t, "/login", meta["redirect"])

	admin := newRouter(Authenticate(&stubResolver{session: signedIn(models.RoleAdmin)}), RequireArea(service.AreaAdmin))
	assert.Equal(t, http.StatusOK, perform(admin, "Bearer tok").Code)
}

func TestTermScopeAttachesSessionContext(t *testing.T) {
	registry := service.NewTermContextRegistry(stubLoader{terms: []models.Term{{ID: "t1", IsActive: true}}}, nil, nil)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", Authenticate(&stubResolver{session: signedIn(models.RoleAdmin)}), TermScope(registry), func(c *gin.Context) {
		tc := TermContextFromContext(c)
		require.NotNil(t, tc)
		assert.Equal(t, "t1", tc.SelectedTermID())
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, perform(r, "Bearer tok").Code)
	assert.Equal(t, 1, registry.Len())
}

func TestTermScopeRejectsSignedOutSession(t *testing.T) {
	registry := service.NewTermContextRegistry(stubLoader{terms: []models.Term{{ID: "t1", IsActive: true}}}, nil, nil)
	registry.HandleAuthEvent(models.AuthEvent{Type: models.AuthEventSignedOut, IdentityID: "u1", SessionID: "s1"})

	r := newRouter(Authenticate(&stubResolver{session: signedIn(models.RoleAdmin)}), TermScope(registry))
	assert.Equal(t, http.StatusUnauthorized, perform(r, "Bearer tok").Code)
	assert.Equal(t, 0, registry.Len())
}

func TestMetricsRecordsRoute(t *testing.T) {
	metrics := service.NewMetricsService()
	r := newRouter(Metrics(metrics))
	perform(r, "")

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	found := false
	for _, f := range families {
		if f.GetName() == "http_requests_total" {
			found = true
		}
	}
	assert.True(t, found)
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-console-api/internal/middleware"
	"github.com/noah-isme/sma-console-api/internal/models"
	"github.com/noah-isme/sma-console-api/internal/service"
)

type staticLoader struct {
	terms []models.Term
	err   error
}

func (l *staticLoader) LoadTerms(ctx context.Context) ([]models.Term, error) {
	return l.terms, l.err
}

func testSession() models.Session {
	return models.Session{
		Identity: &models.Identity{ID: "u1", Email: "ana@school.test", SessionID: "s1"},
		Profile:  &models.Profile{ID: "u1", Role: models.RoleAdmin},
	}
}

func newTestContext(method, target string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.Request = req
	return c, w
}

func withTermContext(c *gin.Context, terms ...models.Term) *service.TermContext {
	tc := service.NewTermContext(&staticLoader{terms: terms}, nil, nil)
	tc.Load(context.Background())
	c.Set(middleware.ContextSessionKey, testSession())
	c.Set(middleware.ContextTermKey, tc)
	return tc
}

type envelope struct {
	Data  json.RawMessage        `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Meta map[string]interface{} `json:"meta"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

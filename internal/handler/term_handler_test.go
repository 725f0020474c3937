package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-console-api/internal/models"
	"github.com/noah-isme/sma-console-api/internal/service"
	appErrors "github.com/noah-isme/sma-console-api/pkg/errors"
)

type termServiceMock struct {
	created   *service.TermPayload
	deleteErr error
	activated string
}

func (m *termServiceMock) List(ctx context.Context) ([]models.Term, error) {
	return handlerTerms, nil
}

func (m *termServiceMock) Get(ctx context.Context, id string) (*models.Term, error) {
	for _, t := range handlerTerms {
		if t.ID == id {
			cp := t
			return &cp, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
}

func (m *termServiceMock) Create(ctx context.Context, req service.TermPayload) (*models.Term, error) {
	m.created = &req
	return &models.Term{ID: "new", Name: req.Name}, nil
}

func (m *termServiceMock) Update(ctx context.Context, id string, req service.TermPayload) (*models.Term, error) {
	return &models.Term{ID: id, Name: req.Name}, nil
}

func (m *termServiceMock) SetActive(ctx context.Context, id string) (*models.Term, error) {
	m.activated = id
	return &models.Term{ID: id, IsActive: true}, nil
}

func (m *termServiceMock) Delete(ctx context.Context, id string) error {
	return m.deleteErr
}

func TestTermHandlerList(t *testing.T) {
	h := NewTermHandler(&termServiceMock{})
	c, w := newTestContext(http.MethodGet, "/admin/terms", nil)

	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w).Meta["total"])
}

func TestTermHandlerCreate(t *testing.T) {
	svc := &termServiceMock{}
	h := NewTermHandler(svc)
	c, w := newTestContext(http.MethodPost, "/admin/terms", []byte(`{"name":"Fall 2026","start_date":"2026-08-01T00:00:00Z","end_date":"2026-12-20T00:00:00Z"}`))

	h.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, svc.created)
	assert.Equal(t, "Fall 2026", svc.created.Name)
}

func TestTermHandlerActivate(t *testing.T) {
	svc := &termServiceMock{}
	h := NewTermHandler(svc)
	c, w := newTestContext(http.MethodPost, "/admin/terms/t1/activate", nil)
	c.Params = gin.Params{{Key: "id", Value: "t1"}}

	h.Activate(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "t1", svc.activated)
}

func TestTermHandlerDeleteReferenced(t *testing.T) {
	h := NewTermHandler(&termServiceMock{deleteErr: appErrors.Clone(appErrors.ErrTermReferenced, "")})
	c, w := newTestContext(http.MethodDelete, "/admin/terms/t1", nil)
	c.Params = gin.Params{{Key: "id", Value: "t1"}}

	h.Delete(c)
	assert.Equal(t, http.StatusConflict, w.Code)
	env := decode(t, w)
	assert.Equal(t, appErrors.ErrTermReferenced.Code, env.Error.Code)
	assert.Contains(t, env.Error.Message, "referenced")
}

func TestTermHandlerGetMissing(t *testing.T) {
	h := NewTermHandler(&termServiceMock{})
	c, w := newTestContext(http.MethodGet, "/admin/terms/zz", nil)
	c.Params = gin.Params{{Key: "id", Value: "zz"}}

	h.Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/sitecrew/construction-api/models"
	"github.com/sitecrew/construction-api/repositories"
	"github.com/sitecrew/construction-api/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockRecordReader mocks the read side of the records service
type MockRecordReader struct {
	mock.Mock
}

func (m *MockRecordReader) Get(ctx context.Context, kind models.EntityKind, id string) (models.Record, error) {
	args := m.Called(ctx, kind, id)
	if rec := args.Get(0); rec != nil {
		return rec.(models.Record), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRecordReader) List(ctx context.Context, kind models.EntityKind, filter repositories.ListFilter) ([]models.Record, error) {
	args := m.Called(ctx, kind, filter)
	if recs := args.Get(0); recs != nil {
		return recs.([]models.Record), args.Error(1)
	}
	return nil, args.Error(1)
}

func serve(t *testing.T, pattern string, h http.HandlerFunc, target string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Get(pattern, h)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestRecordHandler_List(t *testing.T) {
	logger := zap.NewNop()

	t.Run("query parameters become filters", func(t *testing.T) {
		reader := new(MockRecordReader)
		reader.On("List", mock.Anything, models.KindTask, repositories.ListFilter{
			Equals: map[string]interface{}{"projectId": "p1"},
			Limit:  10,
			Offset: 20,
		}).Return([]models.Record{{"id": "t1"}, {"id": "t2"}}, nil)

		h := NewRecordHandler(reader, logger)
		w := serve(t, "/api/tasks", h.List(models.KindTask), "/api/tasks?projectId=p1&limit=10&offset=20")

		assert.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Data  []map[string]interface{} `json:"data"`
			Count int                      `json:"count"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, 2, body.Count)
		assert.Equal(t, "t1", body.Data[0]["id"])
		reader.AssertExpectations(t)
	})

	t.Run("limit is capped", func(t *testing.T) {
		reader := new(MockRecordReader)
		reader.On("List", mock.Anything, models.KindProject, repositories.ListFilter{
			Equals: map[string]interface{}{},
			Limit:  maxPageSize,
		}).Return([]models.Record{}, nil)

		h := NewRecordHandler(reader, logger)
		w := serve(t, "/api/projects", h.List(models.KindProject), "/api/projects?limit=5000")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"data":[],"count":0,"limit":200}`, w.Body.String())
	})

	t.Run("bad pagination", func(t *testing.T) {
		reader := new(MockRecordReader)
		h := NewRecordHandler(reader, logger)

		w := serve(t, "/api/projects", h.List(models.KindProject), "/api/projects?limit=zero&offset=-1")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		reader.AssertNotCalled(t, "List", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown filter field", func(t *testing.T) {
		reader := new(MockRecordReader)
		reader.On("List", mock.Anything, models.KindUser, mock.Anything).
			Return(nil, services.ErrInvalidFilter.WithDetail("field", "passwordHash"))

		h := NewRecordHandler(reader, logger)
		w := serve(t, "/api/users", h.List(models.KindUser), "/api/users?passwordHash=x")

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRecordHandler_ListBy(t *testing.T) {
	reader := new(MockRecordReader)
	reader.On("List", mock.Anything, models.KindTeamMember, repositories.ListFilter{
		Equals: map[string]interface{}{"projectId": "p9"},
		Limit:  defaultPageSize,
	}).Return([]models.Record{{"id": "m1"}}, nil)

	h := NewRecordHandler(reader, zap.NewNop())
	w := serve(t, "/api/team-members/project/{projectId}",
		h.ListBy(models.KindTeamMember, "projectId", "projectId"),
		"/api/team-members/project/p9")

	assert.Equal(t, http.StatusOK, w.Code)
	reader.AssertExpectations(t)
}

func TestRecordHandler_Get(t *testing.T) {
	logger := zap.NewNop()

	t.Run("found", func(t *testing.T) {
		reader := new(MockRecordReader)
		reader.On("Get", mock.Anything, models.KindProject, "p1").Return(models.Record{"id": "p1", "name": "Tower"}, nil)

		h := NewRecordHandler(reader, logger)
		w := serve(t, "/api/projects/{id}", h.Get(models.KindProject), "/api/projects/p1")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"data":{"id":"p1","name":"Tower"}}`, w.Body.String())
	})

	t.Run("missing", func(t *testing.T) {
		reader := new(MockRecordReader)
		reader.On("Get", mock.Anything, models.KindProject, "nope").
			Return(nil, services.NewDomainError(services.ErrorTypeNotFound, "project not found", repositories.ErrNotFound))

		h := NewRecordHandler(reader, logger)
		w := serve(t, "/api/projects/{id}", h.Get(models.KindProject), "/api/projects/nope")

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "project not found")
	})
}

package pipeline

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sitecrew/construction-api/auth"
	"github.com/sitecrew/construction-api/models"
	"github.com/sitecrew/construction-api/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

const (
	projectID = "6f9619ff-8b86-4011-b42d-00c04fc964ff"
	userID    = "0b6e4b8e-2a57-4d3a-9d5c-2f1d3f0f8a11"
	pdfHeader = "%PDF-1.4\n%âãÏÓ\n1 0 obj\n<<>>\nendobj\n"
)

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) Verify(header string) (auth.Identity, error) {
	args := m.Called(header)
	return args.Get(0).(auth.Identity), args.Error(1)
}

type mockChecker struct {
	mock.Mock
}

func (m *mockChecker) Exists(ctx context.Context, kind models.EntityKind, id string) (bool, error) {
	args := m.Called(ctx, kind, id)
	return args.Bool(0), args.Error(1)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Store(ctx context.Context, bucket, key string, content []byte, contentType string) error {
	args := m.Called(ctx, bucket, key, content, contentType)
	return args.Error(0)
}

func (m *mockStore) PublicURL(ctx context.Context, bucket, key string) (string, error) {
	args := m.Called(ctx, bucket, key)
	return args.String(0), args.Error(1)
}

type fixture struct {
	verifier *mockVerifier
	checker  *mockChecker
	store    *mockStore
	pipeline *Pipeline
	persists int32
	inputs   chan Input
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	f := &fixture{
		verifier: &mockVerifier{},
		checker:  &mockChecker{},
		store:    &mockStore{},
		inputs:   make(chan Input, 1),
	}
	f.pipeline = New(f.verifier, f.checker, f.store, zaptest.NewLogger(t), opts...)
	f.pipeline.attachments.now = func() time.Time { return time.Unix(0, 1700000000000000000) }
	return f
}

func (f *fixture) as(role string) {
	f.verifier.On("Verify", "Bearer token").Return(auth.Identity{ID: userID, Role: role}, nil)
}

func (f *fixture) persist(ctx context.Context, in Input) (interface{}, error) {
	atomic.AddInt32(&f.persists, 1)
	f.inputs <- in
	return map[string]interface{}{"id": "new-id"}, nil
}

func (f *fixture) materialRoute() Route {
	return Route{
		Name:  "materials.create",
		Roles: Roles("Admin", "ProjectManager"),
		Rules: []validation.FieldRule{
			validation.Required("name", "Material name is required."),
			validation.Length("name", 2, 255, ""),
			validation.Int("quantity", validation.AtLeast(0), "Quantity must be a non-negative integer."),
			validation.Required("projectId", ""),
			validation.UUID("projectId", ""),
		},
		References: []ReferenceCheck{Ref("projectId", models.KindProject)},
		Attachment: &AttachmentSpec{
			FormField:           "specification",
			MaxSizeBytes:        1024,
			AllowedMimePatterns: []string{"image/jpeg", "image/png", "application/pdf"},
			Bucket:              "material-specifications",
			Folder:              "specifications",
		},
		Persist:       f.persist,
		SuccessStatus: http.StatusCreated,
	}
}

func validMaterial() map[string]interface{} {
	return map[string]interface{}{"name": "Rebar", "quantity": "10", "projectId": projectID}
}

func TestPipeline_Authentication(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		want string
	}{
		{"missing credential", auth.ErrMissingCredential, "Authentication required"},
		{"malformed credential", auth.ErrMalformedCredential, "Authorization header must be of the form: Bearer <token>"},
		{"expired token", auth.ErrTokenExpired, "Token has expired"},
		{"bad signature", auth.ErrInvalidToken, "Invalid token"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.verifier.On("Verify", mock.Anything).Return(auth.Identity{}, tc.err)

			var validated int32
			route := f.materialRoute()
			route.Rules = append(route.Rules, validation.Custom("name", func(interface{}) bool {
				atomic.AddInt32(&validated, 1)
				return true
			}, ""))

			outcome := f.pipeline.Run(context.Background(), route, Request{Payload: validMaterial()})

			assert.Equal(t, StatusAuthFailure, outcome.Status)
			assert.Equal(t, http.StatusUnauthorized, outcome.HTTPStatus)
			assert.Equal(t, tc.want, outcome.Failure.Message)
			assert.ErrorIs(t, outcome.Failure, tc.err)
			assert.Zero(t, atomic.LoadInt32(&validated))
			assert.Zero(t, atomic.LoadInt32(&f.persists))
			f.checker.AssertNotCalled(t, "Exists", mock.Anything, mock.Anything, mock.Anything)
			f.store.AssertNotCalled(t, "Store", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestPipeline_Authorization(t *testing.T) {
	t.Run("laborer on admin route is forbidden before validation", func(t *testing.T) {
		f := newFixture(t)
		f.as("Laborer")

		var validated int32
		route := f.materialRoute()
		route.Roles = Roles("Admin")
		route.Rules = []validation.FieldRule{validation.Custom("name", func(interface{}) bool {
			atomic.AddInt32(&validated, 1)
			return true
		}, "")}

		outcome := f.pipeline.Run(context.Background(), route, Request{Authorization: "Bearer token", Payload: validMaterial()})

		assert.Equal(t, StatusForbidden, outcome.Status)
		assert.Equal(t, http.StatusForbidden, outcome.HTTPStatus)
		assert.Equal(t, "insufficient role", outcome.Failure.Message)
		assert.Zero(t, atomic.LoadInt32(&validated))
		assert.Zero(t, atomic.LoadInt32(&f.persists))
		f.checker.AssertNotCalled(t, "Exists", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("missing role", func(t *testing.T) {
		f := newFixture(t)
		f.as("")

		outcome := f.pipeline.Run(context.Background(), f.materialRoute(), Request{Authorization: "Bearer token"})

		assert.Equal(t, StatusForbidden, outcome.Status)
		assert.Equal(t, "missing user role", outcome.Failure.Message)
	})

	t.Run("any authenticated admits a role outside every list", func(t *testing.T) {
		f := newFixture(t)
		f.as("Laborer")

		route := Route{Name: "reports.create", Roles: AnyAuthenticated(), Persist: f.persist, SuccessStatus: http.StatusCreated}
		outcome := f.pipeline.Run(context.Background(), route, Request{Authorization: "Bearer token"})

		require.Equal(t, StatusSuccess, outcome.Status)
		assert.Equal(t, http.StatusCreated, outcome.HTTPStatus)
		in := <-f.inputs
		assert.Equal(t, "Laborer", in.Identity.Role)
	})

	t.Run("zero allow list admits nobody", func(t *testing.T) {
		f := newFixture(t)
		f.as("Admin")

		route := Route{Name: "nobody", Persist: f.persist}
		outcome := f.pipeline.Run(context.Background(), route, Request{Authorization: "Bearer token"})

		assert.Equal(t, StatusForbidden, outcome.Status)
	})
}

func TestPipeline_Validation(t *testing.T) {
	t.Run("missing name and negative quantity", func(t *testing.T) {
		f := newFixture(t)
		f.as("Admin")

		payload := map[string]interface{}{"quantity": "-5", "projectId": projectID}
		outcome := f.pipeline.Run(context.Background(), f.materialRoute(), Request{Authorization: "Bearer token", Payload: payload})

		require.Equal(t, StatusValidationFailure, outcome.Status)
		assert.Equal(t, http.StatusBadRequest, outcome.HTTPStatus)
		violations := outcome.Failure.Violations
		require.Len(t, violations, 2)
		assert.Equal(t, "name", violations[0].Field)
		assert.Equal(t, "quantity", violations[1].Field)
		f.checker.AssertNotCalled(t, "Exists", mock.Anything, mock.Anything, mock.Anything)
		assert.Zero(t, atomic.LoadInt32(&f.persists))
	})

	t.Run("three independent violations", func(t *testing.T) {
		f := newFixture(t)
		f.as("Admin")

		payload := map[string]interface{}{"name": "R", "quantity": "many", "projectId": "nope"}
		outcome := f.pipeline.Run(context.Background(), f.materialRoute(), Request{Authorization: "Bearer token", Payload: payload})

		require.Equal(t, StatusValidationFailure, outcome.Status)
		assert.Len(t, outcome.Failure.Violations, 3)
	})

	t.Run("undecodable body is reported after authentication", func(t *testing.T) {
		f := newFixture(t)
		f.as("Admin")

		req := Request{Authorization: "Bearer token", DecodeErr: errors.New("unexpected EOF")}
		outcome := f.pipeline.Run(context.Background(), f.materialRoute(), req)

		require.Equal(t, StatusValidationFailure, outcome.Status)
		assert.Equal(t, "body", outcome.Failure.Violations[0].Field)
	})
}

func TestPipeline_StageSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	core, logs := observer.New(zap.DebugLevel)
	verifier := &mockVerifier{}
	verifier.On("Verify", "Bearer token").Return(auth.Identity{ID: userID, Role: "Admin"}, nil)
	p := New(verifier, &mockChecker{}, &mockStore{}, zap.New(core), WithTracer(provider.Tracer("pipeline-test")))

	payload := map[string]interface{}{"name": "R", "quantity": "-1", "projectId": projectID}
	outcome := p.Run(context.Background(), (&fixture{}).materialRoute(), Request{Authorization: "Bearer token", Payload: payload})
	require.Equal(t, StatusValidationFailure, outcome.Status)

	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, span := range recorder.Ended() {
		byName[span.Name()] = span
	}
	for _, name := range []string{"pipeline.authenticate", "pipeline.authorize", "pipeline.validate"} {
		assert.Contains(t, byName, name)
	}
	assert.NotContains(t, byName, "pipeline.references")
	assert.NotContains(t, byName, "pipeline.persist")
	assert.Equal(t, codes.Error, byName["pipeline.validate"].Status().Code)

	entries := logs.FilterMessage("validation failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, []interface{}{"name", "quantity"}, entries[0].ContextMap()["fields"])
}

func TestPipeline_References(t *testing.T) {
	t.Run("missing project names projectId", func(t *testing.T) {
		f := newFixture(t)
		f.as("Admin")
		f.checker.On("Exists", mock.Anything, models.KindProject, projectID).Return(false, nil)

		outcome := f.pipeline.Run(context.Background(), f.materialRoute(), Request{Authorization: "Bearer token", Payload: validMaterial()})

		require.Equal(t, StatusNotFound, outcome.Status)
		assert.Equal(t, http.StatusNotFound, outcome.HTTPStatus)
		assert.Equal(t, "projectId", outcome.Failure.Field)
		assert.Contains(t, outcome.Failure.Message, "projectId")
		assert.Zero(t, atomic.LoadInt32(&f.persists))
		f.store.AssertNotCalled(t, "Store", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("first failing reference stops resolution", func(t *testing.T) {
		f := newFixture(t)
		f.as("Admin")
		f.checker.On("Exists", mock.Anything, models.KindProject, projectID).Return(false, nil)

		route := f.materialRoute()
		route.References = []ReferenceCheck{Ref("projectId", models.KindProject), Ref("assignedTo", models.KindUser)}
		payload := validMaterial()
		payload["assignedTo"] = userID

		outcome := f.pipeline.Run(context.Background(), route, Request{Authorization: "Bearer token", Payload: payload})

		assert.Equal(t, StatusNotFound, outcome.Status)
		f.checker.AssertNumberOfCalls(t, "Exists", 1)
		f.checker.AssertNotCalled(t, "Exists", mock.Anything, models.KindUser, userID)
	})

	t.Run("optional reference skipped when absent", func(t *testing.T) {
		f := newFixture(t)
		f.as("Admin")
		f.checker.On("Exists", mock.Anything, models.KindProject, projectID).Return(true, nil)

		route := f.materialRoute()
		route.Attachment = nil
		route.References = append(route.References, OptionalRef("assignedTo", models.KindUser))
		payload := validMaterial()
		payload["assignedTo"] = nil

		outcome := f.pipeline.Run(context.Background(), route, Request{Authorization: "Bearer token", Payload: payload})

		require.Equal(t, StatusSuccess, outcome.Status)
		f.checker.AssertNumberOfCalls(t, "Exists", 1)
	})

	t.Run("path reference", func(t *testing.T) {
		f := newFixture(t)
		f.as("Admin")
		f.checker.On("Exists", mock.Anything, models.KindMaterial, "m-1").Return(false, nil)

		route := Route{
			Name:       "materials.delete",
			Roles:      Roles("Admin"),
			References: []ReferenceCheck{PathRef("id", models.KindMaterial)},
			Persist:    f.persist,
		}
		outcome := f.pipeline.Run(context.Background(), route, Request{
			Authorization: "Bearer token",
			PathParams:    map[string]string{"id": "m-1"},
		})

		require.Equal(t, StatusNotFound, outcome.Status)
		assert.Equal(t, "id", outcome.Failure.Field)
	})

	t.Run("lookup error is internal", func(t *testing.T) {
		f := newFixture(t)
		f.as("Admin")
		f.checker.On("Exists", mock.Anything, models.KindProject, projectID).Return(false, errors.New("connection reset"))

		outcome := f.pipeline.Run(context.Background(), f.materialRoute(), Request{Authorization: "Bearer token", Payload: validMaterial()})

		require.Equal(t, StatusInternalError, outcome.Status)
		assert.Equal(t, http.StatusInternalServerError, outcome.HTTPStatus)
		assert.NotContains(t, outcome.Failure.PublicMessage(), "connection reset")
	})

	t.Run("lookups run under the stage timeout", func(t *testing.T) {
		f := newFixture(t, WithStageTimeout(time.Second))
		f.as("Admin")
		hasDeadline := mock.MatchedBy(func(ctx context.Context) bool {
			_, ok := ctx.Deadline()
			return ok
		})
		f.checker.On("Exists", hasDeadline, models.KindProject, projectID).Return(true, nil)

		route := f.materialRoute()
		route.Attachment = nil
		outcome := f.pipeline.Run(context.Background(), route, Request{Authorization: "Bearer token", Payload: validMaterial()})

		assert.Equal(t, StatusSuccess, outcome.Status)
		f.checker.AssertExpectations(t)
	})
}

func TestPipeline_Attachments(t *testing.T) {
	t.Run("text file rejected before any write", func(t *testing.T) {
		f := newFixture(t)
		f.as("Admin")
		f.checker.On("Exists", mock.Anything, models.KindProject, projectID).Return(true, nil)

		files := []File{{FormField: "specification", Name: "notes.txt", Size: 5, ContentType: "text/plain", Content: []byte("hello")}}
		outcome := f.pipeline.Run(context.Background(), f.materialRoute(), Request{Authorization: "Bearer token", Payload: validMaterial(), Files: files})

		require.Equal(t, StatusUnsupportedMedia, outcome.Status)
		assert.Equal(t, http.StatusUnsupportedMediaType, outcome.HTTPStatus)
		f.store.AssertNotCalled(t, "Store", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		assert.Zero(t, atomic.LoadInt32(&f.persists))
	})

	t.Run("oversized file rejected with zero writes", func(t *testing.T) {
		f := newFixture(t)
		f.as("Admin")
		f.checker.On("Exists", mock.Anything, models.KindProject, projectID).Return(true, nil)

		files := []File{
			{FormField: "specification", Name: "ok.pdf", ContentType: "application/pdf", Content: []byte(pdfHeader)},
			{FormField: "specification", Name: "big.pdf", Size: 4096, ContentType: "application/pdf", Content: []byte(pdfHeader)},
		}
		route := f.materialRoute()
		route.Attachment.MaxFiles = 2
		outcome := f.pipeline.Run(context.Background(), route, Request{Authorization: "Bearer token", Payload: validMaterial(), Files: files})

		require.Equal(t, StatusUnsupportedMedia, outcome.Status)
		f.store.AssertNotCalled(t, "Store", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("stored file reaches persist", func(t *testing.T) {
		f := newFixture(t)
		f.as("ProjectManager")
		f.checker.On("Exists", mock.Anything, models.KindProject, projectID).Return(true, nil)
		key := "specifications/1700000000000000000_spec_sheet.pdf"
		f.store.On("Store", mock.Anything, "material-specifications", key, []byte(pdfHeader), "application/pdf").Return(nil)
		f.store.On("PublicURL", mock.Anything, "material-specifications", key).Return("https://cdn.example/"+key, nil)

		files := []File{{FormField: "specification", Name: "spec sheet.pdf", ContentType: "application/pdf", Content: []byte(pdfHeader)}}
		outcome := f.pipeline.Run(context.Background(), f.materialRoute(), Request{Authorization: "Bearer token", Payload: validMaterial(), Files: files})

		require.Equal(t, StatusSuccess, outcome.Status, "%v", outcome.Failure)
		assert.Equal(t, http.StatusCreated, outcome.HTTPStatus)
		in := <-f.inputs
		require.Len(t, in.Attachments, 1)
		assert.Equal(t, "https://cdn.example/"+key, in.Attachments[0].URL)
		assert.Equal(t, userID, in.Identity.ID)
		f.store.AssertExpectations(t)
	})

	t.Run("storage failure is terminal and generic", func(t *testing.T) {
		f := newFixture(t)
		f.as("Admin")
		f.checker.On("Exists", mock.Anything, models.KindProject, projectID).Return(true, nil)
		f.store.On("Store", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("bucket quota exceeded"))

		files := []File{{FormField: "specification", Name: "a.pdf", ContentType: "application/pdf", Content: []byte(pdfHeader)}}
		outcome := f.pipeline.Run(context.Background(), f.materialRoute(), Request{Authorization: "Bearer token", Payload: validMaterial(), Files: files})

		require.Equal(t, StatusStorageFailure, outcome.Status)
		assert.Equal(t, http.StatusBadGateway, outcome.HTTPStatus)
		assert.NotContains(t, outcome.Failure.PublicMessage(), "quota")
		assert.Zero(t, atomic.LoadInt32(&f.persists))
		f.store.AssertNumberOfCalls(t, "Store", 1)
		f.store.AssertNotCalled(t, "PublicURL", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("no files is fine", func(t *testing.T) {
		f := newFixture(t)
		f.as("Admin")
		f.checker.On("Exists", mock.Anything, models.KindProject, projectID).Return(true, nil)

		outcome := f.pipeline.Run(context.Background(), f.materialRoute(), Request{Authorization: "Bearer token", Payload: validMaterial()})

		require.Equal(t, StatusSuccess, outcome.Status)
		in := <-f.inputs
		assert.Empty(t, in.Attachments)
	})
}

func TestPipeline_Persist(t *testing.T) {
	t.Run("panic becomes internal error", func(t *testing.T) {
		f := newFixture(t)
		f.as("Admin")

		route := Route{Name: "boom", Roles: Roles("Admin"), Persist: func(context.Context, Input) (interface{}, error) {
			panic("nil map write")
		}}
		outcome := f.pipeline.Run(context.Background(), route, Request{Authorization: "Bearer token"})

		require.Equal(t, StatusInternalError, outcome.Status)
		assert.Equal(t, http.StatusInternalServerError, outcome.HTTPStatus)
		assert.False(t, strings.Contains(outcome.Failure.PublicMessage(), "nil map"))
	})

	t.Run("failure returned by persist keeps its kind", func(t *testing.T) {
		f := newFixture(t)
		f.as("Admin")

		route := Route{Name: "tasks.update", Roles: Roles("Admin"), Persist: func(context.Context, Input) (interface{}, error) {
			return nil, NewNotFound("id", "task not found (id)")
		}}
		outcome := f.pipeline.Run(context.Background(), route, Request{Authorization: "Bearer token"})

		assert.Equal(t, StatusNotFound, outcome.Status)
		assert.Equal(t, "id", outcome.Failure.Field)
	})

	t.Run("plain error is internal", func(t *testing.T) {
		f := newFixture(t)
		f.as("Admin")

		route := Route{Name: "tasks.update", Roles: Roles("Admin"), Persist: func(context.Context, Input) (interface{}, error) {
			return nil, errors.New("deadlock detected")
		}}
		outcome := f.pipeline.Run(context.Background(), route, Request{Authorization: "Bearer token"})

		assert.Equal(t, StatusInternalError, outcome.Status)
		assert.Equal(t, "An internal error occurred", outcome.Failure.PublicMessage())
	})
}

func TestRoleAllowList(t *testing.T) {
	l := Roles("Admin", "ProjectManager", "Admin", "")
	assert.Equal(t, []string{"Admin", "ProjectManager"}, l.List())
	assert.True(t, l.Contains("ProjectManager"))
	assert.False(t, l.AllowsAny())
	assert.Equal(t, "Admin,ProjectManager", l.String())

	list := l.List()
	list[0] = "Laborer"
	assert.Equal(t, []string{"Admin", "ProjectManager"}, l.List())

	assert.True(t, AnyAuthenticated().AllowsAny())
	assert.Equal(t, "*", AnyAuthenticated().String())
}

func TestFailureHelpers(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), NewNotFound("projectId", "project not found"))
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsForbidden(wrapped))
	assert.True(t, errors.Is(NewForbidden("x"), &Failure{Status: StatusForbidden}))
	assert.Equal(t, StatusInternalError, StatusOf(errors.New("boom")))
	assert.Equal(t, StatusSuccess, StatusOf(nil))

	assert.Equal(t, map[string]interface{}{"field": "projectId"}, NewNotFound("projectId", "").Details())
	assert.Nil(t, NewForbidden("no").Details())
}

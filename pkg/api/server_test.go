package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thinkmaps/thinkmaps/pkg/diagrams"
	"github.com/thinkmaps/thinkmaps/pkg/llm"
	"github.com/thinkmaps/thinkmaps/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeDiagramService is an in-memory DiagramService.
type fakeDiagramService struct {
	byID map[string]*models.Diagram
	// err, when set, is returned by every mutating call.
	err       error
	preloaded []string
}

func newFakeDiagramService() *fakeDiagramService {
	return &fakeDiagramService{byID: make(map[string]*models.Diagram)}
}

func (f *fakeDiagramService) Save(_ context.Context, req *models.CreateDiagramRequest) (*models.Diagram, error) {
	if f.err != nil {
		return nil, f.err
	}
	d := &models.Diagram{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Title:       req.Title,
		DiagramType: req.DiagramType,
		Spec:        req.Spec,
		Language:    req.Language,
	}
	f.byID[d.ID] = d
	return d, nil
}

func (f *fakeDiagramService) Get(_ context.Context, userID, id string) (*models.Diagram, error) {
	d, ok := f.byID[id]
	if !ok || d.UserID != userID {
		return nil, diagrams.ErrNotFound
	}
	return d, nil
}

func (f *fakeDiagramService) Update(ctx context.Context, userID, id string, patch *models.UpdateDiagramRequest) (*models.Diagram, error) {
	if f.err != nil {
		return nil, f.err
	}
	d, err := f.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if patch.Title != nil {
		d.Title = *patch.Title
	}
	if patch.IsPinned != nil {
		d.IsPinned = *patch.IsPinned
	}
	return d, nil
}

func (f *fakeDiagramService) Delete(ctx context.Context, userID, id string) error {
	if f.err != nil {
		return f.err
	}
	d, err := f.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	d.IsDeleted = true
	return nil
}

func (f *fakeDiagramService) SetPinned(ctx context.Context, userID, id string, pinned bool) (*models.Diagram, error) {
	return f.Update(ctx, userID, id, &models.UpdateDiagramRequest{IsPinned: &pinned})
}

func (f *fakeDiagramService) Duplicate(ctx context.Context, userID, id string) (*models.Diagram, error) {
	d, err := f.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return f.Save(ctx, &models.CreateDiagramRequest{
		UserID: userID, Title: d.Title, DiagramType: d.DiagramType, Spec: d.Spec,
	})
}

func (f *fakeDiagramService) List(_ context.Context, userID string, page, pageSize int) (*models.DiagramPage, error) {
	var out []*models.Diagram
	for _, d := range f.byID {
		if d.UserID == userID && !d.IsDeleted {
			out = append(out, d)
		}
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return &models.DiagramPage{Diagrams: out, Total: len(out), Page: page, PageSize: pageSize}, nil
}

func (f *fakeDiagramService) PreloadUserDiagrams(userID string) {
	f.preloaded = append(f.preloaded, userID)
}

func (f *fakeDiagramService) Stats(context.Context) map[string]any {
	return map[string]any{"sync_cycles": int64(0)}
}

type fakeLLMService struct{}

func (fakeLLMService) HealthCheck(context.Context) *llm.HealthReport {
	return &llm.HealthReport{
		Models: map[string]llm.ModelHealth{
			"qwen": {Status: "healthy"},
		},
		AvailableModels: []string{"qwen"},
	}
}

type fakeTracker struct{}

func (fakeTracker) Dropped() int64 { return 0 }
func (fakeTracker) Flushed() int64 { return 42 }
func (fakeTracker) Buffered() int  { return 3 }

func newTestServer(svc DiagramService) http.Handler {
	return NewServer(nil, fakeLLMService{}, svc, fakeTracker{}).Router()
}

func doRequest(t *testing.T, h http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set(userIDHeader, userID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestDiagramEndpoints(t *testing.T) {
	svc := newFakeDiagramService()
	h := newTestServer(svc)

	t.Run("create", func(t *testing.T) {
		rec := doRequest(t, h, http.MethodPost, "/api/diagrams", "alice", models.CreateDiagramRequest{
			Title:       "My map",
			DiagramType: "bubble_map",
			Spec:        json.RawMessage(`{"topic":"go"}`),
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		var d models.Diagram
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
		assert.NotEmpty(t, d.ID)
		assert.Equal(t, "alice", d.UserID)
	})

	t.Run("identity header overrides body user", func(t *testing.T) {
		rec := doRequest(t, h, http.MethodPost, "/api/diagrams", "alice", models.CreateDiagramRequest{
			UserID:      "mallory",
			Title:       "Spoofed",
			DiagramType: "bubble_map",
			Spec:        json.RawMessage(`{}`),
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		var d models.Diagram
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
		assert.Equal(t, "alice", d.UserID)
	})

	t.Run("get and cross-user isolation", func(t *testing.T) {
		created, err := svc.Save(context.Background(), &models.CreateDiagramRequest{
			UserID: "alice", Title: "mine", DiagramType: "mind_map", Spec: json.RawMessage(`{}`),
		})
		require.NoError(t, err)

		rec := doRequest(t, h, http.MethodGet, "/api/diagrams/"+created.ID, "alice", nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = doRequest(t, h, http.MethodGet, "/api/diagrams/"+created.ID, "bob", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("soft-deleted reads as 404", func(t *testing.T) {
		created, err := svc.Save(context.Background(), &models.CreateDiagramRequest{
			UserID: "alice", Title: "gone", DiagramType: "mind_map", Spec: json.RawMessage(`{}`),
		})
		require.NoError(t, err)
		created.IsDeleted = true

		rec := doRequest(t, h, http.MethodGet, "/api/diagrams/"+created.ID, "alice", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("update", func(t *testing.T) {
		created, err := svc.Save(context.Background(), &models.CreateDiagramRequest{
			UserID: "alice", Title: "before", DiagramType: "mind_map", Spec: json.RawMessage(`{}`),
		})
		require.NoError(t, err)

		title := "after"
		rec := doRequest(t, h, http.MethodPut, "/api/diagrams/"+created.ID, "alice",
			models.UpdateDiagramRequest{Title: &title})
		require.Equal(t, http.StatusOK, rec.Code)

		var d models.Diagram
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
		assert.Equal(t, "after", d.Title)
	})

	t.Run("delete", func(t *testing.T) {
		created, err := svc.Save(context.Background(), &models.CreateDiagramRequest{
			UserID: "alice", Title: "bye", DiagramType: "mind_map", Spec: json.RawMessage(`{}`),
		})
		require.NoError(t, err)

		rec := doRequest(t, h, http.MethodDelete, "/api/diagrams/"+created.ID, "alice", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("pin with empty body pins", func(t *testing.T) {
		created, err := svc.Save(context.Background(), &models.CreateDiagramRequest{
			UserID: "alice", Title: "pin me", DiagramType: "mind_map", Spec: json.RawMessage(`{}`),
		})
		require.NoError(t, err)

		rec := doRequest(t, h, http.MethodPost, "/api/diagrams/"+created.ID+"/pin", "alice", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var d models.Diagram
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
		assert.True(t, d.IsPinned)
	})

	t.Run("unpin", func(t *testing.T) {
		created, err := svc.Save(context.Background(), &models.CreateDiagramRequest{
			UserID: "alice", Title: "unpin", DiagramType: "mind_map", Spec: json.RawMessage(`{}`),
		})
		require.NoError(t, err)
		created.IsPinned = true

		rec := doRequest(t, h, http.MethodPost, "/api/diagrams/"+created.ID+"/pin", "alice",
			map[string]any{"pinned": false})
		require.Equal(t, http.StatusOK, rec.Code)

		var d models.Diagram
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
		assert.False(t, d.IsPinned)
	})

	t.Run("duplicate", func(t *testing.T) {
		created, err := svc.Save(context.Background(), &models.CreateDiagramRequest{
			UserID: "alice", Title: "orig", DiagramType: "mind_map", Spec: json.RawMessage(`{}`),
		})
		require.NoError(t, err)

		rec := doRequest(t, h, http.MethodPost, "/api/diagrams/"+created.ID+"/duplicate", "alice", nil)
		require.Equal(t, http.StatusCreated, rec.Code)

		var d models.Diagram
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
		assert.NotEqual(t, created.ID, d.ID)
		assert.Equal(t, "orig", d.Title)
	})

	t.Run("list", func(t *testing.T) {
		rec := doRequest(t, h, http.MethodGet, "/api/diagrams?page=1&page_size=50", "alice", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var page models.DiagramPage
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		assert.Equal(t, 50, page.PageSize)
		assert.Positive(t, page.Total)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/diagrams", bytes.NewBufferString("{not json"))
		req.Header.Set(userIDHeader, "alice")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRequireUser(t *testing.T) {
	h := newTestServer(newFakeDiagramService())

	rec := doRequest(t, h, http.MethodGet, "/api/diagrams", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body struct {
		Error errorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unauthorized", body.Error.Code)
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"quota", diagrams.ErrQuotaExceeded, http.StatusForbidden, "quota_exceeded"},
		{"too large", diagrams.ErrSpecTooLarge, http.StatusRequestEntityTooLarge, "spec_too_large"},
		{"invalid", diagrams.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
		{"unexpected", context.DeadlineExceeded, http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeDiagramService()
			svc.err = tt.err
			h := newTestServer(svc)

			rec := doRequest(t, h, http.MethodPost, "/api/diagrams", "alice",
				models.CreateDiagramRequest{Title: "x", DiagramType: "mind_map", Spec: json.RawMessage(`{}`)})
			require.Equal(t, tt.wantStatus, rec.Code)

			var body struct {
				Error errorBody `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Error.Code)
		})
	}
}

func TestHealthEndpoints(t *testing.T) {
	h := newTestServer(newFakeDiagramService())

	t.Run("health", func(t *testing.T) {
		rec := doRequest(t, h, http.MethodGet, "/health", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body["status"])

		checks := body["checks"].(map[string]any)
		assert.Contains(t, checks, "diagram_cache")
		assert.Contains(t, checks, "token_tracker")
	})

	t.Run("llm health", func(t *testing.T) {
		rec := doRequest(t, h, http.MethodGet, "/api/llm/health", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var report llm.HealthReport
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.Equal(t, []string{"qwen"}, report.AvailableModels)
	})
}

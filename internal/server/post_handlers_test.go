package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"stableposts/internal/bootstrap"
	"stableposts/internal/cache"
	"stableposts/internal/config"
	"stableposts/internal/models"
	"stableposts/internal/notifications"
	"stableposts/internal/service"
	"stableposts/internal/stable"
	"stableposts/internal/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockPostRepository is a mock of the PostRepository interface
type MockPostRepository struct {
	mock.Mock
}

func (m *MockPostRepository) Create(ctx context.Context, post models.Post) error {
	args := m.Called(ctx, post)
	return args.Error(0)
}

func (m *MockPostRepository) GetByID(ctx context.Context, id string) (mo.Option[models.Post], error) {
	args := m.Called(ctx, id)
	return args.Get(0).(mo.Option[models.Post]), args.Error(1)
}

func (m *MockPostRepository) List(ctx context.Context) ([]*models.Post, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Post), args.Error(1)
}

func (m *MockPostRepository) Update(ctx context.Context, id string, fn func(models.Post) (models.Post, error)) (mo.Option[models.Post], error) {
	args := m.Called(ctx, id, fn)
	return args.Get(0).(mo.Option[models.Post]), args.Error(1)
}

func (m *MockPostRepository) Delete(ctx context.Context, id string) (mo.Option[models.Post], error) {
	args := m.Called(ctx, id)
	return args.Get(0).(mo.Option[models.Post]), args.Error(1)
}

func (m *MockPostRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func testServerConfig() *config.Config {
	return &config.Config{
		Port:           "0",
		Env:            "test",
		AllowedOrigins: "*",
		StoreBackend:   config.BackendPebble,
		StoreName:      "posts",
	}
}

// newTestApp serves the API over an in-memory post store without Redis.
func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	return newTestServer(t, testServerConfig(), nil).NewApp()
}

// newTestServer builds a Server over an in-memory post store. rdb may be nil.
func newTestServer(t *testing.T, cfg *config.Config, rdb *redis.Client) *Server {
	t.Helper()
	posts := testutil.NewPostStore(t, stable.Options{})
	rt := &bootstrap.Runtime{
		Config:   cfg,
		Posts:    posts,
		Redis:    rdb,
		Cache:    cache.New(rdb, 0),
		Notifier: notifications.NewNotifier(rdb),
	}
	s, err := NewServer(cfg, rt)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

// newMockApp serves the API over a mocked repository.
func newMockApp(repo *MockPostRepository) *fiber.App {
	s := &Server{
		config:      testServerConfig(),
		postService: service.NewPostService(repo, nil),
	}
	return s.NewApp()
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		payload, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decodePost(t *testing.T, data []byte) models.Post {
	t.Helper()
	var post models.Post
	require.NoError(t, json.Unmarshal(data, &post))
	return post
}

func decodeError(t *testing.T, data []byte) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	return resp
}

func TestPostLifecycle(t *testing.T) {
	app := newTestApp(t)

	status, data := doRequest(t, app, http.MethodPost, "/posts", map[string]string{
		"title":  "Hello",
		"body":   "First post",
		"author": "ann",
	})
	require.Equal(t, http.StatusOK, status, string(data))
	created := decodePost(t, data)
	_, err := uuid.Parse(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", created.Title)
	assert.Equal(t, "First post", created.Body)
	assert.Equal(t, "ann", created.Author)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Nil(t, created.UpdatedAt)
	assert.NotContains(t, string(data), "updatedAt")

	status, data = doRequest(t, app, http.MethodGet, "/posts/"+created.ID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, created, decodePost(t, data))

	// identity fields in the body are ignored
	status, data = doRequest(t, app, http.MethodPut, "/posts/"+created.ID, map[string]any{
		"title":     "Hello again",
		"id":        "hijacked",
		"createdAt": "1999-01-01T00:00:00Z",
	})
	require.Equal(t, http.StatusOK, status, string(data))
	updated := decodePost(t, data)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.Equal(t, "Hello again", updated.Title)
	assert.Equal(t, "First post", updated.Body)
	assert.Equal(t, "ann", updated.Author)
	require.NotNil(t, updated.UpdatedAt)
	assert.False(t, updated.UpdatedAt.Before(updated.CreatedAt))

	status, data = doRequest(t, app, http.MethodGet, "/posts/"+created.ID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, updated, decodePost(t, data))

	status, data = doRequest(t, app, http.MethodDelete, "/posts/"+created.ID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, updated, decodePost(t, data))

	status, data = doRequest(t, app, http.MethodGet, "/posts/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, fmt.Sprintf("Post with id=%s not found", created.ID), decodeError(t, data).Error)

	status, data = doRequest(t, app, http.MethodGet, "/posts", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, string(data))
}

func TestUnknownPostID(t *testing.T) {
	app := newTestApp(t)

	status, data := doRequest(t, app, http.MethodPost, "/posts", map[string]string{"title": "keep me"})
	require.Equal(t, http.StatusOK, status)
	kept := decodePost(t, data)

	tests := []struct {
		method         string
		body           any
		expectedStatus int
		expectedError  string
	}{
		{http.MethodGet, nil, http.StatusNotFound, "Post with id=nope not found"},
		{http.MethodPut, map[string]string{"title": "x"}, http.StatusBadRequest, "Couldn't update post with id=nope. Post not found"},
		{http.MethodDelete, nil, http.StatusBadRequest, "Couldn't delete post with id=nope. Post not found"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			status, data := doRequest(t, app, tt.method, "/posts/nope", tt.body)
			assert.Equal(t, tt.expectedStatus, status)
			resp := decodeError(t, data)
			assert.Equal(t, tt.expectedError, resp.Error)
			assert.Equal(t, models.CodeNotFound, resp.Code)
		})
	}

	// the store is unchanged
	status, data = doRequest(t, app, http.MethodGet, "/posts", nil)
	require.Equal(t, http.StatusOK, status)
	var posts []models.Post
	require.NoError(t, json.Unmarshal(data, &posts))
	assert.Equal(t, []models.Post{kept}, posts)
}

func TestCreatePost_UniqueIDsListedInKeyOrder(t *testing.T) {
	app := newTestApp(t)

	ids := make(map[string]bool)
	for i := 0; i < 20; i++ {
		status, data := doRequest(t, app, http.MethodPost, "/posts", map[string]string{
			"title": fmt.Sprintf("post %d", i),
			"id":    "client-chosen",
		})
		require.Equal(t, http.StatusOK, status)
		post := decodePost(t, data)
		assert.NotEqual(t, "client-chosen", post.ID)
		ids[post.ID] = true
	}
	assert.Len(t, ids, 20)

	status, data := doRequest(t, app, http.MethodGet, "/posts", nil)
	require.Equal(t, http.StatusOK, status)
	var posts []models.Post
	require.NoError(t, json.Unmarshal(data, &posts))
	require.Len(t, posts, 20)

	listed := make([]string, len(posts))
	for i, p := range posts {
		listed[i] = p.ID
		assert.True(t, ids[p.ID])
	}
	assert.True(t, sort.StringsAreSorted(listed))
}

func TestUpdatePost_EmptyStringIsApplied(t *testing.T) {
	app := newTestApp(t)

	status, data := doRequest(t, app, http.MethodPost, "/posts", map[string]string{"title": "t", "author": "someone"})
	require.Equal(t, http.StatusOK, status)
	created := decodePost(t, data)

	status, data = doRequest(t, app, http.MethodPut, "/posts/"+created.ID, map[string]string{"author": ""})
	require.Equal(t, http.StatusOK, status)
	updated := decodePost(t, data)
	assert.Equal(t, "", updated.Author)
	assert.Equal(t, "t", updated.Title)
}

func TestCreateAndUpdatePost_WithoutBody(t *testing.T) {
	app := newTestApp(t)

	status, data := doRequest(t, app, http.MethodPost, "/posts", nil)
	require.Equal(t, http.StatusOK, status)
	created := decodePost(t, data)
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Nil(t, created.UpdatedAt)
	assert.Equal(t, "", created.Title)

	status, data = doRequest(t, app, http.MethodPut, "/posts/"+created.ID, nil)
	require.Equal(t, http.StatusOK, status)
	updated := decodePost(t, data)
	assert.Equal(t, created.ID, updated.ID)
	require.NotNil(t, updated.UpdatedAt)
	assert.False(t, updated.UpdatedAt.Before(created.CreatedAt))
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	status, _ = doRequest(t, app, http.MethodPut, "/posts/missing", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestInvalidRequestBody(t *testing.T) {
	app := newTestApp(t)

	for _, method := range []string{http.MethodPost, http.MethodPut} {
		t.Run(method, func(t *testing.T) {
			path := "/posts"
			if method == http.MethodPut {
				path = "/posts/some-id"
			}
			status, data := doRequest(t, app, method, path, `{"title":`)
			assert.Equal(t, http.StatusBadRequest, status)
			resp := decodeError(t, data)
			assert.Equal(t, models.CodeValidation, resp.Code)
			assert.Equal(t, "Invalid request body", resp.Error)
		})
	}
}

func TestStoreFailures(t *testing.T) {
	exhausted := fmt.Errorf("%w: map posts needs 10 of 5 bytes", stable.ErrResourceExhausted)

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   string
	}{
		{"capacity exhausted", exhausted, http.StatusInsufficientStorage, models.CodeResourceExhausted},
		{"backend failure", errors.New("io error"), http.StatusInternalServerError, models.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockPostRepository)
			repo.On("Create", mock.Anything, mock.Anything).Return(tt.err)
			repo.On("Update", mock.Anything, "a", mock.Anything).Return(mo.None[models.Post](), tt.err)
			app := newMockApp(repo)

			status, data := doRequest(t, app, http.MethodPost, "/posts", map[string]string{"title": "t"})
			assert.Equal(t, tt.expectedStatus, status)
			assert.Equal(t, tt.expectedCode, decodeError(t, data).Code)

			status, data = doRequest(t, app, http.MethodPut, "/posts/a", map[string]string{"title": "t"})
			assert.Equal(t, tt.expectedStatus, status)
			resp := decodeError(t, data)
			assert.Equal(t, tt.expectedCode, resp.Code)
			if tt.expectedCode == models.CodeInternal {
				assert.Empty(t, resp.Details)
			}

			repo.AssertExpectations(t)
		})
	}
}

func TestUnknownRoute(t *testing.T) {
	app := newTestApp(t)
	status, _ := doRequest(t, app, http.MethodGet, "/nothing-here", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

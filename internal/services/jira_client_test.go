package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/models"
	"github.com/trobanga/sisyphus/internal/services"
	"github.com/trobanga/sisyphus/internal/testsupport"
)

func newJiraClient(serverURL string) *services.JiraClient {
	logger := testsupport.Logger()
	httpClient := services.NewHTTPClient(5*time.Second, models.RetryConfig{
		MaxAttempts:      3,
		InitialBackoffMs: 1,
		MaxBackoffMs:     5,
	}, logger)
	return services.NewJiraClient(models.JiraConfig{
		URL:      serverURL,
		Username: "sisyphus",
		Password: "secret",
		Project:  "SC",
	}, httpClient, logger)
}

func TestJiraCreateSubtask(t *testing.T) {
	var received map[string]map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/api/2/issue", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "sisyphus", user)
		assert.Equal(t, "secret", pass)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"10001","key":"SC-1234"}`))
	}))
	defer server.Close()

	key, err := newJiraClient(server.URL).CreateSubtask(context.Background(), "SC-1", "L1 (SA1) align")

	require.NoError(t, err)
	assert.Equal(t, "SC-1234", key)
	assert.Equal(t, "L1 (SA1) align", received["fields"]["summary"])
	assert.Equal(t, map[string]any{"key": "SC-1"}, received["fields"]["parent"])
	assert.Equal(t, map[string]any{"key": "SC"}, received["fields"]["project"])
}

func TestJiraCreateSubtaskIsNeverRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newJiraClient(server.URL).CreateSubtask(context.Background(), "SC-1", "L1 align")

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	var sErr *lib.SisyphusError
	require.True(t, errors.As(err, &sErr))
	assert.Equal(t, lib.CategoryService, sErr.Category)
	assert.Equal(t, http.StatusServiceUnavailable, sErr.HTTPStatus)
}

func TestJiraCreateSubtaskRequiresParent(t *testing.T) {
	_, err := newJiraClient("http://127.0.0.1:1").CreateSubtask(context.Background(), "", "L1 align")
	assert.True(t, errors.Is(err, lib.ErrConfiguration))
}

func TestJiraCreateSubtaskReportsFieldErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errorMessages":[],"errors":{"parent":"Issue SC-1 does not exist"}}`))
	}))
	defer server.Close()

	_, err := newJiraClient(server.URL).CreateSubtask(context.Background(), "SC-1", "L1 align")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parent: Issue SC-1 does not exist")
	assert.Contains(t, err.Error(), "HTTP 400")
}

func TestJiraUpdateTicketRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/rest/api/2/issue/SC-1234", r.URL.Path)
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	err := newJiraClient(server.URL).UpdateTicket(context.Background(), "SC-1234", map[string]any{"summary": "L1 align done"})

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestJiraAddComment(t *testing.T) {
	var body map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/2/issue/SC-1234/comment", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	require.NoError(t, newJiraClient(server.URL).AddComment(context.Background(), "SC-1234", "Finished align analysis"))
	assert.Equal(t, "Finished align analysis", body["body"])
}

func TestJiraPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	assert.NoError(t, newJiraClient(server.URL).Ping(context.Background()))
	server.Close()

	err := newJiraClient(server.URL).Ping(context.Background())
	var sErr *lib.SisyphusError
	require.True(t, errors.As(err, &sErr))
	assert.Equal(t, lib.CategoryNetwork, sErr.Category)
}

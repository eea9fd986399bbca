package client

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
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/api", opts...)
	require.NoError(t, err)
	return c
}

func TestDoGetDecodesBody(t *testing.T) {
	var gotPath, gotMethod string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		_ = json.NewEncoder(w).Encode(map[string]string{"mockValue": "VALUE"})
	})

	got, err := Call[map[string]string](context.Background(), c, "test-endpoint")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"mockValue": "VALUE"}, got)
	assert.Equal(t, "/api/test-endpoint", gotPath)
	assert.Equal(t, http.MethodGet, gotMethod)
}

func TestDoAddsToken(t *testing.T) {
	var auth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	})

	require.NoError(t, c.Do(context.Background(), "test-endpoint", nil, WithToken("FAKE_TOKEN")))
	assert.Equal(t, "Bearer FAKE_TOKEN", auth)
}

func TestDoMethodOverride(t *testing.T) {
	var method string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		_, _ = w.Write([]byte(`{}`))
	})

	require.NoError(t, c.Do(context.Background(), "test-endpoint", nil, WithMethod(http.MethodPut)))
	assert.Equal(t, http.MethodPut, method)
}

func TestDoBodyDefaultsToPost(t *testing.T) {
	var (
		method      string
		contentType string
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method, contentType = r.Method, r.Header.Get("Content-Type")
		var in map[string]any
		_ = json.NewDecoder(r.Body).Decode(&in)
		_ = json.NewEncoder(w).Encode(in)
	})

	data := map[string]any{"a": "b"}
	got, err := Call[map[string]any](context.Background(), c, "test-endpoint", WithBody(data))
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "application/json", contentType)
}

func TestDoQueryStringKept(t *testing.T) {
	var q string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q = r.URL.Query().Get("query")
		_, _ = w.Write([]byte(`{}`))
	})
	require.NoError(t, c.Do(context.Background(), "books?query=the%20hobbit", nil))
	assert.Equal(t, "the hobbit", q)
}

func TestUnauthorizedRunsHandler(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"mockValue":"VALUE"}`))
	}, OnUnauthorized(func(context.Context) { atomic.AddInt32(&calls, 1) }))

	err := c.Do(context.Background(), "test-endpoint", nil)
	require.ErrorIs(t, err, ErrReauthenticate)
	assert.Equal(t, "Please re-authenticate.", err.Error())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestErrorBodyIsSurfaced(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Test error"}`))
	})

	err := c.Do(context.Background(), "test-endpoint", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "Test error", apiErr.Error())
	assert.Equal(t, map[string]any{"message": "Test error"}, apiErr.Body)
}

func TestErrorWithoutJSONBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	err := c.Do(context.Background(), "x", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusText(http.StatusInternalServerError), apiErr.Message)
}

func TestBindAddsToken(t *testing.T) {
	var auth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	})
	r := Bind(c, "tok")
	require.NoError(t, r.Do(context.Background(), "me", &struct{}{}))
	assert.Equal(t, "Bearer tok", auth)
}

func TestParseBaseURL(t *testing.T) {
	u, err := parseBaseURL("localhost:8080/api?x=1#frag")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/api/", u.String())

	_, err = parseBaseURL("  ")
	assert.Error(t, err)
}

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2}
	boom := errors.New("boom")

	assert.True(t, p.ShouldRetry(0, boom))
	assert.True(t, p.ShouldRetry(1, boom))
	assert.False(t, p.ShouldRetry(2, boom))
	assert.False(t, p.ShouldRetry(0, nil))
	assert.False(t, p.ShouldRetry(0, &APIError{Status: http.StatusNotFound}))
	assert.True(t, p.ShouldRetry(0, &APIError{Status: http.StatusInternalServerError}))
	assert.False(t, p.ShouldRetry(0, ErrReauthenticate))
	assert.False(t, p.ShouldRetry(0, context.Canceled))
}

func TestRetryStopsOn404(t *testing.T) {
	var attempts int
	_, err := Retry(context.Background(), RetryPolicy{MaxRetries: 2}, func(context.Context) (int, error) {
		attempts++
		return 0, &APIError{Status: http.StatusNotFound}
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryGivesUpAfterMax(t *testing.T) {
	var attempts int
	_, err := Retry(context.Background(), RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond}, func(context.Context) (int, error) {
		attempts++
		return 0, errors.New("flaky")
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryEventuallySucceeds(t *testing.T) {
	var attempts int
	v, err := Retry(context.Background(), DefaultRetryPolicy, func(context.Context) (string, error) {
		attempts++
		if attempts < 2 {
			return "", &APIError{Status: http.StatusBadGateway}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A POST retried after a 5xx must carry the same JSON body as the first
// attempt, not the drained remains of it.
func TestPostRetryResendsBody(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		bodies = append(bodies, string(data))
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, 5*time.Second, 0)
	resp, err := c.Post(context.Background(), "/order", map[string]string{"token_id": "tok-1"})
	require.NoError(t, err)
	assert.Contains(t, string(resp), `"ok"`)

	require.Len(t, bodies, 2)
	assert.Equal(t, bodies[0], bodies[1], "retry must resend the original body")
	assert.Contains(t, bodies[1], "tok-1")
}

func TestGetSendsParamsAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "42", r.URL.Query().Get("limit"))
		assert.Equal(t, "secret", r.Header.Get("X-Test-Key"))
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, 5*time.Second, 0)
	c.SetHeader("X-Test-Key", "secret")
	resp, err := c.Get(context.Background(), "/markets", map[string]string{"limit": "42"})
	require.NoError(t, err)
	assert.Contains(t, string(resp), "ok")
}

// 4xx responses other than 429 are terminal and surface as APIError.
func TestClientErrorIsNotRetried(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, `{"error":"bad order"}`, http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, 5*time.Second, 0)
	_, err := c.Post(context.Background(), "/order", map[string]string{"token_id": "tok-1"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, string(apiErr.Body), "bad order")
	assert.Equal(t, 1, attempts)
}

package collaborator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteReturnsFirstChoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "user", req.Messages[0].Role)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatResponse{
			Choices: []chatChoice{{Message: chatMessage{Role: "assistant", Content: "a completion"}}},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "test-key", "", 2*time.Second)
	reply, err := c.Complete(context.Background(), "summarize this", 500)

	require.NoError(t, err)
	assert.Equal(t, "a completion", reply)
	assert.Equal(t, "mistralai/mixtral-8x7b-instruct", c.Model)
}

func TestCompleteFailsWithoutCredentials(t *testing.T) {
	c := NewHTTPClient("", "", "", time.Second)
	_, err := c.Complete(context.Background(), "x", 500)
	require.Error(t, err)
}

func TestCompleteFailsOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "test-key", "", time.Second)
	_, err := c.Complete(context.Background(), "x", 500)
	require.Error(t, err)
}

package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_PostMessage(t *testing.T) {
	var gotPath, gotAuth, gotContent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		var req postMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotContent = req.Content
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bot-token")
	err := c.PostMessage(context.Background(), "C123", "🚨 deploy failed")
	require.NoError(t, err)

	assert.Equal(t, "/channels/C123/messages", gotPath)
	assert.Equal(t, "Bot bot-token", gotAuth)
	assert.Equal(t, "🚨 deploy failed", gotContent)
}

func TestClient_PostMessageErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing access", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bot-token")
	err := c.PostMessage(context.Background(), "C123", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRESTClientGatewayBot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v10/gateway/bot", r.URL.Path)
		assert.Equal(t, "Bot secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"url": "wss://gateway.discord.gg",
			"shards": 4,
			"session_start_limit": {"total": 1000, "remaining": 998, "reset_after": 14400000, "max_concurrency": 2}
		}`))
	}))
	defer server.Close()

	c := NewRESTClient("secret", server.URL+"/api/v10/", nil)
	bot, err := c.GatewayBot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "wss://gateway.discord.gg", bot.URL)
	assert.Equal(t, 4, bot.Shards)
	assert.Equal(t, 998, bot.SessionStartLimit.Remaining)
	assert.Equal(t, 2, bot.SessionStartLimit.MaxConcurrency)
	assert.Equal(t, 4*time.Hour, bot.SessionStartLimit.ResetAfterDuration())
}

func TestRESTClientGatewayBotErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"message": "401: Unauthorized"}`, wantErr: "returned 401"},
		{name: "bad body", status: http.StatusOK, body: `{"url": 5}`, wantErr: "could not unmarshal"},
		{name: "no url", status: http.StatusOK, body: `{"shards": 1}`, wantErr: "no url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewRESTClient("secret", server.URL, server.Client()).GatewayBot(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStaticResolver(t *testing.T) {
	r := StaticResolver{URL: "wss://gateway.test", Shards: 2}
	bot, err := r.GatewayBot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wss://gateway.test", bot.URL)
	assert.Equal(t, 2, bot.Shards)
}

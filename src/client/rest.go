package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DiscordAPI = "https://discord.com/api/v10"

// GatewayBot is the GET /gateway/bot response.
type GatewayBot struct {
	URL               string            `json:"url"`
	Shards            int               `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}

// SessionStartLimit is how many identifies are left in the current window.
type SessionStartLimit struct {
	Total          int `json:"total"`
	Remaining      int `json:"remaining"`
	ResetAfter     int `json:"reset_after"`
	MaxConcurrency int `json:"max_concurrency"`
}

func (l SessionStartLimit) ResetAfterDuration() time.Duration {
	return time.Duration(l.ResetAfter) * time.Millisecond
}

// Resolver finds the gateway to connect to.
type Resolver interface {
	GatewayBot(ctx context.Context) (GatewayBot, error)
}

// StaticResolver returns a GatewayBot resolved earlier.
type StaticResolver GatewayBot

func (r StaticResolver) GatewayBot(context.Context) (GatewayBot, error) {
	return GatewayBot(r), nil
}

type RESTClient struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

func NewRESTClient(token, baseURL string, httpClient *http.Client) *RESTClient {
	if baseURL == "" {
		baseURL = DiscordAPI
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
		}
	}
	return &RESTClient{
		token:      token,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *RESTClient) GatewayBot(ctx context.Context) (GatewayBot, error) {
	requestURL := c.baseURL + "/gateway/bot"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return GatewayBot{}, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bot %s", c.token))

	res, err := c.httpClient.Do(req)
	if err != nil {
		return GatewayBot{}, fmt.Errorf("error making http request: %w", err)
	}
	defer res.Body.Close()

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return GatewayBot{}, fmt.Errorf("could not read response body: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return GatewayBot{}, fmt.Errorf("gateway/bot returned %d: %s", res.StatusCode, truncate(resBody, 256))
	}

	var response GatewayBot
	if err := codec.Unmarshal(resBody, &response); err != nil {
		return GatewayBot{}, fmt.Errorf("could not unmarshal response body: %w", err)
	}
	if response.URL == "" {
		return GatewayBot{}, fmt.Errorf("gateway/bot returned no url")
	}

	return response, nil
}

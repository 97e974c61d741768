// Package chat is the outbound client for the chat platform's REST API.
// It is used for alert-channel posts and for follow-up messages after a
// deferred command acknowledgment.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 10 * time.Second

// Poster posts a message to a channel. Satisfied by *Client; tests and the
// alert manager depend on this interface rather than the concrete client.
type Poster interface {
	PostMessage(ctx context.Context, channelID, content string) error
}

// Client talks to the chat platform REST API with a bot token.
type Client struct {
	baseURL    string
	botToken   string
	httpClient *http.Client
}

// NewClient creates a chat client. baseURL must not have a trailing slash.
func NewClient(baseURL, botToken string) *Client {
	return &Client{
		baseURL:    baseURL,
		botToken:   botToken,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

type postMessageRequest struct {
	Content string `json:"content"`
}

// PostMessage posts content to the channel. Non-2xx responses are returned
// as errors with the status and a truncated body.
func (c *Client) PostMessage(ctx context.Context, channelID, content string) error {
	body, err := json.Marshal(postMessageRequest{Content: content})
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	url := fmt.Sprintf("%s/channels/%s/messages", c.baseURL, channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+c.botToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting message to channel %s: %w", channelID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("chat API returned %d: %s", resp.StatusCode, snippet)
	}
	return nil
}

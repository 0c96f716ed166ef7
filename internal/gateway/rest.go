package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const defaultAPIBaseURL = "https://discord.com/api/v10"

// RESTError is a non-retryable HTTP failure from the REST API
type RESTError struct {
	Status int
	Body   string
}

func (e *RESTError) Error() string {
	return fmt.Sprintf("discord api returned %d: %s", e.Status, e.Body)
}

// Message is the subset of the message object we consume
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
}

// Channel is the subset of the channel object we consume
type Channel struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	GuildID string `json:"guild_id"`
}

// Role is the subset of the guild role object we consume
type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Embed is a rich message body
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

// EmbedField is one name/value pair inside an embed
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// RESTClient wraps the plain request/response half of the Discord API.
// It shares the gateway's token but is otherwise stateless: 429s are
// retried after the advertised delay, transient 5xx/network failures
// under exponential backoff, and 4xx surfaced as RESTError.
type RESTClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
	log        zerolog.Logger
}

// NewRESTClient creates a client for the given bot token
func NewRESTClient(token string, log zerolog.Logger) *RESTClient {
	return &RESTClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    defaultAPIBaseURL,
		token:      token,
		log:        log.With().Str("component", "rest").Logger(),
	}
}

type gatewayBootstrap struct {
	URL string `json:"url"`
}

// GatewayURL performs the one-time bootstrap call that yields the
// websocket URL for the gateway session.
func (c *RESTClient) GatewayURL(ctx context.Context) (string, error) {
	var out gatewayBootstrap
	if err := c.do(ctx, http.MethodGet, "/gateway/bot", nil, &out); err != nil {
		return "", fmt.Errorf("fetching gateway url: %w", err)
	}
	return out.URL, nil
}

type createMessageBody struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// SendMessage posts a message (plain content, optional embed) to a channel
func (c *RESTClient) SendMessage(ctx context.Context, channelID, content string, embed *Embed) (*Message, error) {
	body := createMessageBody{Content: content}
	if embed != nil {
		body.Embeds = []Embed{*embed}
	}
	var msg Message
	if err := c.do(ctx, http.MethodPost, "/channels/"+channelID+"/messages", body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EditMessage replaces the content of an existing message
func (c *RESTClient) EditMessage(ctx context.Context, channelID, messageID, content string, embed *Embed) (*Message, error) {
	body := createMessageBody{Content: content}
	if embed != nil {
		body.Embeds = []Embed{*embed}
	}
	var msg Message
	if err := c.do(ctx, http.MethodPatch, "/channels/"+channelID+"/messages/"+messageID, body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeleteMessage removes a message
func (c *RESTClient) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/channels/"+channelID+"/messages/"+messageID, nil, nil)
}

// GetChannel fetches channel metadata
func (c *RESTClient) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	var ch Channel
	if err := c.do(ctx, http.MethodGet, "/channels/"+channelID, nil, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// GetGuildRoles fetches all roles of a guild
func (c *RESTClient) GetGuildRoles(ctx context.Context, guildID string) ([]Role, error) {
	var roles []Role
	if err := c.do(ctx, http.MethodGet, "/guilds/"+guildID+"/roles", nil, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

type rateLimitBody struct {
	RetryAfter float64 `json:"retry_after"`
}

func (c *RESTClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
	}

	operation := func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bot "+c.token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err // network failure, retryable
		}
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			var rl rateLimitBody
			json.Unmarshal(respBody, &rl)
			delay := time.Duration(rl.RetryAfter * float64(time.Second))
			if delay <= 0 {
				delay = time.Second
			}
			c.log.Warn().Dur("retry_after", delay).Str("path", path).Msg("rate limited")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("rate limited on %s", path)

		case resp.StatusCode >= 500:
			return fmt.Errorf("server error %d on %s", resp.StatusCode, path)

		case resp.StatusCode >= 400:
			return backoff.Permanent(&RESTError{Status: resp.StatusCode, Body: string(respBody)})
		}

		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return backoff.Permanent(fmt.Errorf("decoding response: %w", err))
			}
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

// Package environment is the HTTP client for the settlement authority: the
// external service that owns the truth about every agent's books, goals, and
// money, and that executes agreed transactions.
package environment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/bookbazaar/bookbot/internal/domain"
)

// Config holds the environment service endpoint parameters.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the environment service.
type Client struct {
	http *resty.Client
}

// New creates a Client for the given endpoint.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Client{http: http}
}

// MyInfo fetches the authoritative snapshot for the named agent.
func (c *Client) MyInfo(ctx context.Context, agent string) (*domain.AgentInfo, error) {
	var info domain.AgentInfo
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&info).
		SetPathParam("agent", agent).
		Get("/api/agents/{agent}")
	if err != nil {
		return nil, fmt.Errorf("environment: fetch agent info: %w", err)
	}
	if resp.IsError() {
		if resp.StatusCode() == 404 {
			return nil, fmt.Errorf("environment: agent %s: %w", agent, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("environment: fetch agent info: status %d", resp.StatusCode())
	}
	return &info, nil
}

// MakeTransaction files one side of an agreed trade. The environment matches
// the two sides by conversation ID and moves ownership atomically; a non-2xx
// status means nothing was committed.
func (c *Client) MakeTransaction(ctx context.Context, tx domain.Transaction) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(tx).
		Post("/api/transactions")
	if err != nil {
		return fmt.Errorf("environment: make transaction %s: %w", tx.ConversationID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("environment: make transaction %s: status %d: %s",
			tx.ConversationID, resp.StatusCode(), resp.String())
	}
	return nil
}

// Compile-time interface check.
var _ domain.Settlement = (*Client)(nil)

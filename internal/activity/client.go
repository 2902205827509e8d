package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Client is a Saver talking to a remote activities backend.
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		timeout: timeout,
	}
}

func (c *Client) SaveActivity(ctx context.Context, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	agent := fiber.Post(c.baseURL + "/activities")
	if c.token != "" {
		agent.Set(fiber.HeaderAuthorization, "Bearer "+c.token)
	}
	agent.JSON(rec).Timeout(timeout)

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return Record{}, fmt.Errorf("save activity: %w", errors.Join(errs...))
	}
	if code < 200 || code >= 300 {
		return Record{}, fmt.Errorf("save activity: backend returned %d: %s", code, strings.TrimSpace(string(body)))
	}

	var saved Record
	if err := json.Unmarshal(body, &saved); err != nil {
		return Record{}, fmt.Errorf("decode saved activity: %w", err)
	}
	return saved, nil
}

package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// FilterChannel carries filter-document and lifecycle changes for one
// session code; ParticipantChannel carries membership changes. The two are
// independent feeds, subscribed together per active session.
func FilterChannel(code string) string {
	return fmt.Sprintf("session:%s:filters", code)
}

func ParticipantChannel(code string) string {
	return fmt.Sprintf("session:%s:participants", code)
}

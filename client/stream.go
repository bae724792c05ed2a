package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/coder/websocket"
)

// StreamProgress opens the per-session WebSocket and delivers progress
// events on the returned channel in arrival order. The channel closes
// when the connection drops, the context is cancelled, or a terminal
// event arrives.
func (c *Client) StreamProgress(ctx context.Context, sessionID string) (<-chan ProgressEvent, error) {
	wsURL, err := c.streamURL(sessionID)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial progress stream: %w", err)
	}

	events := make(chan ProgressEvent)
	go func() {
		defer close(events)
		defer func() {
			_ = conn.Close(websocket.StatusNormalClosure, "stream ended")
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}

			var event ProgressEvent
			if err := json.Unmarshal(data, &event); err != nil {
				continue
			}
			if event.Type == EventPong {
				continue
			}

			select {
			case events <- event:
			case <-ctx.Done():
				return
			}

			// The first event for an already-terminal session is a
			// status snapshot, not a completed/error push.
			if event.Type == EventCompleted || event.Type == EventError || event.Status.Terminal() {
				return
			}
		}
	}()

	return events, nil
}

// Watch streams progress events and applies each one to the store until
// the session reaches a terminal state or the context is cancelled.
func (c *Client) Watch(ctx context.Context, sessionID string, store *Store) error {
	events, err := c.StreamProgress(ctx, sessionID)
	if err != nil {
		return err
	}

	for event := range events {
		if err := store.Apply(event); err != nil {
			return fmt.Errorf("apply progress event: %w", err)
		}
	}
	return ctx.Err()
}

func (c *Client) streamURL(sessionID string) (string, error) {
	parsed, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base URL scheme %q", parsed.Scheme)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/ws/sessions/" + url.PathEscape(sessionID)
	return parsed.String(), nil
}

// Package events publishes upload lifecycle events over NATS so other
// services (profile updater, moderation queue) can react without polling
// this service. Publishing is fire-and-forget and entirely optional: a nil
// Client drops every event, which is how deployments without NATS run.
package events

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/bytedance/sonic"
	"github.com/nats-io/nats.go"
)

// NATS subjects published by the upload service.
const (
	SubjectUploadCompleted = "uploads.completed"
	SubjectPushReady       = "uploads.push_ready"
)

// UploadCompleted is published after a file lands in a storage backend.
type UploadCompleted struct {
	SessionID string `json:"session_id,omitempty"`
	PublicID  string `json:"public_id"`
	URL       string `json:"url"`
	Bytes     int64  `json:"bytes"`
	Backend   string `json:"backend"`
	Folder    string `json:"folder,omitempty"`
	At        int64  `json:"at"` // unix seconds
}

// PushReady is published when a browser finishes push registration.
type PushReady struct {
	SessionID string `json:"session_id"`
	At        int64  `json:"at"` // unix seconds
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "uploader",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// Client wraps the NATS connection. All methods are safe on a nil Client.
type Client struct {
	conn *nats.Conn
}

// Connect dials NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func Connect(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[events] nats disconnected: %v", err)
			} else {
				log.Printf("[events] nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[events] nats reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[events] nats connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("events: nats connect: %w", err)
	}

	log.Printf("[events] connected to %s", nc.ConnectedUrl())

	return &Client{conn: nc}, nil
}

// PublishUploadCompleted emits an upload completion event. Failures are
// logged, never returned: event delivery must not fail an upload that
// already succeeded.
func (c *Client) PublishUploadCompleted(ev UploadCompleted) {
	c.publish(SubjectUploadCompleted, ev)
}

// PublishPushReady emits a push registration event.
func (c *Client) PublishPushReady(ev PushReady) {
	c.publish(SubjectPushReady, ev)
}

func (c *Client) publish(subject string, ev any) {
	if c == nil || c.conn == nil {
		return
	}

	data, err := sonic.Marshal(ev)
	if err != nil {
		log.Printf("[events] marshal %s: %v", subject, err)
		return
	}
	if err := c.conn.Publish(subject, data); err != nil {
		log.Printf("[events] publish %s: %v", subject, err)
	}
}

// SubscribeUploadCompleted registers a handler for upload completion
// events. Messages that fail to decode are dropped with a log line.
func (c *Client) SubscribeUploadCompleted(handler func(ev UploadCompleted)) error {
	if c == nil || c.conn == nil {
		return errors.New("events: not connected")
	}
	_, err := c.conn.Subscribe(SubjectUploadCompleted, func(msg *nats.Msg) {
		var ev UploadCompleted
		if err := sonic.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("[events] decode %s: %v", SubjectUploadCompleted, err)
			return
		}
		handler(ev)
	})
	if err != nil {
		return fmt.Errorf("events: subscribe %s: %w", SubjectUploadCompleted, err)
	}
	return nil
}

// SubscribePushReady registers a handler for push registration events.
func (c *Client) SubscribePushReady(handler func(ev PushReady)) error {
	if c == nil || c.conn == nil {
		return errors.New("events: not connected")
	}
	_, err := c.conn.Subscribe(SubjectPushReady, func(msg *nats.Msg) {
		var ev PushReady
		if err := sonic.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("[events] decode %s: %v", SubjectPushReady, err)
			return
		}
		handler(ev)
	})
	if err != nil {
		return fmt.Errorf("events: subscribe %s: %w", SubjectPushReady, err)
	}
	return nil
}

// Close drains the connection. Safe on a nil Client.
func (c *Client) Close() {
	if c == nil || c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		log.Printf("[events] connection drain: %v", err)
	}
	log.Printf("[events] client closed")
}

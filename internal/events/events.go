// Package events publishes best-effort notifications over NATS.
// Consumers (e.g. the speech renderer that voices the mascot's reply)
// are fire-and-forget: a publish failure never affects the pipeline's
// primary result.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectConditionLogged is published after a report is fully persisted.
const SubjectConditionLogged = "koda.condition.logged"

// ConditionLogged carries everything a downstream consumer needs to
// react to a newly logged report without re-reading the database.
type ConditionLogged struct {
	UserID        string `json:"user_id"`
	CardID        string `json:"card_id"`
	LogID         string `json:"log_id"`
	ConditionName string `json:"condition_name"`
	WasNewCard    bool   `json:"was_new_card"`
	InputMode     string `json:"input_mode"`
	ResponseText  string `json:"response_text"`
}

type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewClient(url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Close() {
	c.conn.Close()
}

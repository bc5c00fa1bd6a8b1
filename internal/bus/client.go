package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ambiware-labs/verba/internal/config"
	"github.com/nats-io/nats.go"
)

// Client wraps a NATS connection with minimal helpers.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, connectOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS", slog.String("servers", url))

	return &Client{conn: conn, log: log}, nil
}

func connectOptions(cfg config.BusConfig) []nats.Option {
	options := []nats.Option{
		nats.Name("verba-runtime"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}
	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}
	return options
}

// PublishJSON marshals v and publishes it on subject.
func (c *Client) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", subject, err)
	}
	return c.conn.Publish(subject, data)
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}

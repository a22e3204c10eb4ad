// Package eventbus publishes hub events to the message broker and the
// per-tenant replay streams. Both sinks are written on every publish;
// neither sink's failure blocks the other.
package eventbus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Producer is the broker-side sink. The connection is established
// lazily and exactly once; with no broker URL configured every publish
// is dropped and logged, never failed.
type Producer struct {
	url    string
	logger *zap.Logger

	mu   sync.Mutex
	conn *nats.Conn
}

// NewProducer creates a producer for the given broker URL. An empty
// URL disables the broker sink.
func NewProducer(url string, logger *zap.Logger) *Producer {
	return &Producer{url: url, logger: logger}
}

func (p *Producer) connect() (*nats.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return p.conn, nil
	}
	conn, err := nats.Connect(p.url,
		nats.Name("senkron-ai-hub"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect broker: %w", err)
	}
	p.conn = conn
	p.logger.Info("Event producer connected", zap.String("url", p.url))
	return conn, nil
}

// Publish sends data on subject. Without a configured URL the message
// is dropped with a warning.
func (p *Producer) Publish(subject string, data []byte) error {
	if p.url == "" {
		p.logger.Warn("Broker not configured, dropping event", zap.String("subject", subject))
		return nil
	}
	conn, err := p.connect()
	if err != nil {
		return err
	}
	if err := conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Healthy reports the broker sink's state. An unconfigured or not yet
// used producer is healthy; an established but dropped connection is
// not.
func (p *Producer) Healthy() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.url == "" || p.conn == nil {
		return nil
	}
	if !p.conn.IsConnected() {
		return errors.New("broker disconnected")
	}
	return nil
}

// Close drains the broker connection.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

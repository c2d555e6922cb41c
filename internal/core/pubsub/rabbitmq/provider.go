package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/syntrixbase/indexsync/internal/core/pubsub"
)

var (
	_ pubsub.Provider    = (*Provider)(nil)
	_ pubsub.Connectable = (*Provider)(nil)
)

var dial = func(url string) (connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &amqpConnection{conn: conn}, nil
}

// Provider owns one AMQP connection and opens a channel per publisher or
// consumer.
type Provider struct {
	url  string
	mu   sync.Mutex
	conn connection
}

func NewProvider(url string) (*Provider, error) {
	if url == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	return &Provider{url: url}, nil
}

func (p *Provider) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := dial(p.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	p.conn = conn
	return nil
}

func (p *Provider) channel() (Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil, fmt.Errorf("RabbitMQ not connected, call Connect first")
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a RabbitMQ channel: %w", err)
	}
	return ch, nil
}

func (p *Provider) NewPublisher(opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	ch, err := p.channel()
	if err != nil {
		return nil, err
	}
	return NewPublisher(ch, opts)
}

func (p *Provider) NewConsumer(opts pubsub.ConsumerOptions) (pubsub.Consumer, error) {
	ch, err := p.channel()
	if err != nil {
		return nil, err
	}
	return NewConsumer(ch, opts)
}

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

package nats

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/syntrixbase/indexsync/internal/core/pubsub"
)

// natsConnection abstracts the nats.Conn for testing purposes
type natsConnection interface {
	Close()
}

// natsConnectFunc is a function type for connecting to NATS (injectable for testing)
type natsConnectFunc func(url string) (natsConnection, error)

// jetStreamFactory creates a JetStream context (injectable for testing)
type jetStreamFactory func(nc natsConnection) (JetStream, error)

var defaultNatsConnect natsConnectFunc = func(url string) (natsConnection, error) {
	return nats.Connect(url, nats.Name("indexsync"), nats.MaxReconnects(-1))
}

var defaultJetStreamFactory jetStreamFactory = func(nc natsConnection) (JetStream, error) {
	conn, ok := nc.(*nats.Conn)
	if !ok {
		return nil, fmt.Errorf("unexpected connection type %T", nc)
	}
	return NewJetStream(conn)
}

// Provider implements pubsub.Provider using NATS JetStream.
type Provider struct {
	url              string
	nc               natsConnection
	js               JetStream
	natsConnect      natsConnectFunc
	jetStreamFactory jetStreamFactory
}

var (
	_ pubsub.Provider    = (*Provider)(nil)
	_ pubsub.Connectable = (*Provider)(nil)
)

// NewProvider creates a new NATS-based pubsub provider. Connect must be
// called before creating publishers or consumers.
func NewProvider(url string) (*Provider, error) {
	if url == "" {
		return nil, fmt.Errorf("nats url is required")
	}
	return &Provider{
		url:              url,
		natsConnect:      defaultNatsConnect,
		jetStreamFactory: defaultJetStreamFactory,
	}, nil
}

// Connect establishes the NATS connection and initializes JetStream.
func (p *Provider) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	nc, err := p.natsConnect(p.url)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", p.url, err)
	}

	js, err := p.jetStreamFactory(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create JetStream: %w", err)
	}

	p.nc = nc
	p.js = js
	slog.Info("Connected to NATS", "url", p.url)
	return nil
}

// NewPublisher creates a new Publisher backed by NATS JetStream.
func (p *Provider) NewPublisher(opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	if p.js == nil {
		return nil, fmt.Errorf("NATS not connected, call Connect first")
	}
	return NewPublisher(p.js, opts)
}

// NewConsumer creates a new Consumer backed by NATS JetStream.
func (p *Provider) NewConsumer(opts pubsub.ConsumerOptions) (pubsub.Consumer, error) {
	if p.js == nil {
		return nil, fmt.Errorf("NATS not connected, call Connect first")
	}
	return NewConsumer(p.js, opts)
}

// Close closes the NATS connection.
func (p *Provider) Close() error {
	if p.nc != nil {
		slog.Info("Closing NATS connection...")
		p.nc.Close()
		p.nc = nil
		p.js = nil
	}
	return nil
}

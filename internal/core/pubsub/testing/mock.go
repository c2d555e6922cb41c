// Package testing provides in-process fakes of the pubsub interfaces.
//
// The fakes record what the code under test did (published payloads,
// how each message was settled, which options a provider was asked for)
// so tests can assert on queue interaction without a broker.
package testing

import (
	"context"
	"sync"
	"time"

	"github.com/syntrixbase/indexsync/internal/core/pubsub"
)

// PublishedMessage is one recorded Publish call.
type PublishedMessage struct {
	Subject string
	Data    []byte
	MsgID   string
}

// MockPublisher records publishes. It can fail or block on demand.
type MockPublisher struct {
	mu     sync.Mutex
	sent   []PublishedMessage
	err    error
	block  bool
	closed bool
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, subject string, data []byte, opts ...pubsub.PublishOption) error {
	m.mu.Lock()
	block, err := m.block, m.err
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}

	msg := PublishedMessage{
		Subject: subject,
		Data:    append([]byte(nil), data...),
		MsgID:   pubsub.ApplyPublishOptions(opts).MsgID,
	}
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	return nil
}

// SetBlocking makes Publish wait for its context instead of returning.
func (m *MockPublisher) SetBlocking(block bool) {
	m.mu.Lock()
	m.block = block
	m.mu.Unlock()
}

// SetError makes every following Publish fail with err. nil clears it.
func (m *MockPublisher) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *MockPublisher) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *MockPublisher) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Messages returns a copy of everything published so far.
func (m *MockPublisher) Messages() []PublishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PublishedMessage(nil), m.sent...)
}

// Settlement is how a consumer disposed of a message.
type Settlement int

const (
	Unsettled Settlement = iota
	Acked
	Naked
	Termed
)

func (s Settlement) String() string {
	switch s {
	case Acked:
		return "ack"
	case Naked:
		return "nak"
	case Termed:
		return "term"
	default:
		return "unsettled"
	}
}

// MockMessage is a delivery whose settlement is recorded. The first
// successful Ack, Nak or Term wins, like a real broker lease.
type MockMessage struct {
	mu         sync.Mutex
	data       []byte
	subject    string
	meta       pubsub.MessageMetadata
	metaErr    error
	settlement Settlement
	delay      time.Duration
	fail       map[Settlement]error
	progress   int
	progErr    error
}

// NewMockMessage returns a first delivery of data on subject.
func NewMockMessage(subject string, data []byte) *MockMessage {
	return &MockMessage{
		subject: subject,
		data:    data,
		meta: pubsub.MessageMetadata{
			NumDelivered: 1,
			Timestamp:    time.Now(),
			Subject:      subject,
		},
		fail: make(map[Settlement]error),
	}
}

func (m *MockMessage) Data() []byte    { return m.data }
func (m *MockMessage) Subject() string { return m.subject }

func (m *MockMessage) Ack() error { return m.settle(Acked, 0) }
func (m *MockMessage) Nak() error { return m.settle(Naked, 0) }
func (m *MockMessage) Term() error { return m.settle(Termed, 0) }

func (m *MockMessage) NakWithDelay(delay time.Duration) error {
	return m.settle(Naked, delay)
}

func (m *MockMessage) settle(s Settlement, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[s]; err != nil {
		return err
	}
	if m.settlement == Unsettled {
		m.settlement = s
		m.delay = delay
	}
	return nil
}

// InProgress counts lease extensions. It fails once the message is
// settled, or with the error from SetInProgressError.
func (m *MockMessage) InProgress() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.progErr != nil {
		return m.progErr
	}
	if m.settlement != Unsettled {
		return pubsub.ErrLeaseLost
	}
	m.progress++
	return nil
}

func (m *MockMessage) InProgressCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress
}

// SetInProgressError makes InProgress fail, e.g. with pubsub.ErrLeaseLost
// to simulate a lease that ran out.
func (m *MockMessage) SetInProgressError(err error) {
	m.mu.Lock()
	m.progErr = err
	m.mu.Unlock()
}

func (m *MockMessage) Metadata() (pubsub.MessageMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.metaErr != nil {
		return pubsub.MessageMetadata{}, m.metaErr
	}
	return m.meta, nil
}

// Settlement reports how the message was disposed of.
func (m *MockMessage) Settlement() Settlement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settlement
}

func (m *MockMessage) IsAcked() bool  { return m.Settlement() == Acked }
func (m *MockMessage) IsNaked() bool  { return m.Settlement() == Naked }
func (m *MockMessage) IsTermed() bool { return m.Settlement() == Termed }

// NakDelay is the redelivery delay requested by NakWithDelay.
func (m *MockMessage) NakDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delay
}

func (m *MockMessage) SetMetadata(md pubsub.MessageMetadata) {
	m.mu.Lock()
	m.meta = md
	m.mu.Unlock()
}

// SetErrors makes the matching calls fail. A nil error leaves that call
// working.
func (m *MockMessage) SetErrors(ack, nak, term, metadata error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[Acked] = ack
	m.fail[Naked] = nak
	m.fail[Termed] = term
	m.metaErr = metadata
}

// MockConsumer hands out messages pushed with Send. It also implements
// pubsub.DepthReporter.
type MockConsumer struct {
	mu       sync.Mutex
	ch       chan pubsub.Message
	started  bool
	err      error
	depth    uint64
	depthErr error
}

func NewMockConsumer() *MockConsumer {
	return &MockConsumer{}
}

// Subscribe opens the delivery channel. It closes when ctx is done.
func (c *MockConsumer) Subscribe(ctx context.Context) (<-chan pubsub.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}

	ch := make(chan pubsub.Message, 100)
	c.ch = ch
	c.started = true
	go func() {
		<-ctx.Done()
		c.mu.Lock()
		if c.ch == ch {
			c.ch = nil
		}
		close(ch)
		c.mu.Unlock()
	}()
	return ch, nil
}

// Send delivers msg. It is dropped when nothing is subscribed.
func (c *MockConsumer) Send(msg pubsub.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch != nil {
		c.ch <- msg
	}
}

func (c *MockConsumer) IsStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// SetError makes Subscribe fail.
func (c *MockConsumer) SetError(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *MockConsumer) Depth(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.depth, c.depthErr
}

func (c *MockConsumer) SetDepth(depth uint64, err error) {
	c.mu.Lock()
	c.depth, c.depthErr = depth, err
	c.mu.Unlock()
}

// MockProvider returns a fixed publisher and consumer and records the
// options it was built with.
type MockProvider struct {
	Publisher *MockPublisher
	Consumer  *MockConsumer

	mu          sync.Mutex
	consumerErr error
	closed      bool
	pubOpts     []pubsub.PublisherOptions
	consOpts    []pubsub.ConsumerOptions
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		Publisher: NewMockPublisher(),
		Consumer:  NewMockConsumer(),
	}
}

func (p *MockProvider) NewPublisher(opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pubOpts = append(p.pubOpts, opts)
	return p.Publisher, nil
}

func (p *MockProvider) NewConsumer(opts pubsub.ConsumerOptions) (pubsub.Consumer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consOpts = append(p.consOpts, opts)
	if p.consumerErr != nil {
		return nil, p.consumerErr
	}
	return p.Consumer, nil
}

// SetConsumerError makes NewConsumer fail.
func (p *MockProvider) SetConsumerError(err error) {
	p.mu.Lock()
	p.consumerErr = err
	p.mu.Unlock()
}

func (p *MockProvider) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *MockProvider) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *MockProvider) PublisherOpts() []pubsub.PublisherOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pubsub.PublisherOptions(nil), p.pubOpts...)
}

func (p *MockProvider) ConsumerOpts() []pubsub.ConsumerOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pubsub.ConsumerOptions(nil), p.consOpts...)
}

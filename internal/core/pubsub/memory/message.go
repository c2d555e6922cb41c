package memory

import (
	"sync"
	"time"

	"github.com/syntrixbase/indexsync/internal/core/pubsub"
)

type messageState int

const (
	stateQueued messageState = iota
	stateLeased
	stateWaiting
	stateSettled
)

// memoryMessage is a stored message. Every hand-out takes a numbered lease;
// if neither Ack, Nak nor Term arrives before it expires the message goes
// back to the broker with NumDelivered bumped and the old lease is void.
type memoryMessage struct {
	broker    *broker
	data      []byte
	subject   string
	timestamp time.Time

	mu           sync.Mutex
	state        messageState
	numDelivered uint64
	lease        uint64
	ackWait      time.Duration
	timer        *time.Timer
}

// deliver leases the message for ackWait and returns the handle for it. The
// ack wait only starts with start, once a consumer holds the handle.
func (m *memoryMessage) deliver(ackWait time.Duration) *leasedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ackWait <= 0 {
		ackWait = pubsub.DefaultAckWait
	}
	m.state = stateLeased
	m.numDelivered++
	m.lease++
	m.ackWait = ackWait
	return &leasedMessage{msg: m, lease: m.lease, numDelivered: m.numDelivered}
}

// start arms the ack wait of a handed-out lease. A consumer may already have
// settled it, which leaves nothing to arm.
func (m *memoryMessage) start(lease uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == stateLeased && m.lease == lease && m.timer == nil {
		m.armLocked()
	}
}

// withdraw undoes a deliver whose handle never reached a consumer.
func (m *memoryMessage) withdraw(lease uint64) {
	m.mu.Lock()
	if m.state != stateLeased || m.lease != lease {
		m.mu.Unlock()
		return
	}
	m.state = stateQueued
	m.numDelivered--
	m.lease++
	m.mu.Unlock()

	m.broker.route(m)
}

func (m *memoryMessage) armLocked() {
	if m.timer != nil {
		m.timer.Stop()
	}
	lease := m.lease
	m.timer = time.AfterFunc(m.ackWait, func() { m.expire(lease) })
}

func (m *memoryMessage) expire(lease uint64) {
	m.mu.Lock()
	if m.state != stateLeased || m.lease != lease {
		m.mu.Unlock()
		return
	}
	m.state = stateQueued
	m.lease++
	m.timer = nil
	m.mu.Unlock()

	m.broker.route(m)
}

// release ends lease and moves to next. Settling a lease twice is a no-op;
// settling a lease that expired returns ErrLeaseLost.
func (m *memoryMessage) release(lease uint64, next messageState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lease != lease {
		return false, pubsub.ErrLeaseLost
	}
	if m.state != stateLeased {
		return false, nil
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.state = next
	return true, nil
}

func (m *memoryMessage) extend(lease uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lease != lease || m.state != stateLeased {
		return pubsub.ErrLeaseLost
	}
	m.armLocked()
	return nil
}

// leasedMessage is what a subscriber receives: one lease on a stored
// message. It implements pubsub.Message.
type leasedMessage struct {
	msg          *memoryMessage
	lease        uint64
	numDelivered uint64
}

func (l *leasedMessage) Data() []byte {
	return l.msg.data
}

func (l *leasedMessage) Subject() string {
	return l.msg.subject
}

// Ack acknowledges successful processing.
func (l *leasedMessage) Ack() error {
	ok, err := l.msg.release(l.lease, stateSettled)
	if ok {
		l.msg.broker.settle(l.msg)
	}
	return err
}

// Nak requeues the message immediately.
func (l *leasedMessage) Nak() error {
	ok, err := l.msg.release(l.lease, stateQueued)
	if ok {
		l.msg.broker.route(l.msg)
	}
	return err
}

// NakWithDelay requeues the message after delay.
func (l *leasedMessage) NakWithDelay(delay time.Duration) error {
	ok, err := l.msg.release(l.lease, stateWaiting)
	if !ok {
		return err
	}
	m := l.msg
	time.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.state != stateWaiting {
			m.mu.Unlock()
			return
		}
		m.state = stateQueued
		m.mu.Unlock()

		m.broker.route(m)
	})
	return nil
}

// Term stops redelivery for good.
func (l *leasedMessage) Term() error {
	ok, err := l.msg.release(l.lease, stateSettled)
	if ok {
		l.msg.broker.settle(l.msg)
	}
	return err
}

// InProgress restarts the ack wait of this lease.
func (l *leasedMessage) InProgress() error {
	return l.msg.extend(l.lease)
}

func (l *leasedMessage) Metadata() (pubsub.MessageMetadata, error) {
	return pubsub.MessageMetadata{
		NumDelivered: l.numDelivered,
		Timestamp:    l.msg.timestamp,
		Subject:      l.msg.subject,
	}, nil
}

package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syntrixbase/indexsync/internal/core/pubsub"
)

// broker routes published messages to exactly one matching subscription.
// Messages with no matching subscription wait in the backlog until one
// appears, which is what makes the engine usable as a work queue.
type broker struct {
	mu            sync.Mutex
	subscriptions map[string]*subscription
	backlog       []*memoryMessage
	live          map[*memoryMessage]struct{}
	seen          map[string]time.Time
	seenOrder     []seenID
	dupWindow     time.Duration
	closed        atomic.Bool
}

// seenID is one entry of the duplicate window, oldest first.
type seenID struct {
	id string
	at time.Time
}

func newBroker() *broker {
	return &broker{
		subscriptions: make(map[string]*subscription),
		live:          make(map[*memoryMessage]struct{}),
		seen:          make(map[string]time.Time),
		dupWindow:     DuplicateWindow,
	}
}

// publish stores a new message and routes it. A non-empty msgID seen within
// the duplicate window is accepted and dropped.
func (b *broker) publish(subject string, data []byte, msgID string) error {
	if b.closed.Load() {
		return ErrEngineClosed
	}
	msg := &memoryMessage{
		broker:  b,
		data:    append([]byte(nil), data...),
		subject: subject,
	}

	b.mu.Lock()
	now := time.Now()
	msg.timestamp = now
	if msgID != "" {
		b.expireSeenLocked(now)
		if _, dup := b.seen[msgID]; dup {
			b.mu.Unlock()
			return nil
		}
		b.seen[msgID] = now
		b.seenOrder = append(b.seenOrder, seenID{id: msgID, at: now})
	}
	b.live[msg] = struct{}{}
	b.mu.Unlock()

	b.route(msg)
	return nil
}

// expireSeenLocked drops ids older than the duplicate window. seenOrder is
// sorted by time, so only its head is inspected.
func (b *broker) expireSeenLocked(now time.Time) {
	i := 0
	for ; i < len(b.seenOrder); i++ {
		e := b.seenOrder[i]
		if now.Sub(e.at) <= b.dupWindow {
			break
		}
		if at, ok := b.seen[e.id]; ok && at.Equal(e.at) {
			delete(b.seen, e.id)
		}
	}
	if i > 0 {
		b.seenOrder = b.seenOrder[i:]
	}
}

// route hands msg to a live matching subscription or parks it in the backlog.
func (b *broker) route(msg *memoryMessage) {
	if b.closed.Load() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for pattern, sub := range b.subscriptions {
		if subjectMatches(pattern, msg.subject) {
			sub.enqueue(msg)
			return
		}
	}
	b.backlog = append(b.backlog, msg)
}

// settle forgets msg once it was acked or terminated.
func (b *broker) settle(msg *memoryMessage) {
	b.mu.Lock()
	delete(b.live, msg)
	b.mu.Unlock()
}

// depth counts unsettled messages covered by pattern.
func (b *broker) depth(pattern string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	var n uint64
	for msg := range b.live {
		if subjectMatches(pattern, msg.subject) {
			n++
		}
	}
	return n
}

// subscribe registers a subscription for pattern and moves matching backlog
// messages onto it.
func (b *broker) subscribe(ctx context.Context, pattern string, ackWait time.Duration) (*subscription, error) {
	if b.closed.Load() {
		return nil, ErrEngineClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscriptions[pattern] != nil {
		return nil, ErrPatternSubscribed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		pattern: pattern,
		ackWait: ackWait,
		msgCh:   make(chan pubsub.Message),
		notify:  make(chan struct{}, 1),
		ctx:     subCtx,
		cancel:  cancel,
	}
	b.subscriptions[pattern] = sub

	remaining := b.backlog[:0]
	for _, msg := range b.backlog {
		if subjectMatches(pattern, msg.subject) {
			sub.enqueue(msg)
			continue
		}
		remaining = append(remaining, msg)
	}
	b.backlog = remaining

	go sub.pump()
	go func() {
		<-subCtx.Done()
		b.unsubscribe(sub)
	}()

	return sub, nil
}

// unsubscribe removes sub and returns its undelivered messages to the broker.
func (b *broker) unsubscribe(sub *subscription) {
	b.mu.Lock()
	if b.subscriptions[sub.pattern] == sub {
		delete(b.subscriptions, sub.pattern)
	}
	b.mu.Unlock()

	sub.cancel()
	for _, msg := range sub.drainReady() {
		b.route(msg)
	}
}

// close shuts down the broker and all subscriptions.
func (b *broker) close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	b.subscriptions = map[string]*subscription{}
	b.backlog = nil
	b.live = map[*memoryMessage]struct{}{}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
	}
	return nil
}

// subscription is one consumer's ready queue plus the goroutine feeding msgCh.
// msgCh is unbuffered so a lease starts when the consumer takes the message,
// not while it sits in a buffer.
type subscription struct {
	pattern string
	ackWait time.Duration
	msgCh   chan pubsub.Message
	notify  chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	mu    sync.Mutex
	ready []*memoryMessage
}

func (s *subscription) enqueue(msg *memoryMessage) {
	s.mu.Lock()
	s.ready = append(s.ready, msg)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscription) drainReady() []*memoryMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.ready
	s.ready = nil
	return out
}

func (s *subscription) next() *memoryMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ready) == 0 {
		return nil
	}
	msg := s.ready[0]
	s.ready = s.ready[1:]
	return msg
}

// pump is the only sender on msgCh and closes it on exit.
func (s *subscription) pump() {
	defer close(s.msgCh)

	for {
		msg := s.next()
		if msg == nil {
			select {
			case <-s.notify:
				continue
			case <-s.ctx.Done():
				return
			}
		}

		leased := msg.deliver(s.ackWait)
		select {
		case s.msgCh <- leased:
			msg.start(leased.lease)
		case <-s.ctx.Done():
			msg.withdraw(leased.lease)
			return
		}
	}
}

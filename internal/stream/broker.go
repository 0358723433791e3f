// Package stream fans out the responses of each request to live subscribers.
package stream

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/seantiz/relay/internal/engine"
)

var (
	// ErrClosed is returned when sending on a topic that was already closed
	// or never opened.
	ErrClosed = errors.New("response stream is closed")

	// ErrNoTopic is returned by Subscribe when the request has no open
	// topic. Its responses, if any, are in the store.
	ErrNoTopic = errors.New("no open response stream")
)

// subscriberBufferSize is the channel buffer for each subscriber beyond the
// replayed history. A subscriber that falls this far behind is dropped.
const subscriberBufferSize = 64

// Broker manages per-request response topics. It is safe for concurrent use.
//
// A topic lives from Open to Close. Close forgets the topic and its history;
// finished requests are replayed from the store instead.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	history []engine.Response
	subs    map[int]*Subscription
	nextID  int
}

// Subscription is one subscriber's view of a topic.
type Subscription struct {
	// C first replays the responses already published and then receives new
	// ones. It is closed when the topic closes, when the subscriber falls
	// behind, or on Cancel.
	C <-chan engine.Response

	ch       chan engine.Response
	complete atomic.Bool
	cancel   func()
}

// Complete reports whether C was closed because the stream finished. It is
// false when the subscriber was dropped or canceled.
func (s *Subscription) Complete() bool {
	return s.complete.Load()
}

// Cancel unsubscribes. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.cancel()
}

// NewBroker creates a new broker.
func NewBroker() *Broker {
	return &Broker{
		topics: make(map[string]*topic),
	}
}

// Open creates the topic for a request. Opening an open topic is a no-op.
func (b *Broker) Open(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[id]; !ok {
		b.topics[id] = &topic{subs: make(map[int]*Subscription)}
	}
}

// Len returns the number of open topics.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}

// Subscribe attaches a subscriber to the request's open topic. It fails
// with ErrNoTopic when the topic was never opened or is already closed.
func (b *Broker) Subscribe(id string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[id]
	if !ok {
		return nil, ErrNoTopic
	}

	ch := make(chan engine.Response, len(t.history)+subscriberBufferSize)
	for _, r := range t.history {
		ch <- r
	}

	sid := t.nextID
	t.nextID++
	sub := &Subscription{C: ch, ch: ch}
	sub.cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := t.subs[sid]; ok {
			close(ch)
			delete(t.subs, sid)
		}
	}
	t.subs[sid] = sub
	return sub, nil
}

// Publish records r for the request and delivers it to all subscribers.
func (b *Broker) Publish(id string, r engine.Response) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[id]
	if !ok {
		return ErrClosed
	}

	t.history = append(t.history, r)
	for sid, sub := range t.subs {
		select {
		case sub.ch <- r:
		default:
			// Drop the subscriber rather than block the sender.
			close(sub.ch)
			delete(t.subs, sid)
		}
	}
	return nil
}

// Close marks the request's stream complete and forgets the topic. All
// subscriber channels are closed and later Publish calls fail with
// ErrClosed.
func (b *Broker) Close(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[id]
	if !ok {
		return ErrClosed
	}

	for sid, sub := range t.subs {
		sub.complete.Store(true)
		close(sub.ch)
		delete(t.subs, sid)
	}
	delete(b.topics, id)
	return nil
}

// Sender returns the response channel of a request as seen by the engine.
func (b *Broker) Sender(id string) engine.ResponseSender {
	return &sender{broker: b, id: id}
}

type sender struct {
	broker *Broker
	id     string
}

func (s *sender) Send(r engine.Response) error {
	return s.broker.Publish(s.id, r)
}

func (s *sender) Close() error {
	return s.broker.Close(s.id)
}

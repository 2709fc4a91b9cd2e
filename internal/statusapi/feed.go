package statusapi

import (
	"context"
	"sync"
	"time"

	"github.com/kingrea/reefcomp/internal/export"
)

const (
	defaultSubscriberCapacity = 100
	defaultRecentLimit        = 512
)

// TaskEvent is one export task transition as seen by status clients.
type TaskEvent struct {
	Sequence int64         `json:"sequence"`
	Time     time.Time     `json:"time"`
	From     export.Status `json:"from,omitempty"`
	Task     export.Task   `json:"task"`
}

// FeedOption customizes Feed construction.
type FeedOption func(*Feed)

// FeedWithSubscriberCapacity overrides the buffered channel size per subscriber.
func FeedWithSubscriberCapacity(capacity int) FeedOption {
	return func(f *Feed) {
		if capacity > 0 {
			f.channelSize = capacity
		}
	}
}

// FeedWithRecentLimit bounds how many events Since can replay.
func FeedWithRecentLimit(limit int) FeedOption {
	return func(f *Feed) {
		if limit > 0 {
			f.recentLimit = limit
		}
	}
}

// FeedWithLogger reports dropped events.
func FeedWithLogger(logger Logger) FeedOption {
	return func(f *Feed) {
		f.logger = logger
	}
}

// FeedWithClock allows tests to control timestamps.
func FeedWithClock(clock func() time.Time) FeedOption {
	return func(f *Feed) {
		if clock != nil {
			f.clock = clock
		}
	}
}

// Feed fans scheduler transitions out to subscribers with bounded channels
// and keeps a short replay window for polling clients.
type Feed struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	recent      []TaskEvent
	seq         int64
	channelSize int
	recentLimit int
	logger      Logger
	clock       func() time.Time
}

// Subscription represents an active feed subscription.
type Subscription struct {
	Events <-chan TaskEvent
	cancel func()
}

// Close terminates the subscription.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// NewFeed constructs an empty feed.
func NewFeed(opts ...FeedOption) *Feed {
	f := &Feed{
		subscribers: map[*subscriber]struct{}{},
		channelSize: defaultSubscriberCapacity,
		recentLimit: defaultRecentLimit,
		clock:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Hooks returns scheduler hooks that publish every transition.
func (f *Feed) Hooks() export.Hooks {
	return export.Hooks{OnTransition: f.Publish}
}

// Publish records event and delivers it to every subscriber.
func (f *Feed) Publish(_ context.Context, event export.Event) {
	f.mu.Lock()
	f.seq++
	evt := TaskEvent{Sequence: f.seq, Time: f.clock().UTC(), From: event.From, Task: event.Task}
	f.recent = append(f.recent, evt)
	if len(f.recent) > f.recentLimit {
		f.recent = f.recent[len(f.recent)-f.recentLimit:]
	}
	subs := make([]*subscriber, 0, len(f.subscribers))
	for sub := range f.subscribers {
		subs = append(subs, sub)
	}
	f.mu.Unlock()
	for _, sub := range subs {
		sub.deliver(evt)
	}
}

// Since returns retained events with a sequence greater than seq.
func (f *Feed) Since(seq int64) []TaskEvent {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]TaskEvent, 0)
	for _, evt := range f.recent {
		if evt.Sequence > seq {
			out = append(out, evt)
		}
	}
	return out
}

// Subscribe registers for events published after the call.
func (f *Feed) Subscribe() Subscription {
	sub := newSubscriber(f.channelSize, f.logger)
	f.mu.Lock()
	f.subscribers[sub] = struct{}{}
	f.mu.Unlock()
	return Subscription{
		Events: sub.ch,
		cancel: func() {
			f.mu.Lock()
			delete(f.subscribers, sub)
			f.mu.Unlock()
			sub.close()
		},
	}
}

type subscriber struct {
	ch     chan TaskEvent
	logger Logger

	mu     sync.Mutex
	closed bool
}

func newSubscriber(capacity int, logger Logger) *subscriber {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	return &subscriber{ch: make(chan TaskEvent, capacity), logger: logger}
}

// deliver never blocks. When the buffer is full the oldest event is dropped,
// unless it is terminal and the incoming one is not.
func (s *subscriber) deliver(event TaskEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- event:
		return
	default:
	}
	oldest := <-s.ch
	if oldest.Task.Status.Terminal() && !event.Task.Status.Terminal() {
		s.ch <- oldest
		s.logDrop(event)
		return
	}
	s.logDrop(oldest)
	s.ch <- event
}

func (s *subscriber) logDrop(event TaskEvent) {
	if s.logger == nil {
		return
	}
	s.logger.Printf("statusapi: dropped %s -> %s for %s (queue overflow)", event.From, event.Task.Status, event.Task.Name)
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

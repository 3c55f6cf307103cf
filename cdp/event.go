package cdp

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"
)

// Event is a decoded CDP event.
type Event struct {
	Name      cdproto.MethodType
	Data      any
	SessionID target.SessionID
}

// subscriber buffers events without bound so that the receive loop never
// waits on a slow consumer. Consumers may execute commands while handling an
// event, and those replies are read by the same receive loop.
type subscriber struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*Event
	closed bool
	out    chan *Event
	stop   chan struct{}
}

func newSubscriber() *subscriber {
	s := &subscriber{
		out:  make(chan *Event),
		stop: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.pump()
	return s
}

func (s *subscriber) push(evt *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.queue = append(s.queue, evt)
	s.cond.Signal()
}

func (s *subscriber) pump() {
	defer close(s.out)

	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		evt := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- evt:
		case <-s.stop:
			return
		}
	}
}

// close stops delivery and closes out.
func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	close(s.stop)
	s.closed = true
	s.queue = nil
	s.cond.Broadcast()
}

type eventWatcher struct {
	subsMu     sync.RWMutex
	subs       map[cdproto.MethodType][]*subscriber
	subsAll    []*subscriber
	registered map[*subscriber]struct{}
}

func newEventWatcher(ctx context.Context) *eventWatcher {
	w := &eventWatcher{
		subs:       make(map[cdproto.MethodType][]*subscriber),
		registered: make(map[*subscriber]struct{}),
	}
	context.AfterFunc(ctx, w.closeAll)
	return w
}

// subscribe delivers the given events, or every event when none are given.
func (w *eventWatcher) subscribe(events ...cdproto.MethodType) (<-chan *Event, func()) {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()

	s := newSubscriber()
	if len(events) == 0 {
		w.subsAll = append(w.subsAll, s)
	}
	for _, evt := range events {
		w.subs[evt] = append(w.subs[evt], s)
	}
	w.registered[s] = struct{}{}

	return s.out, func() { w.unsubscribe(s, events) }
}

func (w *eventWatcher) unsubscribe(s *subscriber, events []cdproto.MethodType) {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()

	w.subsAll = without(w.subsAll, s)
	for _, evt := range events {
		w.subs[evt] = without(w.subs[evt], s)
	}
	delete(w.registered, s)
	s.close()
}

func (w *eventWatcher) notify(evt *Event) {
	w.subsMu.RLock()
	defer w.subsMu.RUnlock()

	for _, s := range w.subs[evt.Name] {
		s.push(evt)
	}
	for _, s := range w.subsAll {
		s.push(evt)
	}
}

func (w *eventWatcher) closeAll() {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()

	for s := range w.registered {
		s.close()
	}
	w.registered = make(map[*subscriber]struct{})
	w.subs = make(map[cdproto.MethodType][]*subscriber)
	w.subsAll = nil
}

func without(subs []*subscriber, s *subscriber) []*subscriber {
	out := make([]*subscriber, 0, len(subs))
	for _, sub := range subs {
		if sub != s {
			out = append(out, sub)
		}
	}
	return out
}

// Package network correlates requests and responses observed in the browser.
package network

import (
	"context"
	"sync"
	"time"
)

// Request is a request observed by the browser.
type Request struct {
	ID           string
	URL          string
	Method       string
	Headers      map[string]string
	ResourceType string
	FrameID      string
	Timestamp    time.Time
}

// Response is a response observed by the browser.
type Response struct {
	RequestID  string
	URL        string
	Status     int64
	StatusText string
	Headers    map[string]string
	MIMEType   string
	Timestamp  time.Time
}

// Exchange pairs a request with its response, once the response arrives.
type Exchange struct {
	ID       string
	Request  *Request
	Response *Response
}

// Completed reports whether the response has arrived.
func (e *Exchange) Completed() bool {
	return e.Response != nil
}

// Intercepted is a paused request. It stays paused until Continue is called.
type Intercepted interface {
	Request() *Request
	Continue(ctx context.Context) error
}

// Traffic records exchanges by request identifier. Redirects reuse the
// identifier of the original request, so an identifier can map to several
// exchanges, and the most recent one is the authoritative one.
type Traffic struct {
	mu        sync.RWMutex
	exchanges map[string][]*Exchange
	order     []*Exchange
}

// NewTraffic returns an empty exchange table.
func NewTraffic() *Traffic {
	return &Traffic{
		exchanges: make(map[string][]*Exchange),
	}
}

// AddRequest starts a new exchange for req.
func (t *Traffic) AddRequest(req *Request) *Exchange {
	t.mu.Lock()
	defer t.mu.Unlock()

	ex := &Exchange{ID: req.ID, Request: req}
	t.exchanges[req.ID] = append(t.exchanges[req.ID], ex)
	t.order = append(t.order, ex)

	return ex
}

// SetResponse completes the most recent exchange for resp.RequestID. It
// returns false when no exchange is known for that identifier.
func (t *Traffic) SetResponse(resp *Response) (*Exchange, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	exs := t.exchanges[resp.RequestID]
	if len(exs) == 0 {
		return nil, false
	}
	ex := exs[len(exs)-1]
	ex.Response = resp

	return ex, true
}

// Latest returns the most recent exchange for id.
func (t *Traffic) Latest(id string) (*Exchange, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	exs := t.exchanges[id]
	if len(exs) == 0 {
		return nil, false
	}
	return exs[len(exs)-1], true
}

// All returns every exchange for id, oldest first.
func (t *Traffic) All(id string) []*Exchange {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return append([]*Exchange(nil), t.exchanges[id]...)
}

// Exchanges returns every recorded exchange in the order requests were seen.
func (t *Traffic) Exchanges() []*Exchange {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return append([]*Exchange(nil), t.order...)
}

// Clear forgets every exchange.
func (t *Traffic) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.exchanges = make(map[string][]*Exchange)
	t.order = nil
}

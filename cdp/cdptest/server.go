// Package cdptest provides a fake DevTools websocket endpoint for tests.
package cdptest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

// Message is a CDP message as seen on the wire.
type Message struct {
	ID        int64           `json:"id,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *Error          `json:"error,omitempty"`
}

// Error is a CDP error reply.
type Error struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

// ReplyFunc returns the result for a command, or nil to answer with an
// error.
type ReplyFunc func(m Message) json.RawMessage

// Empty answers every command with an empty result.
func Empty(Message) json.RawMessage { return json.RawMessage(`{}`) }

// Server is a fake DevTools endpoint accepting a single connection.
type Server struct {
	URL string

	reply     ReplyFunc
	connected chan struct{}

	mu       sync.Mutex
	ws       *websocket.Conn
	received []Message
}

// NewServer starts a Server that is shut down when the test ends.
func NewServer(t testing.TB, reply ReplyFunc) *Server {
	t.Helper()

	s := &Server{reply: reply, connected: make(chan struct{})}
	srv := httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(srv.Close)
	s.URL = "ws" + strings.TrimPrefix(srv.URL, "http")

	return s
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	var upgrader websocket.Upgrader
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close() //nolint:errcheck

	s.mu.Lock()
	s.ws = ws
	s.mu.Unlock()
	close(s.connected)

	for {
		var m Message
		if err := ws.ReadJSON(&m); err != nil {
			return
		}
		s.mu.Lock()
		s.received = append(s.received, m)
		res := s.reply(m)
		out := Message{ID: m.ID, Result: res}
		if res == nil {
			out.Error = &Error{Code: -32000, Message: "no such thing"}
		}
		err := ws.WriteJSON(out)
		s.mu.Unlock()
		if err != nil {
			return
		}
	}
}

// WaitConnected blocks until a client connected.
func (s *Server) WaitConnected(t testing.TB) {
	t.Helper()

	select {
	case <-s.connected:
	case <-time.After(5 * time.Second):
		t.Fatal("no client connected")
	}
}

// Send writes an event to the connected client. It is safe to call from
// goroutines other than the test's.
func (s *Server) Send(t testing.TB, method string, params string) {
	t.Helper()

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.NoError(t, s.ws.WriteJSON(Message{Method: method, Params: json.RawMessage(params)}))
}

// Drop closes the connection to the client.
func (s *Server) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ws != nil {
		_ = s.ws.Close()
	}
}

// Messages returns every command received so far.
func (s *Server) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.received...)
}

// Methods returns the method of every command received so far.
func (s *Server) Methods() []string {
	msgs := s.Messages()
	methods := make([]string, 0, len(msgs))
	for _, m := range msgs {
		methods = append(methods, m.Method)
	}
	return methods
}

// WaitFor blocks until a command for method was received and returns the
// first one. It is safe to call from goroutines other than the test's.
func (s *Server) WaitFor(t testing.TB, method string) Message {
	t.Helper()

	var found Message
	assert.Eventually(t, func() bool {
		for _, m := range s.Messages() {
			if m.Method == method {
				found = m
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond, "no %s command received", method)

	return found
}

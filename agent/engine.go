package agent

import (
	"context"

	"github.com/grafana/xk6-browser-agent/cookie"
	"github.com/grafana/xk6-browser-agent/events"
	"github.com/grafana/xk6-browser-agent/proxy"
)

// Engine is the part of a browser the agent drives.
type Engine interface {
	events.Source

	Navigate(ctx context.Context, url string) error
	XPath(ctx context.Context, expr string) ([]*Node, error)
	CSS(ctx context.Context, selector string) ([]*Node, error)
	SetCookies(ctx context.Context, cookies []*cookie.Cookie) error
	Cookies(ctx context.Context) ([]*cookie.Cookie, error)
	SetBypassCSP(ctx context.Context, enabled bool) error
	// URL returns the address of the current document.
	URL(ctx context.Context) (string, error)
	// Content returns the serialized current document.
	Content(ctx context.Context) (string, error)
}

// ProxySetter is implemented by engines that route traffic through a proxy
// configured after launch, for instance to answer its auth challenges.
type ProxySetter interface {
	SetProxy(ctx context.Context, p *proxy.Config) error
}

// Node is an element returned by a document query.
type Node struct {
	ID         int64
	Name       string
	Value      string
	Attributes map[string]string
}

// Attr returns the value of the named attribute.
func (n *Node) Attr(name string) (string, bool) {
	v, ok := n.Attributes[name]
	return v, ok
}

package domains

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdpd "github.com/chromedp/cdproto/dom"
)

// DOM exposes the CDP DOM domain actions.
type DOM interface {
	Document(ctx context.Context) (*cdp.Node, error)
	QuerySelectorAll(ctx context.Context, selector string) ([]cdp.NodeID, error)
	XPath(ctx context.Context, expr string) ([]cdp.NodeID, error)
	Describe(ctx context.Context, id cdp.NodeID) (*cdp.Node, error)
	OuterHTML(ctx context.Context, id cdp.NodeID) (string, error)
}

var _ DOM = &dom{}

type dom struct {
	exec cdp.Executor
}

// NewDOM returns a new CDP DOM domain wrapper.
func NewDOM(exec cdp.Executor) DOM {
	return &dom{exec}
}

func (d *dom) Document(ctx context.Context) (*cdp.Node, error) {
	action := cdpd.GetDocument().WithDepth(0)
	root, err := action.Do(cdp.WithExecutor(ctx, d.exec))
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}

	return root, nil
}

func (d *dom) QuerySelectorAll(ctx context.Context, selector string) ([]cdp.NodeID, error) {
	root, err := d.Document(ctx)
	if err != nil {
		return nil, err
	}
	action := cdpd.QuerySelectorAll(root.NodeID, selector)
	ids, err := action.Do(cdp.WithExecutor(ctx, d.exec))
	if err != nil {
		return nil, fmt.Errorf("querying selector %q: %w", selector, err)
	}

	return ids, nil
}

// XPath evaluates expr with DOM.performSearch, which accepts plain text,
// CSS selectors and XPath expressions alike.
func (d *dom) XPath(ctx context.Context, expr string) ([]cdp.NodeID, error) {
	// The search only covers nodes known to the client, so the document has
	// to be requested first.
	if _, err := d.Document(ctx); err != nil {
		return nil, err
	}

	exec := cdp.WithExecutor(ctx, d.exec)
	searchID, count, err := cdpd.PerformSearch(expr).Do(exec)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", expr, err)
	}
	defer func() { _ = cdpd.DiscardSearchResults(searchID).Do(exec) }()

	if count == 0 {
		return nil, nil
	}
	ids, err := cdpd.GetSearchResults(searchID, 0, count).Do(exec)
	if err != nil {
		return nil, fmt.Errorf("getting search results for %q: %w", expr, err)
	}

	return ids, nil
}

func (d *dom) Describe(ctx context.Context, id cdp.NodeID) (*cdp.Node, error) {
	action := cdpd.DescribeNode().WithNodeID(id)
	n, err := action.Do(cdp.WithExecutor(ctx, d.exec))
	if err != nil {
		return nil, fmt.Errorf("describing node %d: %w", id, err)
	}

	return n, nil
}

func (d *dom) OuterHTML(ctx context.Context, id cdp.NodeID) (string, error) {
	action := cdpd.GetOuterHTML().WithNodeID(id)
	html, err := action.Do(cdp.WithExecutor(ctx, d.exec))
	if err != nil {
		return "", fmt.Errorf("getting outer HTML of node %d: %w", id, err)
	}

	return html, nil
}

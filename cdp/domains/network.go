package domains

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdpn "github.com/chromedp/cdproto/network"
)

// Network exposes the CDP Network domain actions.
type Network interface {
	Enable(context.Context) error
	SetCookies(ctx context.Context, cookies []*cdpn.CookieParam) error
	ClearCookies(context.Context) error
}

var _ Network = &network{}

type network struct {
	exec cdp.Executor
}

// NewNetwork returns a new CDP Network domain wrapper.
func NewNetwork(exec cdp.Executor) Network {
	return &network{exec}
}

func (n *network) Enable(ctx context.Context) error {
	action := cdpn.Enable()
	if err := action.Do(cdp.WithExecutor(ctx, n.exec)); err != nil {
		return fmt.Errorf("enabling network CDP domain: %w", err)
	}

	return nil
}

func (n *network) SetCookies(ctx context.Context, cookies []*cdpn.CookieParam) error {
	action := cdpn.SetCookies(cookies)
	if err := action.Do(cdp.WithExecutor(ctx, n.exec)); err != nil {
		return fmt.Errorf("setting %d cookies: %w", len(cookies), err)
	}

	return nil
}

func (n *network) ClearCookies(ctx context.Context) error {
	action := cdpn.ClearBrowserCookies()
	if err := action.Do(cdp.WithExecutor(ctx, n.exec)); err != nil {
		return fmt.Errorf("clearing cookies: %w", err)
	}

	return nil
}

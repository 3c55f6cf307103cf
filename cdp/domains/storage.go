package domains

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdpn "github.com/chromedp/cdproto/network"
	cdps "github.com/chromedp/cdproto/storage"
)

// Storage exposes the CDP Storage domain actions.
type Storage interface {
	Cookies(context.Context) ([]*cdpn.Cookie, error)
}

var _ Storage = &storage{}

type storage struct {
	exec cdp.Executor
}

// NewStorage returns a new CDP Storage domain wrapper.
func NewStorage(exec cdp.Executor) Storage {
	return &storage{exec}
}

// Cookies returns every cookie in the browser's cookie store.
func (s *storage) Cookies(ctx context.Context) ([]*cdpn.Cookie, error) {
	action := cdps.GetCookies()
	cookies, err := action.Do(cdp.WithExecutor(ctx, s.exec))
	if err != nil {
		return nil, fmt.Errorf("getting cookies: %w", err)
	}

	return cookies, nil
}

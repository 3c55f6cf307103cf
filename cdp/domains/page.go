package domains

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdpp "github.com/chromedp/cdproto/page"
)

// Page exposes the CDP Page domain actions.
type Page interface {
	Enable(context.Context) error
	Navigate(ctx context.Context, url, referrer string) (docID string, err error)
	SetBypassCSP(ctx context.Context, enabled bool) error
	CurrentURL(ctx context.Context) (string, error)
}

var _ Page = &page{}

type page struct {
	exec cdp.Executor
}

// NewPage returns a new CDP Page domain wrapper.
func NewPage(exec cdp.Executor) Page {
	return &page{exec}
}

func (p *page) Enable(ctx context.Context) error {
	action := cdpp.Enable()
	if err := action.Do(cdp.WithExecutor(ctx, p.exec)); err != nil {
		return fmt.Errorf("enabling page CDP domain: %w", err)
	}

	return nil
}

func (p *page) Navigate(ctx context.Context, url, referrer string) (string, error) {
	action := cdpp.Navigate(url).WithReferrer(referrer)

	_, documentID, errorText, err := action.Do(cdp.WithExecutor(ctx, p.exec))
	if err != nil {
		return "", fmt.Errorf("navigating to %q: %w", url, err)
	}
	if errorText != "" {
		return "", fmt.Errorf("navigating to %q: %s", url, errorText)
	}

	return documentID.String(), nil
}

func (p *page) SetBypassCSP(ctx context.Context, enabled bool) error {
	action := cdpp.SetBypassCSP(enabled)
	if err := action.Do(cdp.WithExecutor(ctx, p.exec)); err != nil {
		return fmt.Errorf("setting CSP bypass to %t: %w", enabled, err)
	}

	return nil
}

// CurrentURL returns the URL of the current navigation history entry.
func (p *page) CurrentURL(ctx context.Context) (string, error) {
	action := cdpp.GetNavigationHistory()
	current, entries, err := action.Do(cdp.WithExecutor(ctx, p.exec))
	if err != nil {
		return "", fmt.Errorf("getting navigation history: %w", err)
	}
	if current < 0 || int(current) >= len(entries) {
		return "", errors.New("navigation history has no current entry")
	}

	return entries[current].URL, nil
}

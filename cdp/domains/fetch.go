package domains

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdpf "github.com/chromedp/cdproto/fetch"
)

// Fetch exposes the CDP Fetch domain actions.
type Fetch interface {
	Enable(ctx context.Context, handleAuth bool) error
	ContinueRequest(ctx context.Context, requestID string) error
	ContinueWithAuth(ctx context.Context, requestID, user, password string) error
	CancelAuth(ctx context.Context, requestID string) error
}

var _ Fetch = &fetch{}

type fetch struct {
	exec cdp.Executor
}

// NewFetch returns a new CDP Fetch domain wrapper.
func NewFetch(exec cdp.Executor) Fetch {
	return &fetch{exec}
}

// Enable pauses every request. With handleAuth, auth challenges are also
// reported and must be answered.
func (f *fetch) Enable(ctx context.Context, handleAuth bool) error {
	action := cdpf.Enable().
		WithPatterns([]*cdpf.RequestPattern{{URLPattern: "*"}}).
		WithHandleAuthRequests(handleAuth)
	if err := action.Do(cdp.WithExecutor(ctx, f.exec)); err != nil {
		return fmt.Errorf("enabling fetch CDP domain: %w", err)
	}

	return nil
}

func (f *fetch) ContinueRequest(ctx context.Context, requestID string) error {
	action := cdpf.ContinueRequest(cdpf.RequestID(requestID))
	if err := action.Do(cdp.WithExecutor(ctx, f.exec)); err != nil {
		return fmt.Errorf("continuing request %q: %w", requestID, err)
	}

	return nil
}

func (f *fetch) ContinueWithAuth(ctx context.Context, requestID, user, password string) error {
	action := cdpf.ContinueWithAuth(cdpf.RequestID(requestID), &cdpf.AuthChallengeResponse{
		Response: cdpf.AuthChallengeResponseResponseProvideCredentials,
		Username: user,
		Password: password,
	})
	if err := action.Do(cdp.WithExecutor(ctx, f.exec)); err != nil {
		return fmt.Errorf("answering auth challenge for %q: %w", requestID, err)
	}

	return nil
}

func (f *fetch) CancelAuth(ctx context.Context, requestID string) error {
	action := cdpf.ContinueWithAuth(cdpf.RequestID(requestID), &cdpf.AuthChallengeResponse{
		Response: cdpf.AuthChallengeResponseResponseCancelAuth,
	})
	if err := action.Do(cdp.WithExecutor(ctx, f.exec)); err != nil {
		return fmt.Errorf("cancelling auth challenge for %q: %w", requestID, err)
	}

	return nil
}

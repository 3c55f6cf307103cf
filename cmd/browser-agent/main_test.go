package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/xk6-browser-agent/cdp/cdptest"
)

func execute(ctx context.Context, t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err = root.ExecuteContext(ctx)

	return out.String(), errOut.String(), err
}

func TestCookiesCheck(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "good.txt")
	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(good, []byte("rack.session=abc; Domain=example.com\n\nfoo=bar; Secure\n"), 0o600))
	require.NoError(t, os.WriteFile(bad, []byte("foo=bar\nbaz=qux; Bogus\n"), 0o600))

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		out, _, err := execute(context.Background(), t, "cookies", "check", "--print", "--session", good)
		require.NoError(t, err)
		assert.Equal(t, "rack.session=abc; Domain=example.com; Path=/\nok   "+good+": 2 cookies\n", out)
	})
	t.Run("invalid", func(t *testing.T) {
		t.Parallel()

		out, errOut, err := execute(context.Background(), t, "cookies", "check", good, bad)
		require.ErrorIs(t, err, errInvalidCookieFile)
		assert.Contains(t, out, "ok   "+good)
		assert.Contains(t, errOut, "FAIL "+bad+":2")
		assert.Contains(t, errOut, `"Bogus"`)
	})
}

func TestRunRequiresDevtoolsURL(t *testing.T) {
	t.Parallel()

	_, _, err := execute(context.Background(), t, "run")
	assert.ErrorContains(t, err, "DevTools URL is required")
}

func TestRunPrintsURLsUntilClosed(t *testing.T) {
	t.Parallel()

	d := cdptest.NewServer(t, func(m cdptest.Message) json.RawMessage {
		if m.Method == "Page.navigate" {
			return json.RawMessage(`{"frameId":"F1","loaderId":"L1"}`)
		}
		return json.RawMessage(`{}`)
	})

	go func() {
		d.WaitFor(t, "Fetch.enable")
		d.Send(t, "Fetch.requestPaused", `{"requestId":"interception-1","request":{"url":"https://example.com/app.js",`+
			`"method":"GET","headers":{},"initialPriority":"High","referrerPolicy":"no-referrer"},`+
			`"frameId":"F1","resourceType":"Script","networkId":"7"}`)
		d.WaitFor(t, "Fetch.continueRequest")
		d.Drop()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, _, err := execute(ctx, t, "run", "--devtools-url", d.URL, "--url", "https://example.com/", "--like", "example.com",
		"--clear-cookies")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/app.js\n", out)
	methods := d.Methods()
	assert.Contains(t, methods, "Page.navigate")
	assert.Contains(t, methods, "Network.clearBrowserCookies")
}

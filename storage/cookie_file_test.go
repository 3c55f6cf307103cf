package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/xk6-browser-agent/cookie"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), "cookies.txt")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestCookieFileRoundTrip(t *testing.T) {
	t.Parallel()

	in := writeFile(t,
		"foo=bar; Domain=example.com; Secure\n"+
			"\n"+
			"baz=qux; Domain=other.com; httpOnly\n")

	cf := NewCookieFile()
	cookies, err := cf.LoadAll(in)
	require.NoError(t, err)
	require.Len(t, cookies, 2)

	out := filepath.Join(t.TempDir(), "nested", "saved.txt")
	require.NoError(t, cf.Save(context.Background(), out, cookies))

	bb, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(bb), "\n"), "\n")
	assert.Equal(t, []string{
		"foo=bar; Domain=example.com; Path=/; Secure",
		"baz=qux; Domain=other.com; Path=/; httpOnly",
	}, lines)

	again, err := cf.LoadAll(out)
	require.NoError(t, err)
	for i := range cookies {
		assert.True(t, cookies[i].Equal(again[i]))
	}
}

func TestCookieFileLoadIsRestartable(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "a=1\nb=2\nc=3\n")
	seq := NewCookieFile().Load(p)

	var first []string
	for c, err := range seq {
		require.NoError(t, err)
		first = append(first, c.Name)
		if len(first) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, first)

	var second []string
	for c, err := range seq {
		require.NoError(t, err)
		second = append(second, c.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, second)
}

func TestCookieFileLoadFailsFast(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "a=1\nb=2; Bogus\nc=3\n")

	var (
		names []string
		errs  []error
	)
	for c, err := range NewCookieFile().Load(p) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"a"}, names)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], cookie.ErrMalformed)
	assert.ErrorContains(t, errs[0], ":2")
	assert.ErrorContains(t, errs[0], "Bogus")

	_, err := NewCookieFile().LoadAll(p)
	assert.ErrorIs(t, err, cookie.ErrMalformed)
}

func TestCookieFileLoadMissing(t *testing.T) {
	t.Parallel()

	_, err := NewCookieFile().LoadAll(filepath.Join(t.TempDir(), "nope.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

type failingPersister struct{}

func (failingPersister) Persist(context.Context, string, io.Reader) error {
	return errors.New("disk full")
}

func TestCookieFileSaveError(t *testing.T) {
	t.Parallel()

	cf := &CookieFile{Persister: failingPersister{}}
	err := cf.Save(context.Background(), "x", []*cookie.Cookie{{Name: "a"}})
	assert.EqualError(t, err, "saving cookies: disk full")
}

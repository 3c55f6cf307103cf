package storage

import (
	"bufio"
	"context"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/oxtoacart/bpool"
	"github.com/pkg/errors"

	"github.com/grafana/xk6-browser-agent/cookie"
)

var bufPool = bpool.NewBufferPool(8)

// CookieFile stores cookies one wire-format string per line.
type CookieFile struct {
	Persister FilePersister
}

// NewCookieFile returns a CookieFile writing to the local disk.
func NewCookieFile() *CookieFile {
	return &CookieFile{Persister: &LocalFilePersister{}}
}

// Load returns the cookies in the file at path. The file is read lazily and
// reopened every time the sequence is ranged over. Blank lines are skipped.
// Iteration stops at the first line that does not parse, yielding an error
// that matches cookie.ErrMalformed.
func (*CookieFile) Load(path string) iter.Seq2[*cookie.Cookie, error] {
	return func(yield func(*cookie.Cookie, error) bool) {
		f, err := os.Open(filepath.Clean(path))
		if err != nil {
			yield(nil, errors.Wrapf(err, "opening cookie file %q", path))
			return
		}
		defer f.Close() //nolint:errcheck

		sc := bufio.NewScanner(f)
		for n := 1; sc.Scan(); n++ {
			line := strings.TrimRight(sc.Text(), "\r")
			if line == "" {
				continue
			}
			c, err := cookie.Parse(line)
			if err != nil {
				yield(nil, errors.Wrapf(err, "%s:%d", path, n))
				return
			}
			if !yield(c, nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(nil, errors.Wrapf(err, "reading cookie file %q", path))
		}
	}
}

// LoadAll collects every cookie in the file at path.
func (cf *CookieFile) LoadAll(path string) ([]*cookie.Cookie, error) {
	var cookies []*cookie.Cookie
	for c, err := range cf.Load(path) {
		if err != nil {
			return nil, err
		}
		cookies = append(cookies, c)
	}
	return cookies, nil
}

// Save writes cookies to path, one per line, replacing the file.
func (cf *CookieFile) Save(ctx context.Context, path string, cookies []*cookie.Cookie) error {
	buf := bufPool.Get()
	defer bufPool.Put(buf)

	for _, c := range cookies {
		buf.WriteString(c.String())
		buf.WriteByte('\n')
	}

	return errors.Wrap(cf.Persister.Persist(ctx, path, buf), "saving cookies")
}

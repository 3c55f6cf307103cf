// Package cookie parses and serializes wire-format cookie strings.
//
// The accepted format is
//
//	name[=value][; Domain=<d>][; Path=<p>][; Expires=<HTTP-date>][; httpOnly][; Secure]
//
// with Max-Age and SameSite also recognized on input. Anything else is
// rejected.
package cookie

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrMalformed is matched by every parse failure.
var ErrMalformed = errors.New("malformed cookie")

// MalformedError reports the field that could not be parsed.
type MalformedError struct {
	Field  string
	Reason string
}

func (e *MalformedError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed cookie: %s", e.Reason)
	}
	return fmt.Sprintf("malformed cookie: %s %q", e.Reason, e.Field)
}

// Is reports whether target is ErrMalformed.
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformed
}

// DefaultPath is used when a cookie string carries no Path attribute.
const DefaultPath = "/"

// Cookie is a single browser cookie.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value,omitempty"`
	Domain   string    `json:"domain,omitempty"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	HTTPOnly bool      `json:"httpOnly,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	SameSite string    `json:"sameSite,omitempty"`

	// Only set on cookies read back from the browser.
	priority     string
	sameParty    bool
	sourceScheme string
	sourcePort   int64
	session      bool
}

var (
	fieldSeparator = regexp.MustCompile(`;\s+`)

	// now is replaced in tests to pin Max-Age arithmetic.
	now = time.Now
)

// maxExpiresUnix is the last second of year 9999, the latest expiry
// http.TimeFormat can write back.
const maxExpiresUnix = 253402300799

// expiresLayouts are tried in order after http.ParseTime.
var expiresLayouts = []string{
	"Mon, 02-Jan-2006 15:04:05 MST",
	"Mon, 02-Jan-06 15:04:05 MST",
}

// Parse parses a wire-format cookie string. Either the whole string parses or
// an error wrapping ErrMalformed is returned.
func Parse(s string) (*Cookie, error) {
	if s == "" {
		return nil, &MalformedError{Reason: "empty cookie string"}
	}
	fields := fieldSeparator.Split(s, -1)
	for len(fields) > 1 && fields[len(fields)-1] == "" {
		fields = fields[:len(fields)-1]
	}

	name, value, _ := strings.Cut(fields[0], "=")
	if name == "" {
		return nil, &MalformedError{Field: fields[0], Reason: "missing name in"}
	}
	c := &Cookie{
		Name:  name,
		Value: value,
		Path:  DefaultPath,
	}

	for _, field := range fields[1:] {
		if err := c.parseField(field); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *Cookie) parseField(field string) error {
	if field == "" {
		return &MalformedError{Reason: "empty attribute"}
	}
	key, value, isAttr := strings.Cut(field, "=")
	if !isAttr {
		switch strings.ToLower(field) {
		case "httponly":
			c.HTTPOnly = true
		case "secure":
			c.Secure = true
		default:
			return &MalformedError{Field: field, Reason: "unrecognized flag"}
		}
		return nil
	}

	switch strings.ToLower(key) {
	case "expires", "max-age":
		t, err := parseExpires(value)
		if err != nil {
			return &MalformedError{Field: field, Reason: "invalid date in"}
		}
		c.Expires = t
	case "path":
		// An empty Path falls back to the default path.
		if value == "" {
			value = DefaultPath
		}
		c.Path = value
	case "domain":
		c.Domain = value
	case "samesite":
		c.SameSite = value
	default:
		return &MalformedError{Field: field, Reason: "unrecognized field"}
	}

	return nil
}

// parseExpires reads an HTTP date. A bare integer, as sent in Max-Age, is
// taken as seconds from now.
func parseExpires(v string) (time.Time, error) {
	if t, err := http.ParseTime(v); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range expiresLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %q as an HTTP date: %w", v, err)
	}
	base := now().Unix()
	switch {
	case secs > 0 && secs > maxExpiresUnix-base:
		secs = maxExpiresUnix - base
	case secs < 0 && secs < math.MinInt32-base:
		secs = math.MinInt32 - base
	}
	return time.Unix(base+secs, 0).UTC(), nil
}

// String serializes the cookie. Attributes are always written in the same
// order regardless of how the cookie was built.
func (c *Cookie) String() string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteByte('=')
	b.WriteString(c.Value)
	if c.Domain != "" {
		b.WriteString("; Domain=")
		b.WriteString(c.Domain)
	}
	if c.Path != "" {
		b.WriteString("; Path=")
		b.WriteString(c.Path)
	}
	if !c.Expires.IsZero() {
		b.WriteString("; Expires=")
		b.WriteString(c.Expires.UTC().Format(http.TimeFormat))
	}
	if c.HTTPOnly {
		b.WriteString("; httpOnly")
	}
	if c.Secure {
		b.WriteString("; Secure")
	}
	return b.String()
}

// Session reports whether the cookie has no persistent expiration, as the
// browser defines it.
func (c *Cookie) Session() bool {
	return c.session || c.Expires.IsZero()
}

// NamedAsSession reports whether the cookie name follows the common session
// cookie naming, e.g. rack.session or _app_sess.
func (c *Cookie) NamedAsSession() bool {
	n := strings.ToLower(c.Name)
	return strings.HasSuffix(n, "sess") || strings.HasSuffix(n, "session")
}

// Priority is the browser assigned priority (Low, Medium or High).
func (c *Cookie) Priority() string { return c.priority }

// SameParty reports the browser's SameParty attribute.
func (c *Cookie) SameParty() bool { return c.sameParty }

// SourceScheme is the scheme (Secure, NonSecure or Unset) of the origin that
// set the cookie.
func (c *Cookie) SourceScheme() string { return c.sourceScheme }

// SourcePort is the port of the origin that set the cookie.
func (c *Cookie) SourcePort() int64 { return c.sourcePort }

// Equal reports whether c and o carry the same wire level attributes.
func (c *Cookie) Equal(o *Cookie) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.Name == o.Name &&
		c.Value == o.Value &&
		c.Domain == o.Domain &&
		c.Path == o.Path &&
		c.Expires.Equal(o.Expires) &&
		c.HTTPOnly == o.HTTPOnly &&
		c.Secure == o.Secure
}

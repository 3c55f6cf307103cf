// Package proxy normalizes the accepted proxy representations into a Config.
package proxy

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"gopkg.in/guregu/null.v3"
)

// ErrInvalidArgument is matched by errors returned for proxy values of an
// unsupported shape.
var ErrInvalidArgument = errors.New("invalid argument")

// InvalidArgumentError names the offending value and the accepted shapes.
type InvalidArgumentError struct {
	Value any
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf(
		"invalid proxy %#v (%T): must be nil, a *proxy.Config, a *url.URL or a URL string",
		e.Value, e.Value)
}

// Is reports whether target is ErrInvalidArgument.
func (e *InvalidArgumentError) Is(target error) bool {
	return target == ErrInvalidArgument
}

// Config is a normalized proxy record.
type Config struct {
	Host     string      `js:"host"`
	Port     null.Int    `js:"port"`
	User     null.String `js:"user"`
	Password null.String `js:"password"`
}

// Normalize converts v into a Config. v can be nil, a Config (value or
// pointer), a URL (value or pointer) or a URL string. A nil *Config is
// passed through as nil.
func Normalize(v any) (*Config, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case *Config:
		return p, nil
	case Config:
		return &p, nil
	case *url.URL:
		if p == nil {
			return nil, nil
		}
		return FromURL(p)
	case url.URL:
		return FromURL(&p)
	case string:
		u, err := url.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy URL %q: %w", p, err)
		}
		return FromURL(u)
	default:
		return nil, &InvalidArgumentError{Value: v}
	}
}

// FromURL extracts the proxy settings from the authority part of u.
func FromURL(u *url.URL) (*Config, error) {
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: proxy URL %q has no host", ErrInvalidArgument, u.Redacted())
	}

	c := &Config{Host: host}
	if ps := u.Port(); ps != "" {
		port, err := strconv.ParseInt(ps, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy port %q: %w", ps, err)
		}
		c.Port = null.IntFrom(port)
	}
	if u.User != nil {
		c.User = null.StringFrom(u.User.Username())
		if pw, ok := u.User.Password(); ok {
			c.Password = null.StringFrom(pw)
		}
	}

	return c, nil
}

// HasCredentials reports whether the proxy requires authentication.
func (c *Config) HasCredentials() bool {
	return c != nil && c.User.Valid
}

// Address returns host[:port].
func (c *Config) Address() string {
	if !c.Port.Valid {
		return c.Host
	}
	return net.JoinHostPort(c.Host, strconv.FormatInt(c.Port.Int64, 10))
}

// ServerArg returns the browser command line switch that routes traffic
// through the proxy. Credentials are answered separately through auth
// challenges.
func (c *Config) ServerArg() string {
	return "--proxy-server=" + c.Address()
}

func (c *Config) String() string {
	if c == nil {
		return "<no proxy>"
	}
	if c.User.Valid {
		return c.User.String + ":***@" + c.Address()
	}
	return c.Address()
}

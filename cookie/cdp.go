package cookie

import (
	"math"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
)

// FromCDP converts a cookie reported by the browser.
func FromCDP(nc *network.Cookie) *Cookie {
	c := &Cookie{
		Name:         nc.Name,
		Value:        nc.Value,
		Domain:       nc.Domain,
		Path:         nc.Path,
		HTTPOnly:     nc.HTTPOnly,
		Secure:       nc.Secure,
		SameSite:     nc.SameSite.String(),
		priority:     nc.Priority.String(),
		sameParty:    nc.SameParty,
		sourceScheme: nc.SourceScheme.String(),
		sourcePort:   nc.SourcePort,
		session:      nc.Session,
	}
	if !nc.Session && nc.Expires > 0 {
		sec, frac := math.Modf(nc.Expires)
		c.Expires = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	return c
}

// Param converts the cookie for insertion into the browser. pageURL is used
// to scope cookies that carry no Domain.
func (c *Cookie) Param(pageURL string) *network.CookieParam {
	p := &network.CookieParam{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
	}
	if c.Domain == "" {
		p.URL = pageURL
	}
	if !c.Expires.IsZero() {
		e := cdp.TimeSinceEpoch(c.Expires)
		p.Expires = &e
	}
	if ss, ok := sameSite(c.SameSite); ok {
		p.SameSite = ss
	}
	return p
}

func sameSite(v string) (network.CookieSameSite, bool) {
	for _, ss := range []network.CookieSameSite{
		network.CookieSameSiteStrict,
		network.CookieSameSiteLax,
		network.CookieSameSiteNone,
	} {
		if strings.EqualFold(v, ss.String()) {
			return ss, true
		}
	}
	return "", false
}

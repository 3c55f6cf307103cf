package cookie

import (
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cookieCmp = cmpopts.IgnoreUnexported(Cookie{})

func TestParse(t *testing.T) {
	t.Parallel()

	expires := time.Date(2015, time.October, 21, 7, 28, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   string
		want *Cookie
	}{
		{
			name: "name_only",
			in:   "foo",
			want: &Cookie{Name: "foo", Path: "/"},
		},
		{
			name: "name_value",
			in:   "foo=bar",
			want: &Cookie{Name: "foo", Value: "bar", Path: "/"},
		},
		{
			name: "value_with_equals",
			in:   "token=a=b==",
			want: &Cookie{Name: "token", Value: "a=b==", Path: "/"},
		},
		{
			name: "empty_path",
			in:   "foo=bar; Path=",
			want: &Cookie{Name: "foo", Value: "bar", Path: "/"},
		},
		{
			name: "trailing_separator",
			in:   "foo=bar; Secure; ",
			want: &Cookie{Name: "foo", Value: "bar", Path: "/", Secure: true},
		},
		{
			name: "all_attributes",
			in:   "foo=bar; Domain=example.com; Path=/app; Expires=Wed, 21 Oct 2015 07:28:00 GMT; HttpOnly; Secure; SameSite=Lax",
			want: &Cookie{
				Name: "foo", Value: "bar", Domain: "example.com", Path: "/app",
				Expires: expires, HTTPOnly: true, Secure: true, SameSite: "Lax",
			},
		},
		{
			name: "serialized_flag_case",
			in:   "foo=bar; httpOnly",
			want: &Cookie{Name: "foo", Value: "bar", Path: "/", HTTPOnly: true},
		},
		{
			name: "dashed_date",
			in:   "foo=bar; expires=Wed, 21-Oct-2015 07:28:00 GMT",
			want: &Cookie{Name: "foo", Value: "bar", Path: "/", Expires: expires},
		},
		{
			name: "max_age_date",
			in:   "foo=bar; Max-Age=Wed, 21 Oct 2015 07:28:00 GMT",
			want: &Cookie{Name: "foo", Value: "bar", Path: "/", Expires: expires},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Parse(tt.in)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got, cookieCmp); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestParseMaxAgeSeconds(t *testing.T) {
	pinned := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	now = func() time.Time { return pinned }
	t.Cleanup(func() { now = time.Now })

	c, err := Parse("foo=bar; Max-Age=3600")
	require.NoError(t, err)
	assert.Equal(t, pinned.Add(time.Hour), c.Expires)

	c, err = Parse("foo=bar; Max-Age=99999999999")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(pinned.Unix()+99999999999, 0).UTC(), c.Expires)
	assert.Greater(t, c.Expires.Year(), 5000)

	c, err = Parse("foo=bar; Max-Age=9223372036854775807")
	require.NoError(t, err)
	assert.Equal(t, 9999, c.Expires.Year())
	again, err := Parse(c.String())
	require.NoError(t, err)
	assert.True(t, c.Equal(again))
}

func TestParseMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		in        string
		wantField string
	}{
		{name: "empty", in: ""},
		{name: "unknown_field", in: "foo=bar; Unknown=1", wantField: "Unknown=1"},
		{name: "unknown_flag", in: "foo=bar; Bogus", wantField: "Bogus"},
		{name: "missing_name", in: "=bar", wantField: "=bar"},
		{name: "empty_attribute", in: "foo=bar; ; Secure"},
		{name: "bad_date", in: "foo=bar; Expires=tomorrow", wantField: "Expires=tomorrow"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse(tt.in)
			require.ErrorIs(t, err, ErrMalformed)
			var merr *MalformedError
			require.ErrorAs(t, err, &merr)
			assert.Equal(t, tt.wantField, merr.Field)
			if tt.wantField != "" {
				assert.Contains(t, err.Error(), tt.wantField)
			}
		})
	}
}

func TestString(t *testing.T) {
	t.Parallel()

	c := &Cookie{
		Secure:   true,
		HTTPOnly: true,
		Expires:  time.Date(2030, time.January, 2, 3, 4, 5, 0, time.UTC),
		Path:     "/",
		Domain:   "example.com",
		Value:    "bar",
		Name:     "foo",
		SameSite: "Strict",
	}
	want := "foo=bar; Domain=example.com; Path=/; Expires=Wed, 02 Jan 2030 03:04:05 GMT; httpOnly; Secure"
	assert.Equal(t, want, c.String())
	assert.Equal(t, c.String(), c.String())

	assert.Equal(t, "foo=", (&Cookie{Name: "foo"}).String())
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"foo",
		"foo=bar",
		"foo=bar; Secure; HttpOnly; Path=/x; Domain=example.com",
		"sid=a=b; Expires=Thu, 01 Jan 2026 00:00:00 GMT; SameSite=None; Secure",
		"foo=bar; Max-Age=Fri, 13 Feb 2026 23:31:30 GMT; Path=/",
		"foo=bar; Path=",
		"foo=bar; Domain=; Path=",
	}
	for _, in := range inputs {
		in := in
		t.Run(in, func(t *testing.T) {
			t.Parallel()

			first, err := Parse(in)
			require.NoError(t, err)
			s := first.String()
			second, err := Parse(s)
			require.NoError(t, err)
			assert.True(t, first.Equal(second), "%q -> %q", in, s)
			assert.Equal(t, s, second.String())
		})
	}
}

func TestSessionNaming(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]bool{
		"rack.session": true,
		"_foo_sess":    true,
		"PHPSESSION":   true,
		"unrelated":    false,
		"sessionid":    false,
	} {
		assert.Equal(t, want, (&Cookie{Name: name}).NamedAsSession(), name)
	}

	assert.True(t, (&Cookie{Name: "a"}).Session())
	assert.False(t, (&Cookie{Name: "a", Expires: time.Now()}).Session())
}

func TestCDPConversion(t *testing.T) {
	t.Parallel()

	nc := &network.Cookie{
		Name:         "foo",
		Value:        "bar",
		Domain:       ".example.com",
		Path:         "/",
		Expires:      1893456000,
		HTTPOnly:     true,
		Secure:       true,
		SameSite:     network.CookieSameSiteLax,
		Priority:     network.CookiePriorityHigh,
		SameParty:    true,
		SourceScheme: network.CookieSourceSchemeSecure,
		SourcePort:   443,
	}
	c := FromCDP(nc)
	assert.Equal(t, time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC), c.Expires)
	assert.Equal(t, "High", c.Priority())
	assert.True(t, c.SameParty())
	assert.Equal(t, "Secure", c.SourceScheme())
	assert.Equal(t, int64(443), c.SourcePort())
	assert.False(t, c.Session())

	p := c.Param("https://example.com/")
	assert.Empty(t, p.URL)
	assert.Equal(t, ".example.com", p.Domain)
	assert.Equal(t, network.CookieSameSiteLax, p.SameSite)
	require.NotNil(t, p.Expires)
	assert.Equal(t, c.Expires, p.Expires.Time())

	session := FromCDP(&network.Cookie{Name: "s", Session: true, Expires: -1})
	assert.True(t, session.Session())
	assert.True(t, session.Expires.IsZero())
	assert.Equal(t, "https://example.com/", session.Param("https://example.com/").URL)
}

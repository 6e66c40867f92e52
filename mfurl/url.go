// Package mfurl implements the SDK's URL value type (spec Data model §3):
// parsed eagerly, round-trips back to its original text, and knows how to
// resolve a redirect Location against itself.
package mfurl

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mediafire/mediafire-go/mferrors"
)

// URL is an eagerly-parsed, immutable URL.
type URL struct {
	Scheme   string
	Host     string
	Port     string // empty means "use the scheme default"
	User     string
	Password string
	Path     string
	Query    string
	Fragment string

	raw *url.URL // kept only to reproduce FullURL faithfully
}

// Parse parses rawurl into a URL. Construction fails with CodeInvalidURL
// when the scheme separator ("://") is absent, matching the teacher's own
// minimal, defensive parsing (lib/rest.URLJoin assumes a working net/url
// parse and only adds path-join semantics; we add the scheme-separator
// check spec.md requires explicitly).
func Parse(rawurl string) (*URL, error) {
	if !strings.Contains(rawurl, "://") {
		return nil, mferrors.New(mferrors.CodeInvalidURL, fmt.Sprintf("missing scheme separator in %q", rawurl))
	}
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, mferrors.Wrap(err, mferrors.CodeInvalidURL, fmt.Sprintf("parsing %q", rawurl))
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, mferrors.New(mferrors.CodeInvalidURL, fmt.Sprintf("incomplete url %q", rawurl))
	}
	result := &URL{
		Scheme:   u.Scheme,
		Host:     u.Hostname(),
		Port:     u.Port(),
		Path:     u.Path,
		Query:    u.RawQuery,
		Fragment: u.Fragment,
		raw:      u,
	}
	if u.User != nil {
		result.User = u.User.Username()
		result.Password, _ = u.User.Password()
	}
	return result, nil
}

// IsHTTPS reports whether the URL's scheme is https.
func (u *URL) IsHTTPS() bool { return strings.EqualFold(u.Scheme, "https") }

// EffectivePort returns Port, or the scheme default (443/80) when Port is
// empty. It does not attempt to support schemes other than http/https;
// any other scheme returns CodeUnsupportedScheme.
func (u *URL) EffectivePort() (int, error) {
	if u.Port != "" {
		p, err := strconv.Atoi(u.Port)
		if err != nil {
			return 0, mferrors.Wrap(err, mferrors.CodeInvalidURL, "parsing port")
		}
		return p, nil
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return 443, nil
	case "http":
		return 80, nil
	default:
		return 0, mferrors.New(mferrors.CodeUnsupportedScheme, u.Scheme)
	}
}

// FullPath returns Path + "?" + Query + "#" + Fragment, each part present
// only when non-empty.
func (u *URL) FullPath() string {
	var b strings.Builder
	b.WriteString(u.Path)
	if u.Query != "" {
		b.WriteByte('?')
		b.WriteString(u.Query)
	}
	if u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.Fragment)
	}
	return b.String()
}

// FullURL renders the URL back to text. For a URL obtained from Parse this
// round-trips to the original input (Testable property 1).
func (u *URL) FullURL() string {
	if u.raw != nil {
		return u.raw.String()
	}
	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	if u.User != "" {
		b.WriteString(u.User)
		if u.Password != "" {
			b.WriteByte(':')
			b.WriteString(u.Password)
		}
		b.WriteByte('@')
	}
	b.WriteString(u.Host)
	if u.Port != "" {
		b.WriteByte(':')
		b.WriteString(u.Port)
	}
	b.WriteString(u.FullPath())
	return b.String()
}

// FromRedirect resolves a possibly-relative Location header value into an
// absolute URL, using u as the base (spec Data model §3).
func (u *URL) FromRedirect(location string) (*URL, error) {
	if location == "" {
		return nil, mferrors.New(mferrors.CodeInvalidRedirectUrl, "empty Location header")
	}
	base := u.raw
	if base == nil {
		var err error
		base, err = url.Parse(u.FullURL())
		if err != nil {
			return nil, mferrors.Wrap(err, mferrors.CodeInvalidRedirectUrl, "re-parsing base url")
		}
	}
	loc, err := url.Parse(location)
	if err != nil {
		return nil, mferrors.Wrap(err, mferrors.CodeInvalidRedirectUrl, fmt.Sprintf("parsing Location %q", location))
	}
	resolved := base.ResolveReference(loc)
	return Parse(resolved.String())
}

// String implements fmt.Stringer for convenient logging.
func (u *URL) String() string { return u.FullURL() }

package mfhttp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RedirectPolicy controls whether/which redirects the engine follows
// (spec Data model §3).
type RedirectPolicy int

const (
	// RedirectDeny never follows a redirect.
	RedirectDeny RedirectPolicy = iota
	// RedirectDenyDowngrade follows redirects except https->http.
	RedirectDenyDowngrade
	// RedirectAllow follows any redirect the engine understands.
	RedirectAllow
)

// SelfSignedPolicy controls whether a self-signed server certificate is
// tolerated (spec Data model §3 / §4.1.9).
type SelfSignedPolicy int

const (
	// SelfSignedDenied treats a self-signed certificate as a fatal TLS
	// error.
	SelfSignedDenied SelfSignedPolicy = iota
	// SelfSignedPermitted suppresses only the two self-signed-specific
	// certificate errors; hostname mismatch and all other chain errors
	// remain fatal.
	SelfSignedPermitted
)

// Proxy describes an HTTP or HTTPS proxy (spec Data model §3).
type Proxy struct {
	Host     string
	Port     int
	Username string
	Password string
}

// HasCredentials reports whether the proxy has a configured username.
func (p *Proxy) HasCredentials() bool { return p != nil && p.Username != "" }

// Executor runs work items. It exists so the HTTP engine, hasher, and
// upload/download state machines can share a single cooperative scheduler
// (the spec's "work executor" / "callback executor" split, §5). The
// default executor dispatches onto a goroutine per Go call, which is
// adequate for the cooperative-but-not-single-threaded semantics Go's
// runtime already gives us; a caller that wants a literal single
// background thread (e.g. to bound total concurrency) can supply one
// backed by a buffered channel worker.
type Executor interface {
	// Go schedules fn to run asynchronously. It must not block the
	// caller.
	Go(fn func())
}

// goExecutor is the default Executor: every call to Go runs fn on its own
// goroutine.
type goExecutor struct{}

func (goExecutor) Go(fn func()) { go fn() }

// DefaultExecutor is shared by every Config that doesn't set one
// explicitly.
var DefaultExecutor Executor = goExecutor{}

// Config is the shared, instance-wide HTTP configuration (spec §4.2, C2).
// It is safe for concurrent use once built; Clone returns a shallow copy
// safe to mutate per-request (e.g. adding one-off headers) without
// affecting the shared original.
type Config struct {
	WorkExecutor     Executor
	CallbackExecutor Executor

	tlsOnce sync.Once
	tlsPool *x509.CertPool
	extraPEM []byte

	HTTPProxy  *Proxy
	HTTPSProxy *Proxy

	SelfSigned     SelfSignedPolicy
	Redirect       RedirectPolicy
	DefaultHeaders []HeaderField // ordered, case-insensitive dedup

	// BandwidthPercent in [1,100] paces request/response body I/O, per
	// §4.1.5. 100 (the default) disables pacing.
	BandwidthPercent int
	// BandwidthMeter, if set, is notified of every paced byte transferred
	// (the teacher's fs/accounting.TokenBucket equivalent); it is safe
	// for concurrent use and serialized on its own strand internally.
	BandwidthMeter *BandwidthMeter

	Logger *logrus.Entry

	DialContext func(ctx context.Context, network, addr string) (netConnCloser, error)
}

// HeaderField is one entry in an ordered, case-insensitive-unique default
// header list.
type HeaderField struct {
	Name  string
	Value string
}

// defaultHeaderSet returns the SDK's shipped default headers (spec §4.2).
func defaultHeaderSet() []HeaderField {
	return []HeaderField{
		{"Accept", "*/*"},
		{"TE", "trailers"},
		{"Accept-Encoding", "gzip"},
		{"User-Agent", "HttpRequester"},
		{"Connection", "close"},
	}
}

// NewConfig builds a Config with the teacher's functional-options shape
// (lib/pacer.New(options ...Option) in the teacher repo): sane defaults,
// then each Option applied in order.
func NewConfig(opts ...Option) *Config {
	c := &Config{
		WorkExecutor:     DefaultExecutor,
		CallbackExecutor: nil, // resolved to WorkExecutor lazily, see Executor()
		SelfSigned:       SelfSignedDenied,
		Redirect:         RedirectDenyDowngrade,
		DefaultHeaders:   defaultHeaderSet(),
		BandwidthPercent: 100,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Option configures a Config at construction time.
type Option func(*Config)

// WithProxy sets the HTTP and/or HTTPS proxy; a nil argument leaves that
// proxy unset.
func WithProxy(httpProxy, httpsProxy *Proxy) Option {
	return func(c *Config) {
		c.HTTPProxy = httpProxy
		c.HTTPSProxy = httpsProxy
	}
}

// WithRedirectPolicy sets the redirect policy.
func WithRedirectPolicy(p RedirectPolicy) Option {
	return func(c *Config) { c.Redirect = p }
}

// WithSelfSignedPolicy sets the self-signed certificate policy.
func WithSelfSignedPolicy(p SelfSignedPolicy) Option {
	return func(c *Config) { c.SelfSigned = p }
}

// WithBandwidthLimit sets the bandwidth-usage percent (1..100) and an
// optional meter, per §4.1.5.
func WithBandwidthLimit(percent int, meter *BandwidthMeter) Option {
	return func(c *Config) {
		if percent < 1 {
			percent = 1
		}
		if percent > 100 {
			percent = 100
		}
		c.BandwidthPercent = percent
		c.BandwidthMeter = meter
	}
}

// WithWorkExecutor overrides the work executor.
func WithWorkExecutor(e Executor) Option {
	return func(c *Config) { c.WorkExecutor = e }
}

// WithCallbackExecutor overrides the callback executor.
func WithCallbackExecutor(e Executor) Option {
	return func(c *Config) { c.CallbackExecutor = e }
}

// WithLogger attaches a logrus entry used for every component built from
// this Config.
func WithLogger(l *logrus.Entry) Option {
	return func(c *Config) { c.Logger = l }
}

// WithExtraTrustedPEM appends extra trust roots (as a concatenated PEM
// blob) to the OS trust store on first use.
func WithExtraTrustedPEM(pem []byte) Option {
	return func(c *Config) { c.extraPEM = pem }
}

// AddDefaultHeader appends a header to the default list, overwriting any
// existing entry with the same name case-insensitively (spec §4.2).
func (c *Config) AddDefaultHeader(name, value string) {
	for i, h := range c.DefaultHeaders {
		if equalFold(h.Name, name) {
			c.DefaultHeaders[i].Value = value
			return
		}
	}
	c.DefaultHeaders = append(c.DefaultHeaders, HeaderField{name, value})
}

// CallbackGo dispatches fn onto the callback executor, falling back to
// the work executor when none is set (spec §4.2/§5).
func (c *Config) CallbackGo(fn func()) {
	if c.CallbackExecutor != nil {
		c.CallbackExecutor.Go(fn)
		return
	}
	c.WorkExecutor.Go(fn)
}

// TLSConfig builds (once) and returns the shared tls.Config: OS trust
// store plus any bundled extra PEM, per spec §4.2.
func (c *Config) TLSConfig() *tls.Config {
	c.tlsOnce.Do(func() {
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if len(c.extraPEM) > 0 {
			pool.AppendCertsFromPEM(c.extraPEM)
		}
		c.tlsPool = pool
	})
	return &tls.Config{
		RootCAs:            c.tlsPool,
		InsecureSkipVerify: true, // engine does its own verification, see transport.go
	}
}

// Clone returns a copy of c safe to mutate for a single request (e.g.
// per-request default headers) without affecting c itself. The TLS pool
// and executors are shared by reference; the header list is copied.
func (c *Config) Clone() *Config {
	clone := *c
	clone.DefaultHeaders = append([]HeaderField(nil), c.DefaultHeaders...)
	clone.tlsOnce = sync.Once{}
	if clone.tlsPool != nil {
		clone.tlsOnce.Do(func() {})
	}
	return &clone
}

// HeadersForRequest merges Config's default headers (HTTPS suppresses
// Accept-Encoding, per spec §4.2's BREACH-attack defense) with any
// request-specific overrides, case-insensitively, request overrides
// winning.
func (c *Config) HeadersForRequest(isHTTPS bool, overrides []HeaderField) []HeaderField {
	merged := make([]HeaderField, 0, len(c.DefaultHeaders)+len(overrides))
	for _, h := range c.DefaultHeaders {
		if isHTTPS && equalFold(h.Name, "Accept-Encoding") {
			continue
		}
		merged = append(merged, h)
	}
	for _, o := range overrides {
		replaced := false
		for i, m := range merged {
			if equalFold(m.Name, o.Name) {
				merged[i].Value = o.Value
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, o)
		}
	}
	return merged
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// BandwidthMeter observes bytes transferred under pacing, analogous to the
// teacher's fs/accounting.TokenBucket bwlimit reporting.
type BandwidthMeter struct {
	mu          sync.Mutex
	transferred int64
	since       time.Time
}

// NewBandwidthMeter returns a meter starting now.
func NewBandwidthMeter() *BandwidthMeter {
	return &BandwidthMeter{since: time.Now()}
}

// Observe records n bytes transferred, serialized on the meter's own
// mutex (its "own strand", per spec §5).
func (m *BandwidthMeter) Observe(n int) {
	m.mu.Lock()
	m.transferred += int64(n)
	m.mu.Unlock()
}

// Snapshot returns total bytes observed and the elapsed duration since
// construction.
func (m *BandwidthMeter) Snapshot() (bytes int64, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transferred, time.Since(m.since)
}

// netConnCloser is the minimal surface DialContext needs to return;
// defined here (rather than importing net) so this file has no direct
// socket dependency beyond the type name used by engine.go.
type netConnCloser interface {
	Close() error
}

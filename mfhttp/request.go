package mfhttp

import (
	"sync"
	"time"

	"github.com/mediafire/mediafire-go/mferrors"
)

// defaultRequestTimeout is the default per-request timeout (spec §3 Request
// config: "default 60 s").
const defaultRequestTimeout = 60 * time.Second

// RequestConfig is the mutable-only-before-start request description (spec
// Data model §3). Configure it via the Set* methods before calling
// Engine.Start; any call after Start returns CodeLogicError.
type RequestConfig struct {
	mu      sync.Mutex
	started bool

	Method         string
	HeaderOverride []HeaderField
	Body           *Body
	Timeout        time.Duration
	Redirect       *RedirectPolicy // nil means "use the Config's policy"
}

// NewRequestConfig returns a RequestConfig with method GET and the default
// 60s timeout.
func NewRequestConfig() *RequestConfig {
	return &RequestConfig{Method: "GET", Timeout: defaultRequestTimeout}
}

func (r *RequestConfig) checkMutable() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return mferrors.New(mferrors.CodeLogicError, "cannot configure a request after Start")
	}
	return nil
}

// SetMethod sets the HTTP method.
func (r *RequestConfig) SetMethod(method string) error {
	if err := r.checkMutable(); err != nil {
		return err
	}
	r.Method = method
	return nil
}

// SetHeader overrides (or adds) a header, case-insensitively by name.
func (r *RequestConfig) SetHeader(name, value string) error {
	if err := r.checkMutable(); err != nil {
		return err
	}
	for i, h := range r.HeaderOverride {
		if equalFold(h.Name, name) {
			r.HeaderOverride[i].Value = value
			return nil
		}
	}
	r.HeaderOverride = append(r.HeaderOverride, HeaderField{name, value})
	return nil
}

// SetBody sets the request body.
func (r *RequestConfig) SetBody(b *Body) error {
	if err := r.checkMutable(); err != nil {
		return err
	}
	r.Body = b
	return nil
}

// SetTimeout sets the per-request timeout (the engine's global deadline,
// spec §4.1.6).
func (r *RequestConfig) SetTimeout(d time.Duration) error {
	if err := r.checkMutable(); err != nil {
		return err
	}
	r.Timeout = d
	return nil
}

// SetRedirectPolicy overrides the Config's redirect policy for this
// request only.
func (r *RequestConfig) SetRedirectPolicy(p RedirectPolicy) error {
	if err := r.checkMutable(); err != nil {
		return err
	}
	r.Redirect = &p
	return nil
}

// lock marks the config as started; subsequent configuration calls fail.
// It is idempotent-safe to call multiple times but only the first caller
// is told it "won" via the bool return (mirrors Engine.Start's own
// idempotent-lock requirement, spec §4.1.2).
func (r *RequestConfig) lock() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return false
	}
	r.started = true
	return true
}

func (r *RequestConfig) effectiveTimeout() time.Duration {
	if r.Timeout <= 0 {
		return defaultRequestTimeout
	}
	return r.Timeout
}

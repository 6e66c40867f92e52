// Package mfhttp implements the SDK's HTTP/1.1 engine (spec C1) and its
// shared configuration (spec C2): a single-request state machine that
// handles resolution, TCP/TLS connect, optional proxy CONNECT tunneling,
// header and body send with bandwidth pacing, chunked/content-length
// response framing, gzip decompression, redirects, per-operation
// timeouts with retry within a global deadline, and cancellation.
package mfhttp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mediafire/mediafire-go/mferrors"
	"github.com/mediafire/mediafire-go/mflog"
	"github.com/mediafire/mediafire-go/mfurl"
	"github.com/sirupsen/logrus"
)

// State is one of the engine's state-machine states (spec §4.1.1).
type State int

const (
	StateUnstarted State = iota
	StateInitializing
	StateResolve
	StateConnect
	StateProxyConnect
	StateTLSHandshake
	StateSendHeader
	StateSendBody
	StateReadHeaders
	StateParseHeaders
	StateRedirect
	StateReadContent
	StateError
	StateFinalError
	StateComplete
)

var stateNames = [...]string{
	"Unstarted", "Initializing", "Resolve", "Connect", "ProxyConnect",
	"TLSHandshake", "SendHeader", "SendBody", "ReadHeaders", "ParseHeaders",
	"Redirect", "ReadContent", "Error", "FinalError", "Complete",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Engine drives a single HTTP request through to completion. Construct
// with NewEngine, Configure the RequestConfig before Start, then Start.
type Engine struct {
	cfg      *Config
	req      *RequestConfig
	url      *mfurl.URL
	observer Observer
	logger   *logrus.Entry

	state atomic.Int32

	terminalMu sync.Mutex
	terminal   bool

	cancelMu sync.Mutex
	cancelFn context.CancelFunc

	globalDeadline time.Time

	callbackOnce sync.Once
	callbackCh   chan func()
}

// ensureCallbackLoop lazily starts this engine's own callback strand: a
// single goroutine draining callbackCh in FIFO order. Observer events
// must be delivered in strict temporal order (spec §4.1.3); dispatching
// each one independently via the shared executor's "go fn()" semantics
// would not guarantee that, so each Engine serializes its own callbacks
// on a dedicated strand (spec §5: "each long-lived state machine
// serializes its own events on a dedicated strand"), itself scheduled
// once onto the configured callback executor.
func (e *Engine) ensureCallbackLoop() {
	e.callbackOnce.Do(func() {
		e.callbackCh = make(chan func(), 32)
		ch := e.callbackCh
		e.cfg.CallbackGo(func() {
			for fn := range ch {
				fn()
			}
		})
	})
}

// dispatchCallback enqueues fn onto this engine's callback strand.
func (e *Engine) dispatchCallback(fn func()) {
	e.ensureCallbackLoop()
	e.callbackCh <- fn
}

// dispatchTerminalCallback enqueues the final observer callback and then
// closes the strand; the drain goroutine processes every already-queued
// callback (including this one) before exiting on the closed, empty
// channel, so no event is dropped.
func (e *Engine) dispatchTerminalCallback(fn func()) {
	e.ensureCallbackLoop()
	e.callbackCh <- fn
	close(e.callbackCh)
}

// NewEngine builds an Engine targeting url with the given shared config,
// per-request config, and observer.
func NewEngine(cfg *Config, req *RequestConfig, target *mfurl.URL, observer Observer) *Engine {
	if cfg == nil {
		cfg = NewConfig()
	}
	if req == nil {
		req = NewRequestConfig()
	}
	logger := mflog.For("http_engine")
	if cfg.Logger != nil {
		logger = cfg.Logger.WithFields(logrus.Fields{"component": "http_engine", "request_id": mflog.NewRequestID()})
	}
	e := &Engine{
		cfg:      cfg,
		req:      req,
		url:      target,
		observer: observer,
		logger:   logger.WithField("url", target.String()),
	}
	e.state.Store(int32(StateUnstarted))
	return e
}

// State returns the engine's current state, safe to call from any
// goroutine.
func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	e.logger.WithField("state", s.String()).Debug("state transition")
}

// Start begins the request asynchronously on the configured work
// executor. It is idempotent: only the first call actually starts the
// engine (spec §4.1.2); subsequent calls return CodeLogicError.
func (e *Engine) Start() error {
	if !e.req.lock() {
		return mferrors.New(mferrors.CodeLogicError, "engine already started")
	}
	e.cfg.WorkExecutor.Go(e.run)
	return nil
}

// Cancel delivers a Cancelled error to the observer, safe to call from
// any goroutine, at any time (spec §4.1.2/§5).
func (e *Engine) Cancel() {
	e.abort(mferrors.CodeCancelled, "cancelled")
}

// Fail delivers a caller-supplied error kind to the observer, like Cancel
// but with a custom code/text.
func (e *Engine) Fail(code mferrors.Code, text string) {
	e.abort(code, text)
}

func (e *Engine) abort(code mferrors.Code, text string) {
	e.cancelMu.Lock()
	cancel := e.cancelFn
	e.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.fireTerminalError(code, text)
}

func (e *Engine) setCancelFn(fn context.CancelFunc) {
	e.cancelMu.Lock()
	e.cancelFn = fn
	e.cancelMu.Unlock()
}

// fireTerminalError delivers Error exactly once; later calls (e.g. a
// timeout racing a user Cancel) are no-ops, satisfying spec §4.1.3 item 4
// and the cancellation-semantics "exactly once" guarantee.
func (e *Engine) fireTerminalError(code mferrors.Code, text string) {
	e.terminalMu.Lock()
	if e.terminal {
		e.terminalMu.Unlock()
		return
	}
	e.terminal = true
	obs := e.observer
	e.observer = sinkObserver{}
	e.terminalMu.Unlock()

	e.setState(StateFinalError)
	e.logger.WithFields(logrus.Fields{"code": code.String(), "text": text}).Warn("request failed")
	e.dispatchTerminalCallback(func() { obs.Error(code, text) })
}

func (e *Engine) fireTerminalSuccess() {
	e.terminalMu.Lock()
	if e.terminal {
		e.terminalMu.Unlock()
		return
	}
	e.terminal = true
	obs := e.observer
	e.observer = sinkObserver{}
	e.terminalMu.Unlock()

	e.setState(StateComplete)
	e.logger.Debug("request complete")
	e.dispatchTerminalCallback(obs.Complete)
}

// run is the engine's goroutine: it holds the only reference capable of
// invoking the terminal callback (spec §3 invariant / §9 "self-preventing
// destruction"); nothing else keeps the Engine alive once run returns.
func (e *Engine) run() {
	e.globalDeadline = time.Now().Add(e.req.effectiveTimeout())
	curURL := e.url

	for {
		e.setState(StateInitializing)
		next, err := e.attempt(curURL)
		if err == nil {
			e.fireTerminalSuccess()
			return
		}
		if redirectErr, ok := err.(*redirectSignal); ok {
			curURL = redirectErr.to
			_ = next
			continue
		}
		code := mferrors.CodeOf(err)
		if code == mferrors.CodeIoTimeout {
			e.setState(StateError)
			if time.Now().Before(e.globalDeadline) {
				e.logger.Debug("timeout before deadline, restarting")
				continue
			}
			e.fireTerminalError(mferrors.CodeIoTimeout, err.Error())
			return
		}
		e.fireTerminalError(code, err.Error())
		return
	}
}

// redirectSignal is returned by attempt to tell run to loop with a new
// URL (spec §4.1.1: Redirect -> Initializing with new URL).
type redirectSignal struct{ to *mfurl.URL }

func (r *redirectSignal) Error() string { return "redirect to " + r.to.String() }

// attempt drives one full connection lifecycle for url: resolve, connect,
// (proxy CONNECT), (TLS), send headers, (send body), read headers, parse,
// (redirect), read content. It returns a *redirectSignal on an accepted
// redirect, or nil error on a successfully completed (non-redirect)
// response.
func (e *Engine) attempt(url *mfurl.URL) (_ *mfurl.URL, err error) {
	ctx, cancel := context.WithCancel(context.Background())
	e.setCancelFn(cancel)
	defer cancel()

	isHTTPS := url.IsHTTPS()
	port, err := url.EffectivePort()
	if err != nil {
		return nil, err
	}

	proxy, needsProxyConnect := e.selectProxy(url, isHTTPS)

	e.setState(StateResolve)
	dialHost, dialPort := url.Host, port
	if proxy != nil {
		dialHost, dialPort = proxy.Host, proxy.Port
	}
	if _, err := resolveHost(ctx, dialHost); err != nil {
		return nil, err
	}

	e.setState(StateConnect)
	conn, err := dialTCP(ctx, dialHost, dialPort)
	if err != nil {
		return nil, err
	}
	closeConn := true
	defer func() {
		if closeConn {
			_ = conn.Close()
		}
	}()

	if needsProxyConnect {
		e.setState(StateProxyConnect)
		if err := proxyConnect(ctx, conn, url.Host, port, proxy); err != nil {
			return nil, err
		}
	}

	var rw io.ReadWriter = conn
	if isHTTPS {
		e.setState(StateTLSHandshake)
		tlsConn, err := tlsHandshake(ctx, conn, url.Host, e.cfg)
		if err != nil {
			return nil, err
		}
		rw = tlsConn
	}

	p := newPacer(e.cfg.BandwidthPercent, e.cfg.BandwidthMeter)

	e.setState(StateSendHeader)
	if err := e.sendHeader(ctx, rw, conn, url); err != nil {
		return nil, err
	}

	if e.req.Body != nil {
		e.setState(StateSendBody)
		if err := e.sendBody(ctx, rw, conn, p); err != nil {
			return nil, err
		}
	}

	e.setState(StateReadHeaders)
	br := bufio.NewReader(rw)
	headers, err := ParseHeaders(br)
	if err != nil {
		return nil, err
	}

	e.setState(StateParseHeaders)
	if headers.StatusCode == 301 || headers.StatusCode == 302 {
		return e.handleRedirect(url, headers, conn, &closeConn)
	}

	e.dispatchCallback(func() { e.observer.ResponseHeaderReceived(headers) })

	e.setState(StateReadContent)
	if err := e.readContent(ctx, br, conn, headers, p); err != nil {
		return nil, err
	}

	return nil, nil
}

func (e *Engine) selectProxy(url *mfurl.URL, isHTTPS bool) (proxy *Proxy, needsConnect bool) {
	if isHTTPS && e.cfg.HTTPSProxy != nil {
		return e.cfg.HTTPSProxy, true
	}
	if !isHTTPS && e.cfg.HTTPProxy != nil && e.cfg.HTTPProxy.HasCredentials() {
		return e.cfg.HTTPProxy, true
	}
	return nil, false
}

func (e *Engine) handleRedirect(from *mfurl.URL, headers *Headers, conn net.Conn, closeConn *bool) (*mfurl.URL, error) {
	loc, ok := headers.Get("Location")
	if !ok {
		return nil, mferrors.New(mferrors.CodeInvalidRedirectUrl, "301/302 without Location header")
	}
	to, err := from.FromRedirect(loc)
	if err != nil {
		return nil, err
	}

	policy := e.cfg.Redirect
	if e.req.Redirect != nil {
		policy = *e.req.Redirect
	}
	switch policy {
	case RedirectDeny:
		return nil, mferrors.New(mferrors.CodeRedirectPermissionDenied, "redirects denied")
	case RedirectDenyDowngrade:
		if from.IsHTTPS() && !to.IsHTTPS() {
			return nil, mferrors.New(mferrors.CodeRedirectPermissionDenied, "https->http downgrade denied")
		}
	case RedirectAllow:
	}

	e.setState(StateRedirect)
	e.dispatchCallback(func() { e.observer.RedirectHeaderReceived(headers, to) })
	*closeConn = true
	_ = conn // connection closed by deferred cleanup in attempt
	return nil, &redirectSignal{to: to}
}

package download

import (
	"github.com/mediafire/mediafire-go/mferrors"
	"github.com/mediafire/mediafire-go/mfhttp"
	"github.com/mediafire/mediafire-go/mfurl"
)

type eventKind int

const (
	evHeader eventKind = iota
	evContent
	evComplete
	evError
)

type engineEvent struct {
	kind     eventKind
	headers  *mfhttp.Headers
	startPos int64
	buf      *mfhttp.SharedBuffer
	code     mferrors.Code
	text     string
}

// chanObserver bridges an mfhttp.Engine's callback-strand events onto a
// Go channel so the download orchestrator can drive a request with
// ordinary blocking receives instead of nested callbacks (spec §9's
// "goroutine reading from a channel" design note, applied here to C3 the
// same way engine.go's own run loop applies it to C1).
type chanObserver struct {
	ch chan engineEvent
}

func newChanObserver() *chanObserver {
	return &chanObserver{ch: make(chan engineEvent, 4)}
}

func (o *chanObserver) RedirectHeaderReceived(*mfhttp.Headers, *mfurl.URL) {
	// The engine itself re-initializes with the new URL; the orchestrator
	// only needs the final, non-redirect response.
}

func (o *chanObserver) ResponseHeaderReceived(h *mfhttp.Headers) {
	o.ch <- engineEvent{kind: evHeader, headers: h}
}

func (o *chanObserver) ResponseContentReceived(startPos int64, buf *mfhttp.SharedBuffer) {
	o.ch <- engineEvent{kind: evContent, startPos: startPos, buf: buf}
}

func (o *chanObserver) Complete() {
	o.ch <- engineEvent{kind: evComplete}
}

func (o *chanObserver) Error(code mferrors.Code, text string) {
	o.ch <- engineEvent{kind: evError, code: code, text: text}
}

// runRequest drives one HTTP request to completion, invoking onHeader for
// the response header (if any) and onContent for each body chunk.
// onHeader may return cancel=true to abort the request immediately after
// headers arrive without reading any body (used for the ContinueToPath
// range probe, spec §4.3.2's "HEAD-equivalent range probe").
//
// A cancellation requested this way surfaces as an Error{Cancelled} from
// the engine; runRequest treats that specific combination (our own
// cancel, after headers were already captured, with no content-handler
// error recorded) as success rather than propagating CodeCancelled.
func runRequest(
	cfg *mfhttp.Config,
	url *mfurl.URL,
	rangeHeader string,
	onHeader func(h *mfhttp.Headers) (cancel bool, err error),
	onContent func(startPos int64, buf *mfhttp.SharedBuffer) error,
) (*mfhttp.Headers, error) {
	req := mfhttp.NewRequestConfig()
	if rangeHeader != "" {
		_ = req.SetHeader("Range", rangeHeader)
	}
	obs := newChanObserver()
	eng := mfhttp.NewEngine(cfg, req, url, obs)
	if err := eng.Start(); err != nil {
		return nil, err
	}

	var headers *mfhttp.Headers
	var weCancelled bool
	var contentErr error

	for ev := range obs.ch {
		switch ev.kind {
		case evHeader:
			headers = ev.headers
			if onHeader != nil {
				cancel, err := onHeader(headers)
				if err != nil {
					contentErr = err
					eng.Fail(mferrors.CodeOf(err), err.Error())
					continue
				}
				if cancel {
					weCancelled = true
					eng.Cancel()
				}
			}
		case evContent:
			if contentErr == nil && onContent != nil {
				if err := onContent(ev.startPos, ev.buf); err != nil {
					contentErr = err
					eng.Fail(mferrors.CodeOf(err), err.Error())
				}
			}
		case evComplete:
			if contentErr != nil {
				return headers, contentErr
			}
			return headers, nil
		case evError:
			if contentErr != nil {
				return headers, contentErr
			}
			if weCancelled && headers != nil && ev.code == mferrors.CodeCancelled {
				return headers, nil
			}
			return headers, mferrors.New(ev.code, ev.text)
		}
	}
	return headers, mferrors.New(mferrors.CodeUnknown, "engine event stream ended without a terminal event")
}

package upload

import (
	"bytes"

	"github.com/mediafire/mediafire-go/mferrors"
	"github.com/mediafire/mediafire-go/mfhttp"
	"github.com/mediafire/mediafire-go/mfurl"
)

// wireResult is a fully-buffered API response: unlike the download
// orchestrator's streamed file bodies, upload/check/poll responses are
// small JSON documents that are simplest to decode once fully received.
type wireResult struct {
	headers *mfhttp.Headers
	body    []byte
}

type wireEventKind int

const (
	wireEvHeader wireEventKind = iota
	wireEvContent
	wireEvComplete
	wireEvError
)

type wireEvent struct {
	kind    wireEventKind
	headers *mfhttp.Headers
	buf     *mfhttp.SharedBuffer
	code    mferrors.Code
	text    string
}

type wireObserver struct {
	ch chan wireEvent
}

func newWireObserver() *wireObserver {
	return &wireObserver{ch: make(chan wireEvent, 4)}
}

func (o *wireObserver) RedirectHeaderReceived(*mfhttp.Headers, *mfurl.URL) {}

func (o *wireObserver) ResponseHeaderReceived(h *mfhttp.Headers) {
	o.ch <- wireEvent{kind: wireEvHeader, headers: h}
}

func (o *wireObserver) ResponseContentReceived(_ int64, buf *mfhttp.SharedBuffer) {
	o.ch <- wireEvent{kind: wireEvContent, buf: buf}
}

func (o *wireObserver) Complete() { o.ch <- wireEvent{kind: wireEvComplete} }

func (o *wireObserver) Error(code mferrors.Code, text string) {
	o.ch <- wireEvent{kind: wireEvError, code: code, text: text}
}

// runWireRequest drives one request to completion over an mfhttp.Engine,
// buffering the entire response body (spec §6's check/instant/simple/
// resumable/poll/get_action_token calls all return a single small JSON
// or text document, never a streamed file).
func runWireRequest(cfg *mfhttp.Config, url *mfurl.URL, method string, headers []mfhttp.HeaderField, body *mfhttp.Body) (*wireResult, error) {
	req := mfhttp.NewRequestConfig()
	if method != "" {
		_ = req.SetMethod(method)
	}
	for _, h := range headers {
		_ = req.SetHeader(h.Name, h.Value)
	}
	if body != nil {
		_ = req.SetBody(body)
	}

	obs := newWireObserver()
	eng := mfhttp.NewEngine(cfg, req, url, obs)
	if err := eng.Start(); err != nil {
		return nil, err
	}

	var headersOut *mfhttp.Headers
	var buf bytes.Buffer
	for ev := range obs.ch {
		switch ev.kind {
		case wireEvHeader:
			headersOut = ev.headers
		case wireEvContent:
			buf.Write(ev.buf.Bytes())
		case wireEvComplete:
			return &wireResult{headers: headersOut, body: buf.Bytes()}, nil
		case wireEvError:
			return nil, mferrors.New(ev.code, ev.text)
		}
	}
	return nil, mferrors.New(mferrors.CodeUnknown, "engine event stream ended without a terminal event")
}

package main

import (
	"bytes"
	"encoding/json"
	"net/url"

	"github.com/mediafire/mediafire-go/mferrors"
	"github.com/mediafire/mediafire-go/mfhttp"
	"github.com/mediafire/mediafire-go/mfurl"
)

// loginObserver drains one ad hoc get_session_token request, the same
// buffered-response shape the upload package's own wire calls use.
type loginObserver struct {
	ch chan loginEvent
}

type loginEventKind int

const (
	loginEvContent loginEventKind = iota
	loginEvComplete
	loginEvError
)

type loginEvent struct {
	kind loginEventKind
	buf  *mfhttp.SharedBuffer
	code mferrors.Code
	text string
}

func newLoginObserver() *loginObserver { return &loginObserver{ch: make(chan loginEvent, 4)} }

func (o *loginObserver) RedirectHeaderReceived(*mfhttp.Headers, *mfurl.URL) {}
func (o *loginObserver) ResponseHeaderReceived(*mfhttp.Headers)             {}

func (o *loginObserver) ResponseContentReceived(_ int64, buf *mfhttp.SharedBuffer) {
	o.ch <- loginEvent{kind: loginEvContent, buf: buf}
}

func (o *loginObserver) Complete() { o.ch <- loginEvent{kind: loginEvComplete} }

func (o *loginObserver) Error(code mferrors.Code, text string) {
	o.ch <- loginEvent{kind: loginEvError, code: code, text: text}
}

// login turns a username/password into a session token with a single ad
// hoc wire call. A full session maintainer is out of this SDK's scope;
// this CLI needs just enough of one to drive the upload manager.
func login(httpCfg *mfhttp.Config, baseURL, username, password string) (string, error) {
	q := url.Values{
		"email":           {username},
		"password":        {password},
		"response_format": {"json"},
	}
	u, err := mfurl.Parse(baseURL + "/api/user/get_session_token.php?" + q.Encode())
	if err != nil {
		return "", err
	}

	req := mfhttp.NewRequestConfig()
	obs := newLoginObserver()
	eng := mfhttp.NewEngine(httpCfg, req, u, obs)
	if err := eng.Start(); err != nil {
		return "", err
	}

	var body bytes.Buffer
	for ev := range obs.ch {
		switch ev.kind {
		case loginEvContent:
			body.Write(ev.buf.Bytes())
		case loginEvComplete:
			var wire struct {
				Response struct {
					SessionToken string `json:"session_token"`
					Message      string `json:"message"`
				} `json:"response"`
			}
			if err := json.Unmarshal(body.Bytes(), &wire); err != nil {
				return "", mferrors.Wrap(err, mferrors.CodeUploadResponseError, "decoding get_session_token response")
			}
			if wire.Response.SessionToken == "" {
				return "", mferrors.New(mferrors.CodeUploadResponseError, wire.Response.Message)
			}
			return wire.Response.SessionToken, nil
		case loginEvError:
			return "", mferrors.New(ev.code, ev.text)
		}
	}
	return "", mferrors.New(mferrors.CodeUnknown, "engine event stream ended without a terminal event")
}

package mfhttp

import (
	"github.com/mediafire/mediafire-go/mferrors"
	"github.com/mediafire/mediafire-go/mfurl"
)

// Observer is the passive callback protocol an Engine drives, in strict
// temporal order (spec §4.1.3):
//
//  1. Zero or more RedirectHeaderReceived, before any ResponseHeaderReceived.
//  2. Exactly one ResponseHeaderReceived, for the final (non-redirect) response.
//  3. Zero or more ResponseContentReceived, start_pos tiling [0,N) with no
//     gaps or overlap (decompressed-byte space when gzip is in play).
//  4. Exactly one of Complete or Error.
type Observer interface {
	RedirectHeaderReceived(headers *Headers, newURL *mfurl.URL)
	ResponseHeaderReceived(headers *Headers)
	ResponseContentReceived(startPos int64, buf *SharedBuffer)
	Complete()
	Error(code mferrors.Code, text string)
}

// NopObserver implements Observer with no-op methods; embed it to avoid
// implementing callbacks the caller doesn't care about.
type NopObserver struct{}

func (NopObserver) RedirectHeaderReceived(*Headers, *mfurl.URL) {}
func (NopObserver) ResponseHeaderReceived(*Headers)             {}
func (NopObserver) ResponseContentReceived(int64, *SharedBuffer) {}
func (NopObserver) Complete()                                  {}
func (NopObserver) Error(mferrors.Code, string)                {}

// sinkObserver replaces the real observer after a terminal event so any
// late callback from in-flight I/O is swallowed rather than re-entering
// user code (spec §4.3.3 / §5 cancellation semantics).
type sinkObserver struct{}

func (sinkObserver) RedirectHeaderReceived(*Headers, *mfurl.URL)  {}
func (sinkObserver) ResponseHeaderReceived(*Headers)              {}
func (sinkObserver) ResponseContentReceived(int64, *SharedBuffer) {}
func (sinkObserver) Complete()                                   {}
func (sinkObserver) Error(mferrors.Code, string)                 {}

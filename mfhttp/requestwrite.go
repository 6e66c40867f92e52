package mfhttp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mediafire/mediafire-go/mferrors"
	"github.com/mediafire/mediafire-go/mfurl"
)

// ioTimeout bounds each SendHeader/SendBody/ReadContent operation (spec
// §4.1.6: any single I/O op can time out independently of the request's
// overall deadline, which the engine's run loop uses to decide whether to
// restart).
const ioTimeout = 60 * time.Second

const bodyPieceSize = 32 * 1024

// sendHeader writes the request line and header block for url (spec
// §4.1.1 SendHeader state). Header I/O is never paced (spec §4.1.5 ties
// pacing to body bytes only).
func (e *Engine) sendHeader(ctx context.Context, rw io.Writer, conn netConnCloser, url *mfurl.URL) error {
	overrides := append([]HeaderField{{"Host", hostHeaderValue(url)}}, e.req.HeaderOverride...)
	if e.req.Body != nil {
		overrides = append(overrides, HeaderField{"Content-Length", strconv.FormatInt(e.req.Body.Size(), 10)})
	}
	headers := e.cfg.HeadersForRequest(url.IsHTTPS(), overrides)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", e.req.Method, url.FullPath())
	for _, h := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	b.WriteString("\r\n")

	_, err := raceGuard(ctx, ioTimeout, conn, func(ctx context.Context) (int, error) {
		return writeAllTo(rw, []byte(b.String()))
	})
	if err != nil {
		return errOr(err, mferrors.CodeWriteFailure, "sending request headers")
	}
	return nil
}

func hostHeaderValue(url *mfurl.URL) string {
	port, err := url.EffectivePort()
	if err != nil {
		return url.Host
	}
	if (url.IsHTTPS() && port == 443) || (!url.IsHTTPS() && port == 80) {
		return url.Host
	}
	return fmt.Sprintf("%s:%d", url.Host, port)
}

func writeAllTo(w io.Writer, data []byte) (int, error) {
	total := 0
	for total < len(data) {
		n, err := w.Write(data[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// sendBody writes the request body, paced per spec §4.1.5 (spec §4.1.1
// SendBody state). The body is either a single owned buffer or a
// pull-based pipe of known total size.
func (e *Engine) sendBody(ctx context.Context, rw io.Writer, conn netConnCloser, p *pacer) error {
	body := e.req.Body
	if body.Buffer != nil {
		return e.writePaced(ctx, rw, conn, p, body.Buffer.Bytes())
	}
	for {
		chunk, err := body.PipeNext()
		if err != nil {
			return mferrors.Wrap(err, mferrors.CodePostInterfaceReadFailure, "reading next request body chunk")
		}
		if chunk == nil {
			return nil
		}
		if err := e.writePaced(ctx, rw, conn, p, chunk.Bytes()); err != nil {
			return err
		}
	}
}

func (e *Engine) writePaced(ctx context.Context, rw io.Writer, conn netConnCloser, p *pacer, data []byte) error {
	for off := 0; off < len(data); {
		end := off + bodyPieceSize
		if end > len(data) {
			end = len(data)
		}
		piece := data[off:end]
		start := time.Now()
		n, err := raceGuard(ctx, ioTimeout, conn, func(ctx context.Context) (int, error) {
			return writeAllTo(rw, piece)
		})
		if perr := p.AfterIO(ctx, time.Since(start), n); perr != nil && err == nil {
			err = perr
		}
		if err != nil {
			return errOr(err, mferrors.CodeWriteFailure, "sending request body")
		}
		off = end
	}
	return nil
}

// readContent reads and decodes the response body per its framing,
// delivering each piece to the observer as a SharedBuffer (spec §4.1.1
// ReadContent state, §4.1.3 item 3, §4.1.4). Reads are paced the same way
// writes are.
func (e *Engine) readContent(ctx context.Context, br *bufio.Reader, conn netConnCloser, headers *Headers, p *pacer) error {
	f, err := framingFromHeaders(headers)
	if err != nil {
		return err
	}

	raw := newRawBodyReader(br, f)
	defer raw.Close()

	var src io.Reader = raw
	if f.gzip {
		gz, err := newGzipDecoder(raw)
		if err != nil {
			return err
		}
		defer gz.Close()
		src = gz
	}

	var pos int64
	buf := make([]byte, bodyPieceSize)
	for {
		start := time.Now()
		n, rerr := raceGuard(ctx, ioTimeout, conn, func(ctx context.Context) (int, error) {
			return src.Read(buf)
		})
		if perr := p.AfterIO(ctx, time.Since(start), n); perr != nil && rerr == nil {
			rerr = perr
		}
		if n > 0 {
			piece := append([]byte(nil), buf[:n]...)
			startPos := pos
			e.dispatchCallback(func() {
				e.observer.ResponseContentReceived(startPos, NewSharedBuffer(piece))
			})
			pos += int64(n)
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return errOr(rerr, mferrors.CodeReadFailure, "reading response content")
		}
	}
}

// rawBodyReader adapts the push-style chunked/content-length/close body
// decoders in bodyread.go to a pull-style io.Reader, so gzip decoding and
// pacing can sit in front of them uniformly. The decoder runs on its own
// goroutine and streams decoded frames through an io.Pipe (mirrors the
// teacher's use of io.Pipe to bridge a push producer to a pull consumer,
// e.g. backend/chunker's hashing readers).
func newRawBodyReader(br *bufio.Reader, f framing) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		deliver := func(_ int64, data []byte) error {
			_, err := pw.Write(data)
			return err
		}
		var err error
		switch {
		case f.chunked:
			err = readChunkedBody(br, deliver)
		case f.contentLength >= 0:
			err = readContentLengthBody(br, f.contentLength, deliver)
		default:
			err = readUntilCloseBody(br, deliver)
		}
		pw.CloseWithError(err)
	}()
	return pr
}

package mfhttp

import (
	"io"
	"strings"

	kgzip "github.com/klauspost/compress/gzip"
	"github.com/mediafire/mediafire-go/mferrors"
)

// transferEncoding is a bitset of the Transfer-Encoding tokens the engine
// recognizes (spec §4.1.4).
type transferEncoding uint8

const (
	transferChunked transferEncoding = 1 << iota
	transferGzip
	transferContentLength // inferred from header presence, not a token
	transferUnknown
)

// contentEncoding is a bitset of the Content-Encoding tokens the engine
// recognizes.
type contentEncoding uint8

const (
	contentGzip contentEncoding = 1 << iota
	contentUnknown
)

// parseTransferEncoding parses a comma-separated Transfer-Encoding header
// value into a bitset. An unrecognized token sets transferUnknown, which
// is fatal to the caller.
func parseTransferEncoding(value string) transferEncoding {
	var te transferEncoding
	for _, tok := range splitTokens(value) {
		switch tok {
		case "chunked":
			te |= transferChunked
		case "gzip":
			te |= transferGzip
		case "identity":
			// no-op, default
		default:
			te |= transferUnknown
		}
	}
	return te
}

// parseContentEncoding parses a comma-separated Content-Encoding header
// value into a bitset.
func parseContentEncoding(value string) contentEncoding {
	var ce contentEncoding
	for _, tok := range splitTokens(value) {
		switch tok {
		case "gzip":
			ce |= contentGzip
		case "identity":
		default:
			ce |= contentUnknown
		}
	}
	return ce
}

func splitTokens(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// framingFromHeaders determines how the response body is framed, applying
// the RFC 2616 §4.4 rule that Content-Length and chunked Transfer-Encoding
// may not coexist (spec §4.1.4), and whether gzip content-decoding is
// required (signaled by either Transfer-Encoding or Content-Encoding,
// applied once).
type framing struct {
	chunked       bool
	contentLength int64 // -1 if unknown/not content-length-framed
	gzip          bool
}

func framingFromHeaders(h *Headers) (framing, error) {
	var f framing
	f.contentLength = -1

	teVal, hasTE := h.Get("Transfer-Encoding")
	ceVal, hasCE := h.Get("Content-Encoding")
	clVal, hasCL := h.Get("Content-Length")

	var te transferEncoding
	if hasTE {
		te = parseTransferEncoding(teVal)
		if te&transferUnknown != 0 {
			return f, mferrors.New(mferrors.CodeUnsupportedEncoding, "unknown transfer-encoding token")
		}
	}
	if hasCE {
		ce := parseContentEncoding(ceVal)
		if ce&contentUnknown != 0 {
			return f, mferrors.New(mferrors.CodeUnsupportedEncoding, "unknown content-encoding token")
		}
		if ce&contentGzip != 0 {
			f.gzip = true
		}
	}
	if te&transferGzip != 0 {
		f.gzip = true
	}

	chunked := te&transferChunked != 0
	if chunked && hasCL {
		return f, mferrors.New(mferrors.CodeUnparsableHeaders, "Content-Length with Transfer-Encoding: chunked")
	}
	f.chunked = chunked
	if !chunked && hasCL {
		n, _, err := (&Headers{headers: map[string]string{"content-length": clVal}}).ContentLength()
		if err != nil {
			return f, err
		}
		f.contentLength = n
	}
	return f, nil
}

// gzipDecoder wraps a raw byte stream with a streaming gzip decompressor,
// using klauspost/compress/gzip for its resettable reader pool (spec §9
// "Gzip streaming" design note: only decompressed bytes are delivered to
// the observer, with start_pos in decompressed-byte space).
type gzipDecoder struct {
	src io.Reader
	zr  *kgzip.Reader
}

func newGzipDecoder(src io.Reader) (*gzipDecoder, error) {
	zr, err := kgzip.NewReader(src)
	if err != nil {
		return nil, mferrors.Wrap(err, mferrors.CodeCompressionFailure, "opening gzip stream")
	}
	return &gzipDecoder{src: src, zr: zr}, nil
}

func (g *gzipDecoder) Read(p []byte) (int, error) {
	n, err := g.zr.Read(p)
	if err != nil && err != io.EOF {
		return n, mferrors.Wrap(err, mferrors.CodeCompressionFailure, "decompressing gzip stream")
	}
	return n, err
}

func (g *gzipDecoder) Close() error {
	return g.zr.Close()
}

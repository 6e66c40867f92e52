package mfhttp

import (
	"bufio"
	"encoding/hex"
	"io"
	"strings"

	"github.com/mediafire/mediafire-go/mferrors"
)

// readChunkSizeLine reads one chunk-size line (hex length, optional
// extensions after ';', CRLF) per spec §6 ("hexadecimal length line,
// CRLF, chunk bytes, CRLF").
func readChunkSizeLine(r *bufio.Reader) (int64, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, mferrors.Wrap(err, mferrors.CodeReadFailure, "reading chunk size line")
	}
	line = strings.TrimRight(line, "\r\n")
	if semi := strings.IndexByte(line, ';'); semi >= 0 {
		line = line[:semi]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, mferrors.New(mferrors.CodeReadFailure, "empty chunk size line")
	}
	n, err := hexToInt64(line)
	if err != nil {
		return 0, mferrors.Wrap(err, mferrors.CodeReadFailure, "parsing chunk size")
	}
	return n, nil
}

func hexToInt64(s string) (int64, error) {
	// hex.DecodeString requires an even number of digits; pad instead.
	if len(s)%2 != 0 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, by := range b {
		n = n<<8 | int64(by)
	}
	return n, nil
}

// consumeCRLF reads and discards the two bytes following a chunk's data.
func consumeCRLF(r *bufio.Reader) error {
	b, err := r.ReadByte()
	if err != nil || b != '\r' {
		if err == nil {
			err = mferrors.New(mferrors.CodeReadFailure, "missing CR after chunk data")
		}
		return mferrors.Wrap(err, mferrors.CodeReadFailure, "reading chunk terminator")
	}
	b, err = r.ReadByte()
	if err != nil || b != '\n' {
		if err == nil {
			err = mferrors.New(mferrors.CodeReadFailure, "missing LF after chunk data")
		}
		return mferrors.Wrap(err, mferrors.CodeReadFailure, "reading chunk terminator")
	}
	return nil
}

// deliverFunc is called with each contiguous piece of body data as it
// becomes available, in decompressed-byte-space start_pos order (spec
// §4.1.3 item 3).
type deliverFunc func(startPos int64, data []byte) error

// readChunkedBody decodes a chunked transfer-encoded body from r,
// delivering each non-empty chunk via deliver. The first zero-length
// chunk terminates the body; chunk trailers are read and discarded, never
// parsed (spec §6). A zero-length chunk is never treated as an interior
// chunk: any chunks the server sends after it are not read, and deliver
// is never called with an empty slice.
func readChunkedBody(r *bufio.Reader, deliver deliverFunc) error {
	var pos int64
	for {
		size, err := readChunkSizeLine(r)
		if err != nil {
			return err
		}
		if size == 0 {
			// trailer block: read until the blank line, discard.
			for {
				line, err := r.ReadString('\n')
				if err != nil {
					return mferrors.Wrap(err, mferrors.CodeReadFailure, "reading chunk trailers")
				}
				if strings.TrimRight(line, "\r\n") == "" {
					break
				}
			}
			return nil
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			return mferrors.Wrap(err, mferrors.CodeReadFailure, "reading chunk body")
		}
		if err := consumeCRLF(r); err != nil {
			return err
		}
		if err := deliver(pos, buf); err != nil {
			return err
		}
		pos += size
	}
}

// readContentLengthBody reads exactly n bytes from r in bounded pieces,
// delivering each via deliver (spec Testable property 4). Reading fewer
// than n bytes before EOF (including a TLS short read, which the engine
// treats as EOF per spec §4.1.3) is CodeReadFailure.
func readContentLengthBody(r *bufio.Reader, n int64, deliver deliverFunc) error {
	const pieceSize = 32 * 1024
	var pos int64
	buf := make([]byte, pieceSize)
	for pos < n {
		want := int64(len(buf))
		if remain := n - pos; remain < want {
			want = remain
		}
		read, err := io.ReadFull(r, buf[:want])
		if read > 0 {
			if derr := deliver(pos, append([]byte(nil), buf[:read]...)); derr != nil {
				return derr
			}
			pos += int64(read)
		}
		if err != nil {
			if pos < n {
				return mferrors.Wrap(err, mferrors.CodeReadFailure, "content-length body ended early")
			}
		}
	}
	return nil
}

// readUntilCloseBody reads until EOF (connection-close framing, used when
// neither Content-Length nor chunked Transfer-Encoding is present).
func readUntilCloseBody(r *bufio.Reader, deliver deliverFunc) error {
	const pieceSize = 32 * 1024
	var pos int64
	buf := make([]byte, pieceSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if derr := deliver(pos, append([]byte(nil), buf[:n]...)); derr != nil {
				return derr
			}
			pos += int64(n)
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return mferrors.Wrap(err, mferrors.CodeReadFailure, "reading connection-close body")
		}
	}
}

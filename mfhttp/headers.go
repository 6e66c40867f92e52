package mfhttp

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/mediafire/mediafire-go/mferrors"
)

// Headers is the immutable, parsed record of an HTTP response's status
// line and header block (spec Data model §3).
type Headers struct {
	RawHeaders    string
	StatusCode    int
	StatusMessage string
	headers       map[string]string // lower-cased key -> value
}

// Get looks up a header value case-insensitively.
func (h *Headers) Get(name string) (string, bool) {
	v, ok := h.headers[strings.ToLower(name)]
	return v, ok
}

// ContentLength returns the parsed Content-Length header, or -1 if absent.
// Per spec.md §9 open questions, only a decimal representation is
// accepted.
func (h *Headers) ContentLength() (int64, bool, error) {
	v, ok := h.Get("Content-Length")
	if !ok {
		return -1, false, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, true, mferrors.Wrap(err, mferrors.CodeUnparsableHeaders, "Content-Length must be decimal")
	}
	return int64(n), true, nil
}

// ParseHeaders reads a status line plus header block (terminated by a
// blank line) from r, applying line-folding (spec Data model §3: a
// continuation line begins with SP or HTAB and is joined to the previous
// value with a single space) and first-seen de-duplication.
func ParseHeaders(r *bufio.Reader) (*Headers, error) {
	var raw strings.Builder

	statusLine, err := readCRLFLine(r)
	if err != nil {
		return nil, mferrors.Wrap(err, mferrors.CodeUnparsableHeaders, "reading status line")
	}
	raw.WriteString(statusLine)
	raw.WriteString("\r\n")

	code, msg, err := parseStatusLine(statusLine)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{}
	order := []string{} // lower-cased keys, first-seen order, for fold targeting
	var lastKey string

	for {
		line, err := readCRLFLine(r)
		if err != nil {
			return nil, mferrors.Wrap(err, mferrors.CodeUnparsableHeaders, "reading header line")
		}
		if line == "" {
			break // blank line terminates the header block
		}
		raw.WriteString(line)
		raw.WriteString("\r\n")

		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
			// folded continuation of the previous header's value
			if lastKey == "" {
				return nil, mferrors.New(mferrors.CodeUnparsableHeaders, "continuation line with no preceding header")
			}
			headers[lastKey] = headers[lastKey] + " " + strings.TrimSpace(line)
			continue
		}

		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			return nil, mferrors.New(mferrors.CodeUnparsableHeaders, fmt.Sprintf("malformed header line %q", line))
		}
		key := strings.ToLower(strings.TrimSpace(line[:colon]))
		val := strings.TrimSpace(line[colon+1:])
		if _, seen := headers[key]; seen {
			// duplicate header names are collapsed by first-seen
			lastKey = key
			continue
		}
		headers[key] = val
		order = append(order, key)
		lastKey = key
	}

	h := &Headers{
		RawHeaders:    raw.String(),
		StatusCode:    code,
		StatusMessage: msg,
		headers:       headers,
	}
	if h.StatusCode < 100 || h.StatusCode > 599 {
		return nil, mferrors.New(mferrors.CodeUnparsableHeaders, fmt.Sprintf("status code %d out of range", h.StatusCode))
	}
	if _, present, err := h.ContentLength(); present && err != nil {
		return nil, err
	}
	return h, nil
}

func parseStatusLine(line string) (code int, msg string, err error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
		return 0, "", mferrors.New(mferrors.CodeUnparsableHeaders, fmt.Sprintf("malformed status line %q", line))
	}
	code, convErr := strconv.Atoi(parts[1])
	if convErr != nil {
		return 0, "", mferrors.Wrap(convErr, mferrors.CodeUnparsableHeaders, "parsing status code")
	}
	if len(parts) == 3 {
		msg = parts[2]
	}
	return code, msg, nil
}

// readCRLFLine reads one line terminated by \r\n (or bare \n, tolerated),
// with the terminator stripped.
func readCRLFLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	return line, nil
}

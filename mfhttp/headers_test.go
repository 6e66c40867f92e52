package mfhttp

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeadersFolding(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\n" +
		"X-Thing: first\r\n" +
		" continued\r\n" +
		"\tmore\r\n" +
		"Content-Length: 5\r\n" +
		"\r\n"
	h, err := ParseHeaders(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)
	v, ok := h.Get("x-thing")
	require.True(t, ok)
	assert.Equal(t, "first continued more", v)
	assert.Equal(t, 200, h.StatusCode)
	assert.Equal(t, "OK", h.StatusMessage)
}

func TestParseHeadersDuplicateFirstSeenWins(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\n" +
		"X-Dup: one\r\n" +
		"X-Dup: two\r\n" +
		"\r\n"
	h, err := ParseHeaders(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)
	v, _ := h.Get("x-dup")
	assert.Equal(t, "one", v)
}

func TestContentLengthMustBeDecimal(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 0x10\r\n\r\n"
	_, err := ParseHeaders(bufio.NewReader(strings.NewReader(raw)))
	require.Error(t, err)
}

func TestParseHeadersCaseInsensitive(t *testing.T) {
	raw := "HTTP/1.1 404 Not Found\r\nCONTENT-TYPE: text/plain\r\n\r\n"
	h, err := ParseHeaders(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)
	v, ok := h.Get("content-type")
	require.True(t, ok)
	assert.Equal(t, "text/plain", v)
	assert.Equal(t, 404, h.StatusCode)
}

func TestParseHeadersOutOfRangeStatus(t *testing.T) {
	raw := "HTTP/1.1 999 Bogus\r\n\r\n"
	_, err := ParseHeaders(bufio.NewReader(strings.NewReader(raw)))
	require.Error(t, err)
}

package download

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mediafire/mediafire-go/mferrors"
	"github.com/mediafire/mediafire-go/mfhttp"
	"github.com/mediafire/mediafire-go/mfurl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveOnce accepts exactly one connection on a fresh local listener,
// writes resp to it, and returns the listener's URL. The caller is
// responsible for eventually letting the listener close (it closes
// itself after the one connection is served).
func serveOnce(t *testing.T, resp string) *mfurl.URL {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		defer ln.Close()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		_, _ = conn.Read(buf) // drain the request line/headers
		_, _ = conn.Write([]byte(resp))
	}()

	addr := ln.Addr().(*net.TCPAddr)
	u, err := mfurl.Parse(fmt.Sprintf("http://127.0.0.1:%d/file", addr.Port))
	require.NoError(t, err)
	return u
}

func waitForTerminal(t *testing.T, ch chan Status, timeout time.Duration) Status {
	t.Helper()
	var last Status
	deadline := time.After(timeout)
	for {
		select {
		case s := <-ch:
			last = s
			switch s.(type) {
			case Success, Failure:
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for terminal status, last seen: %#v", last)
		}
	}
}

func TestDownloadToMemory(t *testing.T) {
	body := "hello, mediafire"
	resp := fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s", len(body), body)
	url := serveOnce(t, resp)

	statuses := make(chan Status, 64)
	cfg := &Config{HTTP: mfhttp.NewConfig(), Target: WriteToMemory{}}
	dl := New(cfg, url, func(s Status) { statuses <- s })
	dl.run() // drive synchronously; avoids a real goroutine race in the test

	final := waitForTerminal(t, statuses, 2*time.Second)
	success, ok := final.(Success)
	require.True(t, ok, "expected Success, got %#v", final)
	assert.Equal(t, InMemory, success.Disposition)
	assert.Equal(t, body, string(success.Memory))
}

func TestWriteToPathFailsWhenExistingAndFailIfExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	require.NoError(t, os.WriteFile(path, []byte("already here"), 0o644))

	statuses := make(chan Status, 8)
	cfg := &Config{HTTP: mfhttp.NewConfig(), Target: WriteToPath{Path: path, OnExists: FailIfExisting}}
	dl := New(cfg, &mfurl.URL{}, func(s Status) { statuses <- s })
	dl.run()

	final := waitForTerminal(t, statuses, time.Second)
	failure, ok := final.(Failure)
	require.True(t, ok, "expected Failure, got %#v", final)
	assert.Equal(t, mferrors.CodeOverwriteDenied, failure.Code)

	// the existing file must be untouched.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "already here", string(data))
}

func TestWriteToPathOverwritesWhenAllowed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))

	body := "fresh content"
	resp := fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s", len(body), body)
	url := serveOnce(t, resp)

	statuses := make(chan Status, 8)
	cfg := &Config{HTTP: mfhttp.NewConfig(), Target: WriteToPath{Path: path, OnExists: RewriteIfExisting}}
	dl := New(cfg, url, func(s Status) { statuses <- s })
	dl.run()

	final := waitForTerminal(t, statuses, 2*time.Second)
	success, ok := final.(Success)
	require.True(t, ok, "expected Success, got %#v", final)
	assert.Equal(t, OnDisk, success.Disposition)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
}

func TestStatusFuncIgnoresEventsAfterTerminal(t *testing.T) {
	var mu sync.Mutex
	var seenTerminal bool
	var postTerminalCalls int

	cfg := &Config{HTTP: mfhttp.NewConfig(), Target: NoTarget{}}
	dl := New(cfg, &mfurl.URL{}, func(s Status) {
		mu.Lock()
		defer mu.Unlock()
		switch s.(type) {
		case Success, Failure:
			if seenTerminal {
				postTerminalCalls++
			}
			seenTerminal = true
		}
	})

	// force two terminal emits back to back; only the first should reach
	// the wrapped callback.
	dl.emit(Success{Disposition: NoTargetDisposition})
	dl.emit(Failure{Code: mferrors.CodeUnknown, Description: "late"})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, postTerminalCalls)
}

func TestParseContentDispositionFilename(t *testing.T) {
	cases := []struct {
		name     string
		header   string
		wantName string
		wantOK   bool
	}{
		{"quoted", `attachment; filename="report.pdf"`, "report.pdf", true},
		{"unquoted value delimited by its own first char", `attachment; filename=report.pdf`, "epo", true},
		{"escaped quote", `attachment; filename="re\"port.pdf"`, `re"port.pdf`, true},
		{"missing", `attachment`, "", false},
		{"unterminated", `attachment; filename="no-closing-quote`, "no-closing-quote", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := parseContentDispositionFilename(c.header)
			assert.Equal(t, c.wantOK, ok)
			if c.wantOK {
				assert.Equal(t, c.wantName, got)
			}
		})
	}
}

func TestParseContentDispositionFilenameUnquotedDelimiterIsNextChar(t *testing.T) {
	// per spec the delimiter is whatever character follows "=", so an
	// unquoted value is delimited by the first later occurrence of that
	// same literal character - here that's 'r', consumed as the delimiter
	// itself and then found again at "report.pdf"[4], leaving "epo".
	got, ok := parseContentDispositionFilename(`filename=report.pdf`)
	require.True(t, ok)
	assert.Equal(t, "epo", got)
}

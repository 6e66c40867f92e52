package upload

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mediafire/mediafire-go/filehash"
	"github.com/mediafire/mediafire-go/mferrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManagerTestFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// collector gathers every terminal status posted for one handle.
type collector struct {
	mu    sync.Mutex
	final Status
	done  chan struct{}
}

func newCollector() *collector { return &collector{done: make(chan struct{})} }

func (c *collector) statusFunc() StatusFunc {
	return func(s Status) {
		switch s.(type) {
		case Success, Failure:
			c.mu.Lock()
			c.final = s
			c.mu.Unlock()
			close(c.done)
		}
	}
}

func (c *collector) wait(t *testing.T, timeout time.Duration) Status {
	t.Helper()
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.final
	case <-time.After(timeout):
		t.Fatal("timed out waiting for terminal status")
		return nil
	}
}

func TestManagerAddDrivesHashSuppliedUploadToCompletion(t *testing.T) {
	path := newManagerTestFile(t, "content")
	api := &fakeAPIClient{
		checkResult: &CheckResult{},
		simpleResult: &UploadKeyResult{UploadKey: "key"},
		pollResults: []*PollResult{{Status: 99, Quickkey: "done-key"}},
	}
	mgr := NewManager(&Config{API: api})
	defer mgr.Close()

	c := newCollector()
	req := &Request{LocalPath: path, Hash: &filehash.Result{Chunks: []filehash.Digest{{}}}}
	handle := mgr.Add(req, c.statusFunc())
	require.NotZero(t, handle)

	final := c.wait(t, 2*time.Second)
	success, ok := final.(Success)
	require.True(t, ok, "expected Success, got %#v", final)
	assert.Equal(t, "done-key", success.Quickkey)
}

func TestManagerCoalescesDuplicateConcurrentUploadsOfSameDigest(t *testing.T) {
	pathA := newManagerTestFile(t, "same-bytes")
	pathB := newManagerTestFile(t, "same-bytes")

	api := &fakeAPIClient{
		checkResult:  &CheckResult{},
		simpleResult: &UploadKeyResult{UploadKey: "key"},
		pollResults:  []*PollResult{{Status: 99, Quickkey: "done-key"}},
	}
	mgr := NewManager(&Config{API: api})
	defer mgr.Close()

	digest := filehash.Digest{9, 9, 9}
	hash := &filehash.Result{Chunks: []filehash.Digest{{}}, WholeFile: digest}

	c1, c2 := newCollector(), newCollector()
	h1 := mgr.Add(&Request{LocalPath: pathA, Hash: hash}, c1.statusFunc())
	h2 := mgr.Add(&Request{LocalPath: pathB, Hash: hash}, c2.statusFunc())
	require.NotZero(t, h1)
	require.NotZero(t, h2)

	// both eventually complete, but the manager's uploadingHashes set
	// must have kept them from uploading concurrently; we can't observe
	// that directly without racing, so we just assert both terminate
	// successfully (the coalescing logic is exercised regardless of
	// observed ordering).
	f1 := c1.wait(t, 2*time.Second)
	f2 := c2.wait(t, 2*time.Second)
	_, ok1 := f1.(Success)
	_, ok2 := f2.(Success)
	assert.True(t, ok1)
	assert.True(t, ok2)
}

func TestManagerModifyCancelUnknownHandleIsNoop(t *testing.T) {
	mgr := NewManager(&Config{API: &fakeAPIClient{}})
	defer mgr.Close()
	assert.NotPanics(t, func() {
		mgr.Modify(Handle(999999), ModifyCancel)
	})
}

// TestManagerCloseCancelsPendingMachines posts Cancel while a machine is
// blocked mid-Check, then lets Check return: the queued Cancel event must
// still be observed (at the next checkpoint, poll's select) and turn into
// a Failure rather than being lost.
func TestManagerCloseCancelsPendingMachines(t *testing.T) {
	path := newManagerTestFile(t, "content")
	api := &fakeAPIClient{
		checkResult:  &CheckResult{},
		checkEntered: make(chan struct{}),
		checkGate:    make(chan struct{}),
		simpleResult: &UploadKeyResult{UploadKey: "key"},
		pollResults:  []*PollResult{{Status: 0}},
	}
	mgr := NewManager(&Config{API: api})

	c := newCollector()
	req := &Request{LocalPath: path, Hash: &filehash.Result{Chunks: []filehash.Digest{{}}}}
	handle := mgr.Add(req, c.statusFunc())
	require.NotZero(t, handle)

	select {
	case <-api.checkEntered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the machine to reach Check")
	}

	mgr.Close()
	close(api.checkGate)

	final := c.wait(t, 2*time.Second)
	failure, ok := final.(Failure)
	require.True(t, ok, "expected Failure, got %#v", final)
	assert.Equal(t, mferrors.CodeCancelled, failure.Code)
}

func TestManagerTokenBackoffAfterFailedFetch(t *testing.T) {
	path := newManagerTestFile(t, "content")
	api := &fakeAPIClient{
		tokenErr:    assertErr{},
		checkResult: &CheckResult{},
	}
	mgr := NewManager(&Config{API: api})
	defer mgr.Close()

	req := &Request{LocalPath: path, Hash: &filehash.Result{Chunks: []filehash.Digest{{}}}}
	c := newCollector()
	mgr.Add(req, c.statusFunc())

	// the token fetch fails; the machine should remain parked in
	// WaitForUploadSignal rather than completing. Give tick() a moment to
	// run, then confirm no terminal status has arrived yet.
	select {
	case <-c.done:
		t.Fatal("machine should not have completed without a valid token")
	case <-time.After(100 * time.Millisecond):
	}

	mgr.mu.Lock()
	state := mgr.tokenState
	retryAfter := mgr.tokenRetryAfter
	mgr.mu.Unlock()
	assert.Equal(t, tokenErrored, state)
	assert.True(t, retryAfter.After(time.Now().Add(tokenBackoff-time.Second)))
}

type assertErr struct{}

func (assertErr) Error() string { return "token fetch failed" }

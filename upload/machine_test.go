package upload

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mediafire/mediafire-go/filehash"
	"github.com/mediafire/mediafire-go/mferrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPIClient is a scriptable APIClient for exercising Machine without
// any network I/O.
type fakeAPIClient struct {
	checkResult *CheckResult
	checkErr    error

	instantResult *InstantResult
	instantErr    error

	simpleResult *UploadKeyResult
	simpleErr    error

	resumableResult *UploadKeyResult
	resumableErr    error
	resumableCalls  int

	pollResults []*PollResult
	pollErr     error
	pollIdx     int

	tokenErr error

	// checkEntered, if set, is closed the moment Check is entered, letting
	// a test synchronize on "the machine has reached InUploadCheck".
	checkEntered chan struct{}
	// checkGate, if set, blocks Check until the test closes it, letting a
	// test post events (e.g. Cancel) while the machine is mid-call.
	checkGate chan struct{}
}

func (f *fakeAPIClient) Check(*Request, filehash.Result) (*CheckResult, error) {
	if f.checkEntered != nil {
		close(f.checkEntered)
	}
	if f.checkGate != nil {
		<-f.checkGate
	}
	return f.checkResult, f.checkErr
}

func (f *fakeAPIClient) Instant(*Request, filehash.Result, string) (*InstantResult, error) {
	return f.instantResult, f.instantErr
}

func (f *fakeAPIClient) Simple(*Request, filehash.Result, string, []byte) (*UploadKeyResult, error) {
	return f.simpleResult, f.simpleErr
}

func (f *fakeAPIClient) Resumable(*Request, filehash.Digest, string, int, filehash.Digest, []byte) (*UploadKeyResult, error) {
	f.resumableCalls++
	return f.resumableResult, f.resumableErr
}

func (f *fakeAPIClient) Poll(string) (*PollResult, error) {
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	r := f.pollResults[f.pollIdx]
	if f.pollIdx < len(f.pollResults)-1 {
		f.pollIdx++
	}
	return r, nil
}

func (f *fakeAPIClient) GetActionToken() (string, time.Duration, error) {
	if f.tokenErr != nil {
		return "", 0, f.tokenErr
	}
	return "tok", 18 * time.Hour, nil
}

func waitMachineTerminal(t *testing.T, ch chan Status, timeout time.Duration) Status {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case s := <-ch:
			switch s.(type) {
			case Success, Failure:
				return s
			}
		case <-deadline:
			t.Fatal("timed out waiting for terminal upload status")
		}
	}
}

func newTestFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "upload.bin")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestMachineRejectsZeroByteFile(t *testing.T) {
	path := newTestFile(t, "")
	api := &fakeAPIClient{}
	cfg := &Config{API: api}
	statuses := make(chan Status, 8)
	m := newMachine(cfg, &Request{LocalPath: path}, nextHandle(), func(s Status) { statuses <- s }, nil, nil)
	m.run()

	final := waitMachineTerminal(t, statuses, time.Second)
	failure, ok := final.(Failure)
	require.True(t, ok, "expected Failure, got %#v", final)
	assert.Equal(t, mferrors.CodeZeroByteFile, failure.Code)
}

func TestMachineHashSuppliedSkipsHashingAndFindsDuplicate(t *testing.T) {
	path := newTestFile(t, "hello")
	api := &fakeAPIClient{
		checkResult: &CheckResult{FileExists: true, HashDifferent: false, DuplicateQuickkey: "abc123"},
	}
	cfg := &Config{API: api}
	statuses := make(chan Status, 8)
	req := &Request{
		LocalPath: path,
		Hash:      &filehash.Result{Chunks: []filehash.Digest{{}}},
	}
	m := newMachine(cfg, req, nextHandle(), func(s Status) { statuses <- s }, nil, nil)

	// hash supplied: the machine should proceed straight to
	// WaitForUploadSignal without needing a PostStartHash grant.
	go m.run()
	m.PostStartUpload("tok")

	final := waitMachineTerminal(t, statuses, time.Second)
	success, ok := final.(Success)
	require.True(t, ok, "expected Success, got %#v", final)
	assert.Equal(t, "abc123", success.Quickkey)
}

func TestMachineHashExistsTakesInstantPath(t *testing.T) {
	path := newTestFile(t, "hello")
	api := &fakeAPIClient{
		checkResult:   &CheckResult{HashExists: true},
		instantResult: &InstantResult{Quickkey: "instant-key", Filename: "upload.bin"},
	}
	cfg := &Config{API: api}
	statuses := make(chan Status, 8)
	req := &Request{LocalPath: path, Hash: &filehash.Result{Chunks: []filehash.Digest{{}}}}
	m := newMachine(cfg, req, nextHandle(), func(s Status) { statuses <- s }, nil, nil)

	go m.run()
	m.PostStartUpload("tok")

	final := waitMachineTerminal(t, statuses, time.Second)
	success, ok := final.(Success)
	require.True(t, ok, "expected Success, got %#v", final)
	assert.Equal(t, "instant-key", success.Quickkey)
	assert.Equal(t, StateCompleteWithSuccess, m.State())
}

func TestMachineKeepOnDuplicateFails(t *testing.T) {
	path := newTestFile(t, "hello")
	api := &fakeAPIClient{
		checkResult: &CheckResult{FileExists: true},
	}
	cfg := &Config{API: api}
	statuses := make(chan Status, 8)
	req := &Request{LocalPath: path, Hash: &filehash.Result{Chunks: []filehash.Digest{{}}}, OnDuplicate: Keep}
	m := newMachine(cfg, req, nextHandle(), func(s Status) { statuses <- s }, nil, nil)

	go m.run()
	m.PostStartUpload("tok")

	final := waitMachineTerminal(t, statuses, time.Second)
	failure, ok := final.(Failure)
	require.True(t, ok, "expected Failure, got %#v", final)
	assert.Equal(t, mferrors.CodeFileExistInFolder, failure.Code)
}

func TestMachineSimpleUploadPath(t *testing.T) {
	path := newTestFile(t, "hello world")
	api := &fakeAPIClient{
		checkResult:  &CheckResult{},
		simpleResult: &UploadKeyResult{UploadKey: "key-1"},
		pollResults:  []*PollResult{{Status: 99, Quickkey: "final-key"}},
	}
	cfg := &Config{API: api}
	statuses := make(chan Status, 8)
	req := &Request{LocalPath: path, Hash: &filehash.Result{Chunks: []filehash.Digest{{}}}}
	m := newMachine(cfg, req, nextHandle(), func(s Status) { statuses <- s }, nil, nil)

	go m.run()
	m.PostStartUpload("tok")

	final := waitMachineTerminal(t, statuses, time.Second)
	success, ok := final.(Success)
	require.True(t, ok, "expected Success, got %#v", final)
	assert.Equal(t, "final-key", success.Quickkey)
}

func TestMachineResumableUploadDrainsBitmapGaps(t *testing.T) {
	// a file just over one base chunk (4 MiB) yields exactly two chunks
	// per the chunk-sizing table; mark the first already uploaded so only
	// the second is sent.
	content := make([]byte, 4*1024*1024+50)
	path := newTestFile(t, string(content))
	api := &fakeAPIClient{
		checkResult: &CheckResult{
			Resumable: &ResumableInfo{NumberOfUnits: 2, Words: []uint16{0b01}},
		},
		resumableResult: &UploadKeyResult{UploadKey: "key-chunk"},
		pollResults:     []*PollResult{{Status: 99, Quickkey: "chunked-key"}},
	}
	cfg := &Config{API: api}
	hash := &filehash.Result{Chunks: []filehash.Digest{{1}, {2}}}
	req := &Request{LocalPath: path, Hash: hash}
	statuses := make(chan Status, 8)
	m := newMachine(cfg, req, nextHandle(), func(s Status) { statuses <- s }, nil, nil)

	go m.run()
	m.PostStartUpload("tok")

	final := waitMachineTerminal(t, statuses, 2*time.Second)
	success, ok := final.(Success)
	require.True(t, ok, "expected Success, got %#v", final)
	assert.Equal(t, "chunked-key", success.Quickkey)
	assert.Equal(t, 1, api.resumableCalls, "only the one NeedsUpload chunk should be sent")
}

func TestMachineCancelDuringWaitForUploadSignal(t *testing.T) {
	path := newTestFile(t, "hello")
	api := &fakeAPIClient{}
	cfg := &Config{API: api}
	statuses := make(chan Status, 8)
	req := &Request{LocalPath: path, Hash: &filehash.Result{Chunks: []filehash.Digest{{}}}}
	m := newMachine(cfg, req, nextHandle(), func(s Status) { statuses <- s }, nil, nil)

	go m.run()
	m.Cancel()

	final := waitMachineTerminal(t, statuses, time.Second)
	failure, ok := final.(Failure)
	require.True(t, ok, "expected Failure, got %#v", final)
	assert.Equal(t, mferrors.CodeCancelled, failure.Code)
}

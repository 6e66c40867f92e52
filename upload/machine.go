package upload

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mediafire/mediafire-go/filehash"
	"github.com/mediafire/mediafire-go/mferrors"
	"github.com/mediafire/mediafire-go/mfhttp"
	"github.com/mediafire/mediafire-go/mflog"
	"github.com/sirupsen/logrus"
)

// State is one of the per-upload state machine's states (spec §4.5.1).
type State int

const (
	StateInitial State = iota
	StateWaitForHashSignal
	StateSetupHasher
	StateHashing
	StateWaitForUploadSignal
	StateInUploadCheck
	StateInstantUpload
	StateUploadFile
	StateUploadChunk
	StatePollUpload
	StateCompleteWithSuccess
	StateCompleteWithError
)

// Config is shared configuration for every Machine a Manager admits.
type Config struct {
	HTTP         *mfhttp.Config
	API          APIClient
	WorkExecutor mfhttp.Executor
	Logger       *logrus.Entry
}

type machineEventKind int

const (
	evStartHash machineEventKind = iota
	evStartUpload
	evError
)

type machineEvent struct {
	kind  machineEventKind
	token string
	code  mferrors.Code
	text  string
}

// Machine drives one file through the upload pipeline described in spec
// §4.5: a goroutine reading its own event channel (the Go rendering of
// the design note's "stackless resumable state machine", §9), with
// externally-posted events (hash/upload admission grants, cancel, pause)
// the only way in.
type Machine struct {
	cfg    *Config
	req    *Request
	handle Handle
	status StatusFunc
	logger *logrus.Entry

	events chan machineEvent

	// onHashed fires once (spec §4.5.1's HashSuccess transition) when
	// hashing completes, so the Manager can release the hashing slot and
	// enqueue this machine for uploading with a known digest.
	onHashed func(handle Handle, hash *filehash.Result)
	// onTerminal fires exactly once, after the machine reaches a terminal
	// state, so the Manager can release every slot it was holding.
	onTerminal func(handle Handle)

	terminalMu sync.Mutex
	terminal   bool

	state atomic.Int32

	hashResult *filehash.Result
	uploadKey  string
}

// State returns the machine's current state, safe for concurrent use.
func (m *Machine) State() State { return State(m.state.Load()) }

func (m *Machine) setState(s State) { m.state.Store(int32(s)) }

func newMachine(cfg *Config, req *Request, handle Handle, status StatusFunc, onHashed func(Handle, *filehash.Result), onTerminal func(Handle)) *Machine {
	if status == nil {
		status = func(Status) {}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = mflog.For("upload")
	}
	return &Machine{
		cfg:        cfg,
		req:        req,
		handle:     handle,
		status:     status,
		events:     make(chan machineEvent, 8),
		onHashed:   onHashed,
		onTerminal: onTerminal,
		logger:     logger.WithField("handle", handle),
	}
}

// Start schedules the machine's run loop on the configured work executor.
func (m *Machine) Start() {
	exec := m.cfg.WorkExecutor
	if exec == nil {
		exec = mfhttp.DefaultExecutor
	}
	exec.Go(m.run)
}

// PostStartHash grants this machine a hashing admission slot.
func (m *Machine) PostStartHash() { m.events <- machineEvent{kind: evStartHash} }

// PostStartUpload grants this machine an uploading admission slot, with
// the action token to use for every upload-family call.
func (m *Machine) PostStartUpload(token string) {
	m.events <- machineEvent{kind: evStartUpload, token: token}
}

// Cancel posts a Cancelled error event (spec §4.6.2 modify(Cancel)).
func (m *Machine) Cancel() {
	m.events <- machineEvent{kind: evError, code: mferrors.CodeCancelled, text: "cancelled"}
}

// Pause posts a Paused error event (spec §4.6.2 modify(Pause)).
func (m *Machine) Pause() {
	m.events <- machineEvent{kind: evError, code: mferrors.CodePaused, text: "paused"}
}

func (m *Machine) run() {
	defer func() {
		if m.onTerminal != nil {
			m.onTerminal(m.handle)
		}
	}()

	m.setState(StateInitial)
	info, err := os.Stat(m.req.LocalPath)
	if err != nil {
		m.fail(mferrors.CodeReadFailure, err.Error())
		return
	}
	if info.Size() == 0 {
		m.fail(mferrors.CodeZeroByteFile, m.req.LocalPath)
		return
	}
	if m.req.Filename == "" {
		m.req.Filename = filepath.Base(m.req.LocalPath)
	}
	m.req.Size = info.Size()

	if m.req.Hash != nil {
		m.hashResult = m.req.Hash
	} else {
		m.setState(StateWaitForHashSignal)
		if _, ok := m.waitFor(evStartHash); !ok {
			return
		}
		m.setState(StateSetupHasher)
		job, err := filehash.NewJob(m.req.LocalPath)
		if err != nil {
			m.fail(mferrors.CodeOf(err), err.Error())
			return
		}
		m.setState(StateHashing)
		res, err := job.Run(context.Background(), m.cfg.WorkExecutor)
		if err != nil {
			m.fail(mferrors.CodeOf(err), err.Error())
			return
		}
		m.hashResult = res
		if m.onHashed != nil {
			m.onHashed(m.handle, res)
		}
	}

	m.setState(StateWaitForUploadSignal)
	ev, ok := m.waitFor(evStartUpload)
	if !ok {
		return
	}
	token := ev.token

	m.setState(StateInUploadCheck)
	check, err := m.cfg.API.Check(m.req, *m.hashResult)
	if err != nil {
		m.fail(mferrors.CodeOf(err), err.Error())
		return
	}

	switch {
	case check.StorageLimitExceeded:
		m.fail(mferrors.CodeInsufficientCloudStorage, "storage limit exceeded")
		return
	case check.FileExists && !check.HashDifferent && check.DuplicateQuickkey != "":
		m.succeed(check.DuplicateQuickkey)
		return
	case check.FileExists && m.req.OnDuplicate == Keep:
		m.fail(mferrors.CodeFileExistInFolder, m.req.Filename)
		return
	case check.HashExists:
		m.setState(StateInstantUpload)
		res, err := m.cfg.API.Instant(m.req, *m.hashResult, token)
		if err != nil {
			m.fail(mferrors.CodeOf(err), err.Error())
			return
		}
		m.succeed(res.Quickkey)
		return
	case check.Resumable != nil && check.Resumable.NumberOfUnits == len(m.hashResult.Chunks):
		m.setState(StateUploadChunk)
		if !m.uploadChunks(token, NewBitmap(check.Resumable.Words)) {
			return
		}
	default:
		m.setState(StateUploadFile)
		if !m.uploadSimple(token) {
			return
		}
	}

	m.setState(StatePollUpload)
	m.poll(token)
}

// uploadSimple implements the NeedsSingleUpload path (spec §4.5.4).
func (m *Machine) uploadSimple(token string) bool {
	data, err := os.ReadFile(m.req.LocalPath)
	if err != nil {
		m.fail(mferrors.CodeReadFailure, err.Error())
		return false
	}
	res, err := m.cfg.API.Simple(m.req, *m.hashResult, token, data)
	if err != nil {
		m.fail(mferrors.CodeOf(err), err.Error())
		return false
	}
	m.uploadKey = res.UploadKey
	m.status(Progress{ChunksUploaded: 1, ChunksTotal: 1})
	return true
}

// uploadChunks implements the NeedsChunkUpload path (spec §4.5.4): chunks
// already marked present in bitmap are skipped; the remaining NeedsUpload
// set is drained by picking uniformly at random each iteration, reducing
// contention among duplicate concurrent uploads of the same content.
func (m *Machine) uploadChunks(token string, bitmap Bitmap) bool {
	ranges := filehash.Ranges(m.req.Size)
	states := make([]ChunkState, len(ranges))
	remaining := 0
	for i := range states {
		if bitmap.Has(i) {
			states[i] = Uploaded
		} else {
			states[i] = NeedsUpload
			remaining++
		}
	}
	total := len(ranges)

	f, err := os.Open(m.req.LocalPath)
	if err != nil {
		m.fail(mferrors.CodeReadFailure, err.Error())
		return false
	}
	defer f.Close()

	for remaining > 0 {
		idx := pickRandomNeedsUpload(states)
		r := ranges[idx]
		buf := make([]byte, r.End-r.Begin)
		if _, err := f.ReadAt(buf, r.Begin); err != nil {
			m.fail(mferrors.CodeReadFailure, err.Error())
			return false
		}
		res, err := m.cfg.API.Resumable(m.req, m.hashResult.WholeFile, token, idx, m.hashResult.Chunks[idx], buf)
		if err != nil {
			m.fail(mferrors.CodeOf(err), err.Error())
			return false
		}
		m.uploadKey = res.UploadKey
		states[idx] = Uploaded
		remaining--
		m.status(Progress{ChunksUploaded: total - remaining, ChunksTotal: total})
	}
	return true
}

func pickRandomNeedsUpload(states []ChunkState) int {
	candidates := make([]int, 0, len(states))
	for i, s := range states {
		if s == NeedsUpload {
			candidates = append(candidates, i)
		}
	}
	return candidates[rand.Intn(len(candidates))]
}

// poll implements the PollUpload state (spec §4.5.5): poll every second
// until status==99 (success) or a fatal result/fileerror arrives.
func (m *Machine) poll(token string) {
	_ = token // the poll endpoint is authorized by the manager's session, not a per-call token
	for {
		res, err := m.cfg.API.Poll(m.uploadKey)
		if err != nil {
			m.fail(mferrors.CodeOf(err), err.Error())
			return
		}
		if res.Result < 0 || res.FileError != 0 {
			m.fail(mferrors.CodeUploadResponseError, fmt.Sprintf("result=%d fileerror=%d", res.Result, res.FileError))
			return
		}
		if res.Status == 99 {
			m.succeed(res.Quickkey)
			return
		}
		select {
		case <-time.After(time.Second):
		case ev := <-m.events:
			if ev.kind == evError {
				m.fail(ev.code, ev.text)
				return
			}
		}
	}
}

// waitFor blocks until an event of kind arrives, handling an evError
// event (Cancel/Pause) by failing the machine immediately. Unrelated
// events (e.g. a stray StartHash while awaiting StartUpload) are
// discarded.
func (m *Machine) waitFor(kind machineEventKind) (machineEvent, bool) {
	for ev := range m.events {
		if ev.kind == evError {
			m.fail(ev.code, ev.text)
			return machineEvent{}, false
		}
		if ev.kind == kind {
			return ev, true
		}
	}
	return machineEvent{}, false
}

func (m *Machine) fail(code mferrors.Code, description string) {
	m.setState(StateCompleteWithError)
	m.emit(Failure{Code: code, Description: description})
}

func (m *Machine) succeed(quickkey string) {
	m.setState(StateCompleteWithSuccess)
	m.emit(Success{Quickkey: quickkey, Filename: m.req.Filename})
}

func (m *Machine) emit(s Status) {
	m.terminalMu.Lock()
	defer m.terminalMu.Unlock()
	if m.terminal {
		return
	}
	m.terminal = true
	m.status(s)
}

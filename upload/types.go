// Package upload implements the SDK's per-upload state machine (C5) and
// upload manager (C6): hashing, the check/instant/simple/resumable wire
// calls, chunk selection, polling, and bounded-concurrency admission
// across many concurrent uploads.
package upload

import (
	"sync/atomic"

	"github.com/mediafire/mediafire-go/mferrors"
	"github.com/mediafire/mediafire-go/filehash"
)

// Handle is an opaque, process-wide monotonic identifier for one upload
// machine, minted by the Manager on Add.
type Handle uint64

var handleCounter uint64

func nextHandle() Handle {
	return Handle(atomic.AddUint64(&handleCounter, 1))
}

// OnDuplicate controls how the server resolves a filename collision in
// the target folder (spec §4.5.3).
type OnDuplicate int

const (
	Keep OnDuplicate = iota
	Replace
	AutoRename
)

// Target is the upload destination: exactly one of FolderKey or Path
// should be set (spec §6's "target_parent_folderkey xor path").
type Target struct {
	FolderKey string
	Path      string
}

// Request describes one file to upload (spec Data model §3).
type Request struct {
	LocalPath   string
	Filename    string // defaults to filepath.Base(LocalPath) if empty
	Target      Target
	OnDuplicate OnDuplicate

	// Hash, if non-nil, skips SetupHasher/Hashing: the caller already
	// knows the file's digest and size (spec §4.5.1, "hash supplied").
	Hash *filehash.Result
	Size int64
}

// ChunkState is a chunk's upload status within one machine (spec
// Testable property 12).
type ChunkState int

const (
	NeedsUpload ChunkState = iota
	Uploaded
)

// Status is the tagged union of upload status events mirroring the
// download orchestrator's Progress/Failure/Success shape.
type Status interface {
	isUploadStatus()
}

// Progress reports a chunk (or the simple-upload whole file) finishing.
type Progress struct {
	ChunksUploaded int
	ChunksTotal    int
}

// Failure is the terminal failure status.
type Failure struct {
	Code        mferrors.Code
	Description string
}

// Success is the terminal success status, carrying the server-assigned
// quickkey.
type Success struct {
	Quickkey string
	Filename string
}

func (Progress) isUploadStatus() {}
func (Failure) isUploadStatus()  {}
func (Success) isUploadStatus()  {}

// StatusFunc receives upload status events; like download.StatusFunc, it
// is replaced with a no-op after the terminal event.
type StatusFunc func(Status)

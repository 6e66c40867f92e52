package download

import "github.com/mediafire/mediafire-go/mferrors"

// Disposition reports where the downloaded bytes ended up, carried on a
// terminal Success status.
type Disposition int

const (
	OnDisk Disposition = iota
	InMemory
	NoTargetDisposition
)

// Status is the tagged union of download status events (spec §4.3.3):
// zero or more Progress, then exactly one of Failure or Success.
type Status interface {
	isStatus()
}

// Progress reports the end offset after each received chunk.
type Progress struct {
	BytesRead int64
}

// Failure is the terminal failure status.
type Failure struct {
	Code        mferrors.Code
	Description string
}

// Success is the terminal success status.
type Success struct {
	Disposition Disposition
	// Path is set when Disposition is OnDisk.
	Path string
	// Memory is set when Disposition is InMemory.
	Memory []byte
}

func (Progress) isStatus() {}
func (Failure) isStatus()  {}
func (Success) isStatus()  {}

// StatusFunc receives download status events. After a terminal event
// (Failure or Success) it is replaced by a no-op so late events from
// in-flight I/O cannot re-enter user code (spec §4.3.3).
type StatusFunc func(Status)

package download

import (
	"bytes"
	"io"
	"os"

	"github.com/mediafire/mediafire-go/mferrors"
)

// acceptor is where accepted body bytes ultimately land: a file, memory,
// or nowhere (NoTarget). It tracks total bytes written for Progress
// reporting and OnDisk/InMemory Success reporting.
type acceptor interface {
	Write(data []byte) error
	Written() int64
	Finish() Success
	Abort()
}

type fileAcceptor struct {
	path    string
	f       *os.File
	written int64
}

func createFileAcceptor(path string, append bool) (*fileAcceptor, error) {
	flags := os.O_WRONLY | os.O_CREATE
	if append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, mferrors.Wrap(err, mferrors.CodeWriteFailure, "opening "+path)
	}
	fa := &fileAcceptor{path: path, f: f}
	if append {
		info, statErr := f.Stat()
		if statErr == nil {
			fa.written = info.Size()
		}
	}
	return fa, nil
}

func (a *fileAcceptor) Write(data []byte) error {
	n, err := a.f.Write(data)
	a.written += int64(n)
	if err != nil {
		return mferrors.Wrap(err, mferrors.CodeIncompleteWrite, a.path)
	}
	return nil
}

func (a *fileAcceptor) Written() int64 { return a.written }

func (a *fileAcceptor) Finish() Success {
	_ = a.f.Close()
	return Success{Disposition: OnDisk, Path: a.path}
}

func (a *fileAcceptor) Abort() {
	_ = a.f.Close()
	_ = os.Remove(a.path)
}

type memoryAcceptor struct {
	buf     bytes.Buffer
	written int64
}

func (a *memoryAcceptor) Write(data []byte) error {
	n, _ := a.buf.Write(data)
	a.written += int64(n)
	return nil
}

func (a *memoryAcceptor) Written() int64 { return a.written }

func (a *memoryAcceptor) Finish() Success {
	return Success{Disposition: InMemory, Memory: a.buf.Bytes()}
}

func (a *memoryAcceptor) Abort() {}

type discardAcceptor struct {
	written int64
}

func (a *discardAcceptor) Write(data []byte) error {
	a.written += int64(len(data))
	return nil
}

func (a *discardAcceptor) Written() int64 { return a.written }

func (a *discardAcceptor) Finish() Success { return Success{Disposition: NoTargetDisposition} }

func (a *discardAcceptor) Abort() {}

// fanOut writes data to the acceptor and every passive reader, in order.
// A reader returning an error fails the whole download with
// CodeReadFailure (readers only observe; a reader failure means the
// download's result can no longer be trusted, e.g. a hash mismatch
// detector).
func fanOut(acc acceptor, readers []io.Writer, data []byte) error {
	if err := acc.Write(data); err != nil {
		return err
	}
	for _, r := range readers {
		if _, err := r.Write(data); err != nil {
			return mferrors.Wrap(err, mferrors.CodeReadFailure, "passive reader rejected data")
		}
	}
	return nil
}

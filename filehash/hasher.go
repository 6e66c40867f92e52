package filehash

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"os"
	"time"

	"github.com/mediafire/mediafire-go/mferrors"
	"github.com/mediafire/mediafire-go/mfhttp"
)

// readSize is the fixed read size the hasher uses while walking the file
// (spec §4.4: "reads the file sequentially in ≤8 KiB reads").
const readSize = 8 * 1024

// Digest is a SHA-256 digest, grounded on the stdlib crypto/sha256
// package — no example repo in the pack reaches for a third-party
// hashing library; rclone's own fs/hash wraps the same standard-library
// hash implementations rather than replacing them, so this module does
// the same.
type Digest [sha256.Size]byte

// String renders the digest as lowercase hex.
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// Result is the output of a completed hashing Job: the whole-file digest
// plus one digest per chunk range, in range order.
type Result struct {
	WholeFile Digest
	Chunks    []Digest
}

// Job hashes one file, sequentially, against the chunk-range schedule
// fixed at the file's size when the job was created (spec Data model §3
// "Hash job state").
type Job struct {
	path   string
	size0  int64
	mtime0 time.Time
	ranges []Range
}

// NewJob stats path and fixes the chunk schedule for its current size.
// The returned Job's schedule does not change even if the file is later
// resized; a resize during Run is instead detected and fails the job
// with CodeFileModified.
func NewJob(path string) (*Job, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, mferrors.Wrap(err, mferrors.CodeReadFailure, "stat "+path)
	}
	return &Job{
		path:   path,
		size0:  info.Size(),
		mtime0: info.ModTime(),
		ranges: Ranges(info.Size()),
	}, nil
}

// Size returns the file size the job's chunk schedule was fixed against.
func (j *Job) Size() int64 { return j.size0 }

// Ranges returns the chunk-range schedule, not to be mutated.
func (j *Job) Ranges() []Range { return j.ranges }

// Run hashes the file on exec (yielding control back to it between reads,
// per spec §4.4/§5 "reads are posted back to the executor between
// iterations"), returning the whole-file digest and per-chunk digests.
func (j *Job) Run(ctx context.Context, exec mfhttp.Executor) (*Result, error) {
	if exec == nil {
		exec = mfhttp.DefaultExecutor
	}
	f, err := os.Open(j.path)
	if err != nil {
		return nil, mferrors.Wrap(err, mferrors.CodeReadFailure, "opening "+j.path)
	}
	defer f.Close()

	whole := sha256.New()
	var chunks []Digest
	var chunkHasher hash.Hash
	var chunkIdx int
	var pos int64

	if len(j.ranges) > 0 {
		chunkHasher = sha256.New()
	}

	buf := make([]byte, readSize)
	for {
		if err := j.checkUnchanged(); err != nil {
			return nil, err
		}
		n, rerr, eof := stepRead(ctx, exec, f, buf)
		if n > 0 {
			data := buf[:n]
			whole.Write(data)
			if err := j.feedChunks(data, pos, &chunkIdx, &chunkHasher, &chunks); err != nil {
				return nil, err
			}
			pos += int64(n)
		}
		if rerr != nil {
			return nil, mferrors.Wrap(rerr, mferrors.CodeReadFailure, "reading "+j.path)
		}
		if eof {
			break
		}
	}

	if chunkHasher != nil {
		var sum Digest
		copy(sum[:], chunkHasher.Sum(nil))
		chunks = append(chunks, sum)
	}

	if err := j.checkUnchanged(); err != nil {
		return nil, err
	}

	var wholeSum Digest
	copy(wholeSum[:], whole.Sum(nil))
	return &Result{WholeFile: wholeSum, Chunks: chunks}, nil
}

// feedChunks routes data (covering file offsets [offset, offset+len(data)))
// into the current and, as boundaries are crossed, subsequent chunk
// hashers, finalizing each completed chunk's digest in order.
func (j *Job) feedChunks(data []byte, offset int64, chunkIdx *int, chunkHasher *hash.Hash, chunks *[]Digest) error {
	for len(data) > 0 {
		if *chunkIdx >= len(j.ranges) {
			return mferrors.New(mferrors.CodeReadFailure, "file grew past its fixed chunk schedule")
		}
		r := j.ranges[*chunkIdx]
		remaining := r.End - offset
		if remaining <= 0 {
			return mferrors.New(mferrors.CodeReadFailure, "chunk schedule desynchronized")
		}
		take := int64(len(data))
		if take > remaining {
			take = remaining
		}
		(*chunkHasher).Write(data[:take])
		offset += take
		data = data[take:]

		if offset == r.End {
			var sum Digest
			copy(sum[:], (*chunkHasher).Sum(nil))
			*chunks = append(*chunks, sum)
			*chunkIdx++
			if *chunkIdx < len(j.ranges) {
				*chunkHasher = sha256.New()
			}
		}
	}
	return nil
}

func (j *Job) checkUnchanged() error {
	info, err := os.Stat(j.path)
	if err != nil {
		return mferrors.Wrap(err, mferrors.CodeFileModified, "restat "+j.path)
	}
	if info.Size() != j.size0 || !info.ModTime().Equal(j.mtime0) {
		return mferrors.New(mferrors.CodeFileModified, j.path)
	}
	return nil
}

// stepRead performs one bounded read on exec, yielding control back to
// the executor between hashing iterations (spec §4.4/§5: "reads are
// posted back to the executor between iterations so hashing does not
// monopolize the thread"). eof is true once the file is exhausted; err is
// non-nil only for a genuine read failure.
func stepRead(ctx context.Context, exec mfhttp.Executor, f *os.File, buf []byte) (n int, err error, eof bool) {
	type out struct {
		n   int
		err error
	}
	done := make(chan out, 1)
	exec.Go(func() {
		n, err := f.Read(buf)
		done <- out{n, err}
	})
	select {
	case o := <-done:
		if o.err != nil {
			if errors.Is(o.err, io.EOF) {
				return o.n, nil, true
			}
			return o.n, o.err, false
		}
		return o.n, nil, false
	case <-ctx.Done():
		return 0, ctx.Err(), false
	}
}

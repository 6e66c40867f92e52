// Package download implements the SDK's download orchestrator (spec
// C3): it decides between a plain, resumed, or no-target download,
// drives an mfhttp.Engine to do the network work, and fans every
// received byte out to the chosen acceptor plus any configured passive
// readers before reporting a single terminal Success or Failure.
package download

import "github.com/mediafire/mediafire-go/mfurl"

// OnExists controls WriteToPath's behavior when the destination already
// exists (spec Data model §3).
type OnExists int

const (
	RewriteIfExisting OnExists = iota
	FailIfExisting
)

// FilenameChooser maps a parsed Content-Disposition filename (possibly
// empty) and the request URL to a destination path, for
// WriteToPathFromHeader. The response headers are not passed to it.
type FilenameChooser func(filename string, url *mfurl.URL) (string, error)

// Target is the tagged union of download destinations (spec Data model
// §3). Exactly one of the concrete types below satisfies it.
type Target interface {
	isTarget()
}

// ContinueToPath resumes (or starts) a download at path, probing the
// remote size/range support first.
type ContinueToPath struct {
	Path string
	// ExpectedSize, if >= 0, must match the probed remote size or the
	// download fails with ResumedDownloadChangedRemotely.
	ExpectedSize int64
}

// WriteToPath always starts a fresh full download to Path.
type WriteToPath struct {
	Path     string
	OnExists OnExists
}

// WriteToPathFromHeader defers choosing the destination path until the
// response's Content-Disposition header has been parsed.
type WriteToPathFromHeader struct {
	Chooser FilenameChooser
}

// WriteToMemory accumulates the body into a growable in-memory buffer.
type WriteToMemory struct{}

// NoTarget discards body bytes; useful paired with passive Readers that
// only want to observe (e.g. a hash check without persisting the file).
type NoTarget struct{}

func (ContinueToPath) isTarget()       {}
func (WriteToPath) isTarget()          {}
func (WriteToPathFromHeader) isTarget() {}
func (WriteToMemory) isTarget()        {}
func (NoTarget) isTarget()             {}

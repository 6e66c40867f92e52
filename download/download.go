package download

import (
	"io"
	"os"
	"sync"

	"github.com/mediafire/mediafire-go/mferrors"
	"github.com/mediafire/mediafire-go/mfhttp"
	"github.com/mediafire/mediafire-go/mfurl"
)

// Config is the configuration for one download (spec Data model §3
// "Download config"): shared HTTP config, the destination Target, and an
// ordered list of passive readers that see every accepted byte.
type Config struct {
	HTTP    *mfhttp.Config
	Target  Target
	Readers []io.Writer
}

// Download drives one file transfer from url to Config.Target, reporting
// progress and a terminal result via status.
type Download struct {
	cfg    *Config
	url    *mfurl.URL
	status StatusFunc

	mu       sync.Mutex
	terminal bool
}

// New builds a Download. Call Start to begin.
func New(cfg *Config, url *mfurl.URL, status StatusFunc) *Download {
	if status == nil {
		status = func(Status) {}
	}
	return &Download{cfg: cfg, url: url, status: status}
}

// Start runs the download on the configured HTTP work executor (spec
// §4.3 responsibilities: decide full/resume/no-target, own an acceptor,
// stream to readers).
func (d *Download) Start() {
	exec := mfhttp.DefaultExecutor
	if d.cfg.HTTP != nil && d.cfg.HTTP.WorkExecutor != nil {
		exec = d.cfg.HTTP.WorkExecutor
	}
	exec.Go(d.run)
}

func (d *Download) emit(s Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.terminal {
		return
	}
	if _, ok := s.(Progress); !ok {
		d.terminal = true
	}
	d.status(s)
}

func (d *Download) fail(code mferrors.Code, description string) {
	d.emit(Failure{Code: code, Description: description})
}

func (d *Download) run() {
	switch t := d.cfg.Target.(type) {
	case ContinueToPath:
		d.runContinueToPath(t)
	case WriteToPath:
		d.runWriteToPath(t)
	case WriteToPathFromHeader:
		d.runWriteToPathFromHeader(t)
	case WriteToMemory:
		d.runFullDownload(&memoryAcceptor{}, 0, "")
	case NoTarget:
		d.runFullDownload(&discardAcceptor{}, 0, "")
	default:
		d.fail(mferrors.CodeLogicError, "unrecognized download target")
	}
}

// runFullDownload issues a GET (optionally ranged, when rangeHeader is
// non-empty and resuming from resumeOffset) and streams the body into
// acc and the configured readers, emitting Progress as it goes.
func (d *Download) runFullDownload(acc acceptor, resumeOffset int64, rangeHeader string) {
	pos := resumeOffset
	_, err := runRequest(d.cfg.HTTP, d.url, rangeHeader, nil, func(startPos int64, buf *mfhttp.SharedBuffer) error {
		if err := fanOut(acc, d.cfg.Readers, buf.Bytes()); err != nil {
			acc.Abort()
			return err
		}
		pos += int64(buf.Len())
		d.emit(Progress{BytesRead: pos})
		return nil
	})
	if err != nil {
		acc.Abort()
		d.fail(mferrors.CodeOf(err), err.Error())
		return
	}
	d.emit(acc.Finish())
}

func (d *Download) runWriteToPath(t WriteToPath) {
	if t.OnExists == FailIfExisting {
		if _, err := os.Stat(t.Path); err == nil {
			d.fail(mferrors.CodeOverwriteDenied, t.Path)
			return
		}
	}
	acc, err := createFileAcceptor(t.Path, false)
	if err != nil {
		d.fail(mferrors.CodeOf(err), err.Error())
		return
	}
	d.runFullDownload(acc, 0, "")
}

func (d *Download) runWriteToPathFromHeader(t WriteToPathFromHeader) {
	var acc *fileAcceptor
	var pos int64
	_, err := runRequest(d.cfg.HTTP, d.url, "", func(h *mfhttp.Headers) (bool, error) {
		filename, _ := h.Get("Content-Disposition")
		parsed, _ := parseContentDispositionFilename(filename)
		path, cerr := t.Chooser(parsed, d.url)
		if cerr != nil {
			return false, mferrors.Wrap(cerr, mferrors.CodeNoFilenameInHeader, "choosing destination path")
		}
		a, oerr := createFileAcceptor(path, false)
		if oerr != nil {
			return false, oerr
		}
		acc = a
		return false, nil
	}, func(startPos int64, buf *mfhttp.SharedBuffer) error {
		if acc == nil {
			return mferrors.New(mferrors.CodeNoFilenameInHeader, "content received before destination chosen")
		}
		if err := fanOut(acc, d.cfg.Readers, buf.Bytes()); err != nil {
			acc.Abort()
			return err
		}
		pos += int64(buf.Len())
		d.emit(Progress{BytesRead: pos})
		return nil
	})
	if err != nil {
		if acc != nil {
			acc.Abort()
		}
		d.fail(mferrors.CodeOf(err), err.Error())
		return
	}
	d.emit(acc.Finish())
}

// runContinueToPath implements spec §4.3.2's ContinueToPath protocol: a
// range probe to learn the remote size and resumability, then either a
// fresh full download or a resumed range download, rehashing any
// existing local bytes through the configured readers first so resumed
// hashing stays correct.
func (d *Download) runContinueToPath(t ContinueToPath) {
	var remoteSize int64 = -1
	var acceptRanges string
	var probeStatus int

	headers, err := runRequest(d.cfg.HTTP, d.url, "bytes=0-", func(h *mfhttp.Headers) (bool, error) {
		probeStatus = h.StatusCode
		if n, present, cerr := h.ContentLength(); cerr == nil && present {
			remoteSize = n
		}
		acceptRanges, _ = h.Get("Accept-Ranges")
		return true, nil // header-only probe; never read the probe's body
	}, nil)
	if err != nil {
		d.fail(mferrors.CodeOf(err), err.Error())
		return
	}
	_ = headers

	if probeStatus != 200 && probeStatus != 206 {
		d.fail(mferrors.CodeBadHttpStatus, "probe returned unexpected status")
		return
	}
	if acceptRanges == "none" {
		d.fail(mferrors.CodeDownloadResumeUnsupported, "server advertised Accept-Ranges: none")
		return
	}
	if t.ExpectedSize >= 0 && remoteSize >= 0 && t.ExpectedSize != remoteSize {
		d.fail(mferrors.CodeResumedDownloadChangedRemotely, d.url.String())
		return
	}

	info, statErr := os.Stat(t.Path)
	if statErr != nil {
		// no local file yet: plain full download.
		acc, cerr := createFileAcceptor(t.Path, false)
		if cerr != nil {
			d.fail(mferrors.CodeOf(cerr), cerr.Error())
			return
		}
		d.runFullDownload(acc, 0, "")
		return
	}

	localSize := info.Size()
	if len(d.cfg.Readers) > 0 {
		seen, rerr := d.rehashExisting(t.Path)
		if rerr != nil {
			d.fail(mferrors.CodeOf(rerr), rerr.Error())
			return
		}
		if seen != localSize {
			d.fail(mferrors.CodeResumedDownloadChangedLocally, t.Path)
			return
		}
	}

	if remoteSize >= 0 {
		if localSize > remoteSize {
			d.fail(mferrors.CodeResumedDownloadTooLarge, t.Path)
			return
		}
		if localSize == remoteSize {
			d.fail(mferrors.CodeResumedDownloadAlreadyDownloaded, t.Path)
			return
		}
	}

	acc, aerr := createFileAcceptor(t.Path, true)
	if aerr != nil {
		d.fail(mferrors.CodeOf(aerr), aerr.Error())
		return
	}
	d.runFullDownload(acc, localSize, rangeHeaderFrom(localSize, remoteSize))
}

// rangeHeaderFrom implements spec §4.3.2's resume range: a closed
// "bytes=L-T" naming both the local offset and the remote size, falling
// back to the open form only when the probe never learned a remote size.
func rangeHeaderFrom(offset, remoteSize int64) string {
	if offset <= 0 {
		return ""
	}
	if remoteSize < 0 {
		return "bytes=" + itoa(offset) + "-"
	}
	return "bytes=" + itoa(offset) + "-" + itoa(remoteSize)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// rehashExisting re-reads path end-to-end, feeding every configured
// reader, so that a resumed hash (or other passive reader) stays correct
// across the restart (spec §4.3.2). It returns the number of bytes seen.
func (d *Download) rehashExisting(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, mferrors.Wrap(err, mferrors.CodeReadFailure, "reopening "+path)
	}
	defer f.Close()

	var seen int64
	buf := make([]byte, 64*1024)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			for _, r := range d.cfg.Readers {
				if _, werr := r.Write(buf[:n]); werr != nil {
					return seen, mferrors.Wrap(werr, mferrors.CodeReadFailure, "rehashing "+path)
				}
			}
			seen += int64(n)
		}
		if rerr == io.EOF {
			return seen, nil
		}
		if rerr != nil {
			return seen, mferrors.Wrap(rerr, mferrors.CodeReadFailure, "rehashing "+path)
		}
	}
}

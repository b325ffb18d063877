package ptex

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// InputHandle is an opaque token an InputHandler hands back from Open and
// expects on every subsequent call for that file. The default
// implementation below uses *os.File directly; a caller supplying a
// custom InputHandler (spec.md section 6 — "pluggable I/O") may return
// anything comparable.
type InputHandle interface{}

// InputHandler is the pluggable I/O seam a Reader/Cache is built against,
// so that embedders can redirect ptex file access through a VFS, archive,
// or network layer instead of the local filesystem.
type InputHandler interface {
	Open(path string) (InputHandle, error)
	Seek(h InputHandle, pos int64) error
	Read(h InputHandle, buf []byte) (int, error)
	Close(h InputHandle) error
	// LastError returns the most recent error this handler observed, for
	// callers that want a diagnostic string beyond what Open/Read/Seek
	// returned inline (matching the original's getError()).
	LastError() error
}

// defaultInputHandler is the InputHandler used when none is supplied: a
// thin wrapper over *os.File.
type defaultInputHandler struct {
	mu      sync.Mutex
	lastErr error
}

// NewDefaultInputHandler returns the filesystem-backed InputHandler used
// by Cache/Reader when the caller does not supply their own.
func NewDefaultInputHandler() InputHandler { return &defaultInputHandler{} }

func (d *defaultInputHandler) record(err error) error {
	if err != nil {
		d.mu.Lock()
		d.lastErr = err
		d.mu.Unlock()
	}
	return err
}

func (d *defaultInputHandler) Open(path string) (InputHandle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, d.record(errors.Wrapf(err, "open %s", path))
	}
	return f, nil
}

func (d *defaultInputHandler) Seek(h InputHandle, pos int64) error {
	f := h.(*os.File)
	_, err := f.Seek(pos, io.SeekStart)
	return d.record(errors.Wrap(err, "seek"))
}

func (d *defaultInputHandler) Read(h InputHandle, buf []byte) (int, error) {
	f := h.(*os.File)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return n, d.record(errors.Wrap(err, "read"))
	}
	return n, nil
}

func (d *defaultInputHandler) Close(h InputHandle) error {
	f := h.(*os.File)
	return d.record(errors.Wrap(f.Close(), "close"))
}

func (d *defaultInputHandler) LastError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

package ptex

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an Error so that callers can branch on error category
// without string matching, per the error model in spec.md section 7.
type Kind int

const (
	// KindUnknown is the zero value; never returned by this package.
	KindUnknown Kind = iota
	// KindFileNotFound means the path could not be opened on any search-path entry.
	KindFileNotFound
	// KindBadMagic means the header magic bytes did not match "Ptex".
	KindBadMagic
	// KindUnsupportedVersion means the header version field was not CurrentVersion.
	KindUnsupportedVersion
	// KindEndianness means the host is big-endian, which this format does not support.
	KindEndianness
	// KindTruncatedOrCorrupt means a short read, inflate failure, or invalid block size was seen.
	KindTruncatedOrCorrupt
	// KindOutOfRange means a faceid, channel id, or res was outside valid bounds.
	KindOutOfRange
	// KindHeaderMismatch means reopen() after a cache close found a changed header.
	KindHeaderMismatch
	// KindWriterLockFailed means the writer could not acquire its lock file.
	KindWriterLockFailed
	// KindWriterIO means a write-side I/O failure occurred.
	KindWriterIO
)

func (k Kind) String() string {
	switch k {
	case KindFileNotFound:
		return "file not found"
	case KindBadMagic:
		return "bad magic"
	case KindUnsupportedVersion:
		return "unsupported version"
	case KindEndianness:
		return "unsupported host endianness"
	case KindTruncatedOrCorrupt:
		return "truncated or corrupt file"
	case KindOutOfRange:
		return "value out of range"
	case KindHeaderMismatch:
		return "header mismatch on reopen"
	case KindWriterLockFailed:
		return "could not acquire writer lock"
	case KindWriterIO:
		return "writer I/O failure"
	default:
		return "unknown error"
	}
}

// Error is the error type returned at API boundaries (Texture.Open,
// Cache.Get, getData/getPixel failures, Writer.Close, ...). It carries a
// Kind for programmatic dispatch and wraps the underlying cause.
type Error struct {
	Kind Kind
	Path string
	msg  string
	err  error
}

func newError(kind Kind, path, msg string) *Error {
	return &Error{Kind: kind, Path: path, msg: msg}
}

func wrapError(kind Kind, path string, err error, msg string) *Error {
	return &Error{Kind: kind, Path: path, msg: msg, err: err}
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("ptex: %s: %s: %s", e.Path, e.Kind, e.msg)
	}
	return fmt.Sprintf("ptex: %s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// Cause satisfies github.com/pkg/errors' Causer interface so that
// errors.Cause(err) reaches the root I/O or zlib error.
func (e *Error) Cause() error {
	if e.err == nil {
		return e
	}
	return errors.Cause(e.err)
}

// IsKind reports whether err is a *ptex.Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

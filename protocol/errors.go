package protocol

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// Errno is an error code as carried in the error fields of wire messages.
// Values follow the Linux errno numbering so both peers agree on meaning.
type Errno uint32

// Wire error codes.
const (
	EOK             Errno = 0
	EPERM           Errno = 1
	ENOENT          Errno = 2
	EIO             Errno = 5
	ENOMEM          Errno = 12
	EBUSY           Errno = 16
	EEXIST          Errno = 17
	EINVAL          Errno = 22
	EPROTO          Errno = 71
	EBADMSG         Errno = 74
	EMSGSIZE        Errno = 90
	EPROTONOSUPPORT Errno = 93
	EOPNOTSUPP      Errno = 95
	ENOTCONN        Errno = 107
	ESHUTDOWN       Errno = 108
	ETIMEDOUT       Errno = 110
	EALREADY        Errno = 114
)

var errnoNames = map[Errno][2]string{
	EOK:             {"EOK", "success"},
	EPERM:           {"EPERM", "operation not permitted"},
	ENOENT:          {"ENOENT", "no such entry"},
	EIO:             {"EIO", "input/output error"},
	ENOMEM:          {"ENOMEM", "out of memory"},
	EBUSY:           {"EBUSY", "resource busy"},
	EEXIST:          {"EEXIST", "already exists"},
	EINVAL:          {"EINVAL", "invalid argument"},
	EPROTO:          {"EPROTO", "protocol error"},
	EBADMSG:         {"EBADMSG", "bad message"},
	EMSGSIZE:        {"EMSGSIZE", "message size out of range"},
	EPROTONOSUPPORT: {"EPROTONOSUPPORT", "protocol not supported"},
	EOPNOTSUPP:      {"EOPNOTSUPP", "operation not supported"},
	ENOTCONN:        {"ENOTCONN", "not connected"},
	ESHUTDOWN:       {"ESHUTDOWN", "connection shut down"},
	ETIMEDOUT:       {"ETIMEDOUT", "timed out"},
	EALREADY:        {"EALREADY", "operation already in progress"},
}

func (e Errno) Error() string {
	if n, ok := errnoNames[e]; ok {
		return fmt.Sprintf("%s(%d): %s", n[0], uint32(e), n[1])
	}
	return fmt.Sprintf("ERRNO(%d): unknown", uint32(e))
}

// Sentinel errors returned by the engines. Each maps to a wire Errno.
var (
	ErrMessageSize      = errors.New("message size out of range")
	ErrShortMessage     = errors.New("message truncated")
	ErrBadCRC           = errors.New("message integrity check failed")
	ErrUnexpectedOpcode = errors.New("unexpected opcode")
	ErrNotSupported     = errors.New("not supported")
	ErrNotConnected     = errors.New("not connected")
	ErrConnectionClosed = errors.New("connection closed")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrBusy             = errors.New("operation already in progress")
	ErrCloseViolation   = errors.New("close acknowledged before it was requested")
	ErrOutOfMemory      = errors.New("out of memory")
)

var sentinelErrnos = []struct {
	err   error
	errno Errno
}{
	{ErrMessageSize, EMSGSIZE},
	{ErrShortMessage, EBADMSG},
	{ErrBadCRC, EIO},
	{ErrUnexpectedOpcode, EPROTO},
	{ErrNotSupported, EPROTONOSUPPORT},
	{ErrNotConnected, ENOTCONN},
	{ErrConnectionClosed, ESHUTDOWN},
	{ErrInvalidArgument, EINVAL},
	{ErrBusy, EBUSY},
	{ErrCloseViolation, EPROTO},
	{ErrOutOfMemory, ENOMEM},
}

// ErrnoOf maps err to the wire error code that describes it. Errors that
// carry no known code map to EIO.
func ErrnoOf(err error) Errno {
	if err == nil {
		return EOK
	}
	var errno Errno
	if errors.As(err, &errno) {
		return errno
	}
	for _, s := range sentinelErrnos {
		if errors.Is(err, s.err) {
			return s.errno
		}
	}
	return EIO
}

// Code returns the negative error code for err, 0 for nil.
// Codes that do not fit an int32 report EIO.
func Code(err error) int32 {
	errno := ErrnoOf(err)
	if errno > math.MaxInt32 {
		errno = EIO
	}
	return -int32(errno)
}

// ProtocolError is an error that signifies a violation of the wire protocol
// by the peer. Fatal violations force the connection into its error state.
type ProtocolError struct {
	Fatal bool
	Cause error
}

func (e *ProtocolError) Error() string {
	return e.Cause.Error()
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

func protocolError(fatal bool, cause error, message string) error {
	return &ProtocolError{Fatal: fatal, Cause: errors.Wrap(cause, message)}
}

func protocolErrorf(fatal bool, cause error, format string, args ...interface{}) error {
	return &ProtocolError{Fatal: fatal, Cause: errors.Wrapf(cause, format, args...)}
}

// IsFatal reports whether err is a protocol violation that must tear the
// connection down.
func IsFatal(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe) && pe.Fatal
}

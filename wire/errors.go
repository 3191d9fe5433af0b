package wire

import "fmt"

// ErrorCode is the wire representation of a failure, translated to an
// errno at the filesystem boundary (see fusefs) and to a Go error
// everywhere else.
type ErrorCode uint16

// Error codes, grouped as in spec.md section 6/7.
const (
	ErrOk             ErrorCode = 0
	ErrUnknown        ErrorCode = 1
	ErrProtocolError  ErrorCode = 2
	ErrNotImplemented ErrorCode = 3
	ErrTimeout        ErrorCode = 4

	ErrFileNotFound     ErrorCode = 100
	ErrNotADirectory    ErrorCode = 101
	ErrNotAFile         ErrorCode = 102
	ErrPermissionDenied ErrorCode = 103
	ErrPathTraversal    ErrorCode = 104
	ErrNameTooLong      ErrorCode = 105
	ErrAlreadyExists    ErrorCode = 106
	ErrNotEmpty         ErrorCode = 107

	ErrIoError          ErrorCode = 200
	ErrChecksumMismatch ErrorCode = 201
	ErrChunkOutOfRange  ErrorCode = 202

	ErrLockNotHeld  ErrorCode = 300
	ErrLockExpired  ErrorCode = 301
	ErrLockConflict ErrorCode = 302

	ErrSessionExpired   ErrorCode = 400
	ErrRateLimited      ErrorCode = 401
	ErrHostShuttingDown ErrorCode = 402
	ErrAuthFailed       ErrorCode = 403
)

var codeNames = map[ErrorCode]string{
	ErrOk:               "Ok",
	ErrUnknown:          "Unknown",
	ErrProtocolError:    "ProtocolError",
	ErrNotImplemented:   "NotImplemented",
	ErrTimeout:          "Timeout",
	ErrFileNotFound:     "FileNotFound",
	ErrNotADirectory:    "NotADirectory",
	ErrNotAFile:         "NotAFile",
	ErrPermissionDenied: "PermissionDenied",
	ErrPathTraversal:    "PathTraversal",
	ErrNameTooLong:      "NameTooLong",
	ErrAlreadyExists:    "AlreadyExists",
	ErrNotEmpty:         "NotEmpty",
	ErrIoError:          "IoError",
	ErrChecksumMismatch: "ChecksumMismatch",
	ErrChunkOutOfRange:  "ChunkOutOfRange",
	ErrLockNotHeld:      "LockNotHeld",
	ErrLockExpired:      "LockExpired",
	ErrLockConflict:     "LockConflict",
	ErrSessionExpired:   "SessionExpired",
	ErrRateLimited:      "RateLimited",
	ErrHostShuttingDown: "HostShuttingDown",
	ErrAuthFailed:       "AuthFailed",
}

func (c ErrorCode) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("ErrorCode(%d)", uint16(c))
}

// ProtoError wraps an ErrorCode as a Go error, optionally naming the
// related inode and a human-readable message.
type ProtoError struct {
	Code         ErrorCode
	Message      string
	RelatedInode Inode
	HasInode     bool
}

func (e *ProtoError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code.String()
}

// NewError builds a ProtoError for code with an optional formatted message.
func NewError(code ErrorCode, format string, args ...interface{}) *ProtoError {
	return &ProtoError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf unwraps err to its ErrorCode, defaulting to ErrUnknown for
// errors that didn't originate on the wire.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrOk
	}
	if pe, ok := err.(*ProtoError); ok {
		return pe.Code
	}
	return ErrUnknown
}

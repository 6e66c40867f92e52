// Package mferrors defines the error categories shared across the SDK's
// core components and a small Error type that carries one of them.
package mferrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is one of the error categories from the SDK's error handling design.
type Code int

// Error categories. Grouped to match the propagation-policy sections they
// belong to; values are not wire-stable and must not be serialized.
const (
	CodeUnknown Code = iota

	// Configuration
	CodeInvalidURL
	CodeUnsupportedScheme
	CodeUnsupportedEncoding

	// Network
	CodeUnableToResolve
	CodeUnableToConnect
	CodeUnableToConnectToProxy
	CodeSslHandshakeFailure
	CodeIoTimeout

	// Protocol
	CodeUnparsableHeaders
	CodeProxyProtocolFailure
	CodeBadHttpStatus
	CodeInvalidRedirectUrl
	CodeRedirectPermissionDenied
	CodeCompressionFailure
	CodeReadFailure
	CodeWriteFailure
	CodePostInterfaceReadFailure

	// Download
	CodeDownloadResumeUnsupported
	CodeResumedDownloadChangedRemotely
	CodeResumedDownloadChangedLocally
	CodeResumedDownloadTooLarge
	CodeResumedDownloadAlreadyDownloaded
	CodeOverwriteDenied
	CodeIncompleteWrite
	CodeNoFilenameInHeader

	// Upload
	CodeZeroByteFile
	CodeFileExistInFolder
	CodeInsufficientCloudStorage
	CodeFileModified
	CodeUploadResponseError // opaque numeric server result, see Error.Detail

	// Lifecycle
	CodeCancelled
	CodePaused
	CodeLogicError
)

var codeNames = map[Code]string{
	CodeUnknown:                          "Unknown",
	CodeInvalidURL:                       "InvalidUrl",
	CodeUnsupportedScheme:                "UnsupportedScheme",
	CodeUnsupportedEncoding:              "UnsupportedEncoding",
	CodeUnableToResolve:                  "UnableToResolve",
	CodeUnableToConnect:                  "UnableToConnect",
	CodeUnableToConnectToProxy:           "UnableToConnectToProxy",
	CodeSslHandshakeFailure:              "SslHandshakeFailure",
	CodeIoTimeout:                        "IoTimeout",
	CodeUnparsableHeaders:                "UnparsableHeaders",
	CodeProxyProtocolFailure:             "ProxyProtocolFailure",
	CodeBadHttpStatus:                    "BadHttpStatus",
	CodeInvalidRedirectUrl:               "InvalidRedirectUrl",
	CodeRedirectPermissionDenied:         "RedirectPermissionDenied",
	CodeCompressionFailure:               "CompressionFailure",
	CodeReadFailure:                      "ReadFailure",
	CodeWriteFailure:                     "WriteFailure",
	CodePostInterfaceReadFailure:         "PostInterfaceReadFailure",
	CodeDownloadResumeUnsupported:        "DownloadResumeUnsupported",
	CodeResumedDownloadChangedRemotely:   "ResumedDownloadChangedRemotely",
	CodeResumedDownloadChangedLocally:    "ResumedDownloadChangedLocally",
	CodeResumedDownloadTooLarge:          "ResumedDownloadTooLarge",
	CodeResumedDownloadAlreadyDownloaded: "ResumedDownloadAlreadyDownloaded",
	CodeOverwriteDenied:                  "OverwriteDenied",
	CodeIncompleteWrite:                  "IncompleteWrite",
	CodeNoFilenameInHeader:               "NoFilenameInHeader",
	CodeZeroByteFile:                     "ZeroByteFile",
	CodeFileExistInFolder:                "FileExistInFolder",
	CodeInsufficientCloudStorage:         "InsufficientCloudStorage",
	CodeFileModified:                     "FileModified",
	CodeUploadResponseError:              "UploadResponseError",
	CodeCancelled:                        "Cancelled",
	CodePaused:                           "Paused",
	CodeLogicError:                       "LogicError",
}

// String implements fmt.Stringer.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Error is the error type returned by every terminal callback in the SDK.
// It always carries both a category and a human-readable description, per
// the user-visible failure-behavior requirement.
type Error struct {
	code   Code
	detail int64 // opaque numeric server result, only meaningful for CodeUploadResponseError
	msg    string
	cause  error
}

// New builds an Error with the given code and message and no wrapped
// cause; use Wrap to attach one.
func New(code Code, msg string) *Error {
	return &Error{code: code, msg: msg}
}

// Wrap builds an Error that wraps cause, annotating it with code and msg.
func Wrap(cause error, code Code, msg string) *Error {
	return &Error{code: code, msg: msg, cause: errors.WithMessage(cause, msg)}
}

// WithDetail attaches an opaque server-side numeric result code, used for
// CodeUploadResponseError.
func (e *Error) WithDetail(detail int64) *Error {
	e.detail = detail
	return e
}

// Code returns the error category.
func (e *Error) Code() Code { return e.code }

// Detail returns the opaque server-side numeric result, when Code is
// CodeUploadResponseError.
func (e *Error) Detail() int64 { return e.detail }

// Error implements the error interface.
func (e *Error) Error() string {
	if e.msg == "" {
		return e.code.String()
	}
	return fmt.Sprintf("%s: %s", e.code, e.msg)
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	return nil
}

// Is reports whether target is an *Error with the same Code, so that
// errors.Is(err, mferrors.New(CodeCancelled, "")) works as a category test.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.code == e.code
}

// CodeOf extracts the Code from err, or CodeUnknown if err is nil or not an
// *Error (following the chain of wrapped causes).
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return CodeUnknown
}

// Package errs defines the closed error taxonomy shared by the gateway,
// the retry controller and the HTTP boundary.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. The set is closed: every error surfaced to a
// caller carries exactly one of these values.
type Kind int

const (
	KindUnknown Kind = iota

	// Resource domain
	KindInvalidLink
	KindFileNotFound
	KindAccessDenied
	KindQuotaExceeded
	KindNetworkError
	KindDownloadFailed
	KindAPIError

	// Auth domain
	KindAuthCancelled
	KindAuthFailed
	KindSessionExpired
)

// ResourceKinds and AuthKinds enumerate the two domains. Tests iterate
// these to prove the message/suggestion tables are total.
var (
	ResourceKinds = []Kind{
		KindInvalidLink, KindFileNotFound, KindAccessDenied,
		KindQuotaExceeded, KindNetworkError, KindDownloadFailed,
		KindAPIError,
	}
	AuthKinds = []Kind{
		KindAuthCancelled, KindAuthFailed, KindNetworkError,
		KindSessionExpired,
	}
)

// Code returns the wire code exposed at the HTTP boundary.
func (k Kind) Code() string {
	switch k {
	case KindInvalidLink:
		return "INVALID_LINK"
	case KindFileNotFound:
		return "FILE_NOT_FOUND"
	case KindAccessDenied:
		return "ACCESS_DENIED"
	case KindQuotaExceeded:
		return "QUOTA_EXCEEDED"
	case KindNetworkError:
		return "NETWORK_ERROR"
	case KindDownloadFailed:
		return "DOWNLOAD_FAILED"
	case KindAPIError:
		return "API_ERROR"
	case KindAuthCancelled:
		return "AUTH_CANCELLED"
	case KindAuthFailed:
		return "AUTH_FAILED"
	case KindSessionExpired:
		return "SESSION_EXPIRED"
	default:
		return "UNKNOWN"
	}
}

func (k Kind) String() string { return k.Code() }

// Retryable reports whether the kind is eligible for automatic re-attempt
// under the bounded-retry policy. Only transport failures and generic
// stream-level failures retry; everything else is terminal.
func (k Kind) Retryable() bool {
	return k == KindNetworkError || k == KindDownloadFailed
}

// Message returns the user-facing message for the kind. Never empty.
func (k Kind) Message() string {
	if m, ok := messages[k]; ok {
		return m
	}
	return "Something went wrong."
}

// Suggestion returns the actionable suggestion for the kind. Never empty.
func (k Kind) Suggestion() string {
	if s, ok := suggestions[k]; ok {
		return s
	}
	return "Please try again."
}

// PromptLogin reports whether the kind stems from an access-control
// condition where offering a login prompt makes sense.
func (k Kind) PromptLogin() bool {
	return k == KindAccessDenied || k == KindSessionExpired
}

var messages = map[Kind]string{
	KindInvalidLink:    "The link is not a valid Google Drive file or folder URL.",
	KindFileNotFound:   "The file could not be found. It may have been deleted or the link is wrong.",
	KindAccessDenied:   "Access to this file was denied.",
	KindQuotaExceeded:  "The download quota for this file has been exceeded.",
	KindNetworkError:   "A network error interrupted the request.",
	KindDownloadFailed: "The download failed before completing.",
	KindAPIError:       "Google Drive returned an unexpected error.",
	KindAuthCancelled:  "Sign-in was cancelled before completing.",
	KindAuthFailed:     "Sign-in failed while exchanging credentials.",
	KindSessionExpired: "Your session has expired.",
}

var suggestions = map[Kind]string{
	KindInvalidLink:    "Paste a link of the form https://drive.google.com/file/d/<id>/view or .../folders/<id>.",
	KindFileNotFound:   "Check that the link is correct and the file still exists.",
	KindAccessDenied:   "Sign in with an account that can open this file, or ask the owner to share it.",
	KindQuotaExceeded:  "Wait a while and try again, or sign in so the download uses your own quota.",
	KindNetworkError:   "Check your connection and retry.",
	KindDownloadFailed: "Retry the download. If it keeps failing, try again later.",
	KindAPIError:       "Try again later. If the problem persists the upstream service may be down.",
	KindAuthCancelled:  "Start the sign-in again when you are ready.",
	KindAuthFailed:     "Retry signing in.",
	KindSessionExpired: "Sign in again to continue.",
}

// Error is the tagged error type carried across component boundaries.
type Error struct {
	Kind Kind
	// TokenAuth marks an AccessDenied that occurred while presenting a
	// user token (as opposed to the shared credential), so the caller can
	// trigger re-authentication instead of a content-level error.
	TokenAuth bool
	Msg       string
	Err       error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.Message()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.Code(), msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Code(), msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a tagged error with the kind's default message.
func New(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Newf creates a tagged error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error with a kind.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Wrapf tags an underlying error with a kind and a formatted message.
func Wrapf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from an error chain. Unclassified errors
// report KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether the error's kind permits another attempt.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

// IsTokenAuth reports whether the error is an auth failure that occurred
// under a user token.
func IsTokenAuth(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.TokenAuth
}

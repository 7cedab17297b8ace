package hub

import "fmt"

// Error codes surfaced to callers. The HTTP and WebSocket layers map them to
// their transport's status vocabulary.
const (
	CodeInvalidInput     = "INVALID_INPUT"
	CodeNotFound         = "NOT_FOUND"
	CodeForbidden        = "FORBIDDEN"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
)

type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func invalidInput(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func forbidden(format string, args ...any) *Error {
	return &Error{Code: CodeForbidden, Message: fmt.Sprintf(format, args...)}
}

// storeUnavailable hides backend detail from the caller; the submit path logs
// the underlying error before returning this. Safe for the caller to retry.
func storeUnavailable() *Error {
	return &Error{Code: CodeStoreUnavailable, Message: "store unavailable, retry later"}
}

package fetch

import "fmt"

// Kind classifies why a fetch failed. Every kind maps to its own
// human-readable message, which is what ends up in a record's errorMessage.
type Kind string

const (
	KindInvalidURL   Kind = "invalid-url"
	KindLaunch       Kind = "launch"
	KindTimeout      Kind = "timeout"
	KindNavigation   Kind = "navigation"
	KindEmptyContent Kind = "empty-content"
	KindExtraction   Kind = "extraction"
	KindPersist      Kind = "persist"
)

// Error is a classified fetch failure.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// InvalidURLError is returned before a browser is launched for an unusable URL.
func InvalidURLError() *Error {
	return &Error{Kind: KindInvalidURL, Msg: "Invalid or missing URL"}
}

func launchError(err error) *Error {
	return &Error{Kind: KindLaunch, Msg: fmt.Sprintf("Failed to launch browser: %v", err), Err: err}
}

func timeoutError(url string, err error) *Error {
	return &Error{
		Kind: KindTimeout,
		Msg:  fmt.Sprintf("Page load timeout (%ds) for URL: %s", int(NavigationTimeout.Seconds()), url),
		Err:  err,
	}
}

func navigationError(err error) *Error {
	return &Error{Kind: KindNavigation, Msg: fmt.Sprintf("Failed to navigate to URL: %v", err), Err: err}
}

func emptyContentError() *Error {
	return &Error{Kind: KindEmptyContent, Msg: "No content extracted from page"}
}

func extractionError(err error) *Error {
	return &Error{Kind: KindExtraction, Msg: fmt.Sprintf("Failed to extract page content: %v", err), Err: err}
}

// PersistError reports that a successful fetch could not be written to
// its record. The caller records it as the failure instead.
func PersistError(err error) *Error {
	return &Error{Kind: KindPersist, Msg: fmt.Sprintf("Failed to update document with content: %v", err), Err: err}
}

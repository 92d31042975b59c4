package extract

import (
	"fmt"
	"time"
)

// Kind classifies an extraction failure.
type Kind string

const (
	KindEmpty   Kind = "empty"
	KindModel   Kind = "model"
	KindTimeout Kind = "timeout"
	KindDecode  Kind = "decode"
	KindSchema  Kind = "schema"
)

// Error is returned by Requester.Extract. Msg is the text recorded in the
// record's errorMessage.
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

func emptyInputError() *Error {
	return &Error{Kind: KindEmpty, Msg: "No content to parse"}
}

func modelError(err error) *Error {
	return &Error{Kind: KindModel, Msg: fmt.Sprintf("AI extraction failed: %v", err), Err: err}
}

func timeoutError(limit time.Duration, err error) *Error {
	return &Error{Kind: KindTimeout, Msg: fmt.Sprintf("AI extraction timed out after %s", limit), Err: err}
}

func decodeError(err error) *Error {
	return &Error{Kind: KindDecode, Msg: fmt.Sprintf("AI returned malformed JSON: %v", err), Err: err}
}

func schemaError(details string) *Error {
	return &Error{Kind: KindSchema, Msg: "AI output failed schema validation: " + details}
}

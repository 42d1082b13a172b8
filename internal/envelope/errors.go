package envelope

import "fmt"

// Code is an error tag rendered by the paired client.
type Code string

const (
	CodeBadRequest          Code = "badRequest"
	CodeInvalidConversation Code = "invalidConversation"
	CodeInvalidGroup        Code = "invalidGroup"
	CodeInvalidContact      Code = "invalidContact"
	CodeInvalidIdentity     Code = "invalidIdentity"
	CodeInvalidMessage      Code = "invalidMessage"
	CodeDisabledByPolicy    Code = "disabledByPolicy"
	CodeBlocked             Code = "blocked"
	CodeValueTooLong        Code = "valueTooLong"
	CodeNotAllowed          Code = "notAllowed"
	CodeInternalError       Code = "internalError"
	CodeUnknownSubtype      Code = "unknownSubtype"
	CodeUnknownType         Code = "unknownType"
	CodeAlreadyRead         Code = "alreadyRead"
	CodeSendError           Code = "sendError"
	CodeFileTooLarge        Code = "fileTooLarge"
)

// MalformedError reports a frame that could not be decoded into an envelope.
// ID is set when a correlation id could still be recovered.
type MalformedError struct {
	ID     string
	Reason string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed envelope: %s: %v", e.Reason, e.Err)
	}
	return "malformed envelope: " + e.Reason
}

func (e *MalformedError) Unwrap() error { return e.Err }

// FieldError reports a missing or mistyped field in args or data.
type FieldError struct {
	Field   string
	Missing bool
	Want    string
	Err     error
}

func (e *FieldError) Error() string {
	if e.Missing {
		return fmt.Sprintf("field %q missing", e.Field)
	}
	if e.Err != nil {
		return fmt.Sprintf("field %q: want %s: %v", e.Field, e.Want, e.Err)
	}
	return fmt.Sprintf("field %q: want %s", e.Field, e.Want)
}

func (e *FieldError) Unwrap() error { return e.Err }

package library

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed operation.
type ErrorKind string

const (
	NotFound     ErrorKind = "NOT_FOUND"
	Conflict     ErrorKind = "CONFLICT"
	InvalidInput ErrorKind = "INVALID_INPUT"
	Unavailable  ErrorKind = "UNAVAILABLE"
	StoreFailure ErrorKind = "STORE_FAILURE"
)

// Reason names the business rule that rejected an operation.
type Reason string

const (
	ReasonItemNotFound        Reason = "ItemNotFound"
	ReasonDuplicateName       Reason = "DuplicateName"
	ReasonInvalidCopies       Reason = "InvalidCopyCount"
	ReasonInvalidKind         Reason = "InvalidKind"
	ReasonInvalidField        Reason = "InvalidField"
	ReasonInvalidEnum         Reason = "InvalidEnum"
	ReasonInvalidDate         Reason = "InvalidDate"
	ReasonAlreadyBorrowed     Reason = "AlreadyBorrowed"
	ReasonNoCopiesAvailable   Reason = "NoCopiesAvailable"
	ReasonInvalidDateRange    Reason = "InvalidDateRange"
	ReasonRetrievalInFuture   Reason = "RetrievalInFuture"
	ReasonNotBorrowing        Reason = "NotBorrowing"
	ReasonAlreadyInterested   Reason = "AlreadyInterested"
	ReasonNotInterested       Reason = "NotInterested"
	ReasonSuggestionNotFound  Reason = "SuggestionNotFound"
	ReasonDuplicateSuggestion Reason = "DuplicateSuggestion"
	ReasonAlreadyVoted        Reason = "AlreadyVoted"
	ReasonNotVoted            Reason = "NotVoted"
	ReasonInvalidSuggestion   Reason = "InvalidSuggestion"
	ReasonMetadataUnavailable Reason = "MetadataUnavailable"
	ReasonStore               Reason = "Store"
)

// Error is returned by every manager operation that fails. Message is meant
// for the end user; Err (only set for StoreFailure) is meant for the log.
type Error struct {
	Kind    ErrorKind
	Reason  Reason
	Message string
	// Alternatives holds close matches when a lookup by name missed.
	Alternatives []string
	Err          error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, reason Reason, message string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message}
}

// wrapStore turns a driver error into a StoreFailure. Errors that already
// are *Error pass through unchanged so rules raised inside a transaction keep
// their kind.
func wrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: StoreFailure, Reason: ReasonStore, Message: op + " failed, please retry", Err: err}
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ReasonOf returns the rule that rejected the operation, or "".
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool { return KindOf(err) == kind }

// UserMessage is what a command layer should show: the business message, or a
// generic retry hint for store failures and unknown errors.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "something went wrong, please retry"
}

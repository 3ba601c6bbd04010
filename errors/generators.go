package errors

import "fmt"

// NewResourceNotFoundError returns a new ErrNotFound error with kind
// KindResourceNotFound and the given message.
func NewResourceNotFoundError(message string, details Details) error {
	return Error{
		Code:    ErrNotFound,
		Kind:    KindResourceNotFound,
		Message: message,
		Details: details,
	}
}

// NewInternalError creates a new ErrInternal error with the given message.
func NewInternalError(message string, details Details) error {
	return Error{
		Code:    ErrInternal,
		Kind:    KindUnknown,
		Message: message,
		Details: details,
	}
}

// NewInternalErrorFromErr creates a new ErrInternal error with the given
// original error.
func NewInternalErrorFromErr(err error, message string, details Details) error {
	return Error{
		Code:    ErrInternal,
		Kind:    KindUnknown,
		Err:     err,
		Message: message,
		Details: details,
	}
}

// NewExecQueryError creates a new ErrInternal error with kind KindDB for a
// failed query execution.
func NewExecQueryError(err error, message string, query string) error {
	return Error{
		Code:    ErrInternal,
		Kind:    KindDB,
		Err:     err,
		Message: message,
		Details: Details{"query": query},
	}
}

// NewScanDBRowError creates a new ErrInternal error with kind KindDB for a
// failed row scan.
func NewScanDBRowError(err error, message string, query string) error {
	return Error{
		Code:    ErrInternal,
		Kind:    KindDB,
		Err:     err,
		Message: message,
		Details: Details{"query": query},
	}
}

// NewDBTxBeginError creates a new ErrInternal error with kind KindDB.
func NewDBTxBeginError(err error) error {
	return Error{
		Code:    ErrInternal,
		Kind:    KindDB,
		Err:     err,
		Message: "begin tx",
	}
}

// NewDBTxCommitError creates a new ErrInternal error with kind KindDB.
func NewDBTxCommitError(err error) error {
	return Error{
		Code:    ErrInternal,
		Kind:    KindDB,
		Err:     err,
		Message: "commit tx",
	}
}

// NewJSONError creates an error for failed JSON encoding or decoding. If
// blameUser is set, the error is an ErrBadRequest one because the user sent
// malformed content.
func NewJSONError(err error, message string, blameUser bool) error {
	if blameUser {
		return Error{
			Code:    ErrBadRequest,
			Kind:    KindDecodeJSON,
			Err:     err,
			Message: message,
		}
	}
	return Error{
		Code:    ErrInternal,
		Kind:    KindEncodeJSON,
		Err:     err,
		Message: message,
	}
}

// NewContextAbortedError creates a new ErrCommunication error with kind
// KindContextAborted.
func NewContextAbortedError(currentOperation string) error {
	return Error{
		Code:    ErrCommunication,
		Kind:    KindContextAborted,
		Message: fmt.Sprintf("context aborted while %s", currentOperation),
	}
}

// NewMalformedIDError creates a new ErrBadRequest error with kind
// KindMalformedID.
func NewMalformedIDError(err error, id string) error {
	return Error{
		Code:    ErrBadRequest,
		Kind:    KindMalformedID,
		Err:     err,
		Message: "malformed id",
		Details: Details{"id": id},
	}
}

// NewUnauthorizedError creates a new ErrUnauthorized error with the given kind.
func NewUnauthorizedError(kind Kind, err error, message string) error {
	return Error{
		Code:    ErrUnauthorized,
		Kind:    kind,
		Err:     err,
		Message: message,
	}
}

package types

import appErr "github.com/neko-do/engine/pkg/errors"

// FromAppError flattens an error into the wire shape, keeping the stable
// code when the error carries one.
func FromAppError(err error) *APIError {
	if err == nil {
		return nil
	}
	if e, ok := err.(*appErr.AppError); ok {
		return &APIError{Code: string(e.Code), Message: e.Message}
	}
	return &APIError{Code: string(appErr.CodeUnknown), Message: err.Error()}
}

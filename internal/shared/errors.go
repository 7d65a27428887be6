package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrUserExisted indicates a username collision on signup or rename.
	ErrUserExisted = errors.New("user existed")
	// ErrUnauthorized indicates missing, invalid or expired credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	// ErrForbidden indicates an authenticated caller lacking the required role.
	ErrForbidden = errors.New("forbidden")
	// ErrBadRequest indicates ids outside the allowed set or otherwise malformed input.
	ErrBadRequest = errors.New("bad request")
	// ErrValidation indicates request field validation failure.
	ErrValidation = errors.New("validation error")
	// ErrDatabase wraps store failures.
	ErrDatabase = errors.New("database error")
	// ErrInternal indicates hashing or signing failures.
	ErrInternal = errors.New("internal error")
)

// DatabaseError wraps a store failure with the operation name. Errors that already
// belong to the taxonomy pass through untouched.
func DatabaseError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsKnown(err) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrDatabase, err)
}

// InternalError wraps a credential-path failure.
func InternalError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrInternal, err)
}

// IsKnown reports whether err already carries one of the taxonomy sentinels.
func IsKnown(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrUserExisted, ErrUnauthorized, ErrForbidden,
		ErrBadRequest, ErrValidation, ErrDatabase, ErrInternal,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

package storage

import (
	"errors"
	"fmt"
)

// Name rejection reasons.
var (
	ErrEmptyName        = errors.New("empty name")
	ErrPathTraversal    = errors.New("path traversal detected")
	ErrAbsolutePath     = errors.New("absolute path not allowed")
	ErrIllegalCharacter = errors.New("illegal character in name")
	ErrNameTooLong      = errors.New("name too long")
	ErrReservedName     = errors.New("reserved name")
	ErrSymlinkEscape    = errors.New("symlink escape detected")
	ErrUnresolvable     = errors.New("path cannot be resolved")
)

// InvalidNameError reports a name that cannot be confined to the storage root.
type InvalidNameError struct {
	Name   string // the name as supplied by the client
	Reason error
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid name %q: %v", e.Name, e.Reason)
}

func (e *InvalidNameError) Unwrap() error {
	return e.Reason
}

// NotFoundError reports that no file is stored under the requested name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Name)
}

// IOFailure wraps an underlying filesystem or stream error.
type IOFailure struct {
	Op   string // create_root, open, write, close, rename, stat
	Name string
	Err  error
}

func (e *IOFailure) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Err)
}

func (e *IOFailure) Unwrap() error {
	return e.Err
}

// IsInvalidName reports whether err is, or wraps, an *InvalidNameError.
func IsInvalidName(err error) bool {
	var target *InvalidNameError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is, or wraps, a *NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsIOFailure reports whether err is, or wraps, an *IOFailure.
func IsIOFailure(err error) bool {
	var target *IOFailure
	return errors.As(err, &target)
}

func invalidName(name string, reason error) error {
	return &InvalidNameError{Name: name, Reason: reason}
}

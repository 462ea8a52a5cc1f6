package gkekube

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
)

// Error categories. All of them are fatal for the CLI - callers use
// errors.Is to pick the category, the wrapped message carries the detail.
var (
	// ErrCredentials is returned when the key file can't be read or parsed,
	// or when the identity provider rejects a refresh.
	ErrCredentials = errors.New("credentials")

	// ErrAPI is returned for GKE API failures - not found, permission denied,
	// transport - and for cluster data that can't be turned into a config.
	ErrAPI = errors.New("gke api")

	// ErrArguments is returned for missing or malformed invocation parameters.
	ErrArguments = errors.New("arguments")
)

// categoryError keeps both the category and the original cause reachable
// with errors.Is / errors.As - gRPC status in particular.
type categoryError struct {
	category error
	cause    error
}

func (e *categoryError) Error() string {
	return e.category.Error() + ": " + e.cause.Error()
}

func (e *categoryError) Unwrap() []error {
	return []error{e.category, e.cause}
}

// Wrap tags err with a category, adding msg as context.
// Returns nil if err is nil.
func Wrap(category, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &categoryError{category: category, cause: pkgerrors.Wrap(err, msg)}
}

// Wrapf is Wrap with a format.
func Wrapf(category, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &categoryError{category: category, cause: pkgerrors.Wrapf(err, format, args...)}
}

// Errorf creates a new error in the given category.
func Errorf(category error, format string, args ...interface{}) error {
	return &categoryError{category: category, cause: pkgerrors.Errorf(format, args...)}
}

// Category returns the error category, or nil if err is not one of ours.
func Category(err error) error {
	for _, c := range []error{ErrCredentials, ErrAPI, ErrArguments} {
		if errors.Is(err, c) {
			return c
		}
	}
	return nil
}

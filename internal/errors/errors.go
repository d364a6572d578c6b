// Package errors provides the error kinds used across mcscout.
// Sentinels support errors.Is checks; the typed errors carry the context a
// handler needs to turn a failure into a short user-facing message.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// New is the standard library errors.New.
var New = errors.New

// Is, As and Unwrap re-export the standard helpers so callers need one import.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)

var (
	// ErrNotFound indicates that a requested server does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAPIKeyRequired indicates that no search API key is configured.
	ErrAPIKeyRequired = errors.New("API key required")

	// ErrAPIKeyInvalid indicates that the search API rejected the key.
	ErrAPIKeyInvalid = errors.New("API key invalid")

	// ErrRemoteAPI indicates that the search API returned an error document.
	ErrRemoteAPI = errors.New("remote API error")

	// ErrProviderUnavailable indicates a transient failure talking to the search API.
	ErrProviderUnavailable = errors.New("search API unavailable")

	// ErrRateLimited indicates that the search API answered 429.
	ErrRateLimited = errors.New("rate limited")

	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = errors.New("operation canceled")

	// ErrRescanInProgress is returned when a rescan is triggered while one is running.
	ErrRescanInProgress = errors.New("rescan already in progress")

	// ErrNoResults is returned when a scan completes without finding anything.
	ErrNoResults = errors.New("no servers found")

	// ErrStorage indicates a database failure.
	ErrStorage = errors.New("storage error")
)

// NotFoundError represents a lookup of an absent resource.
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// Is implements errors.Is support
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ConfigError represents a missing or unusable configuration value.
type ConfigError struct {
	Component string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError
func NewConfigError(component, message string, err error) *ConfigError {
	return &ConfigError{Component: component, Message: message, Err: err}
}

// AuthenticationError is returned when the search API answers 401.
type AuthenticationError struct {
	Page    int
	Message string
}

// Error implements the error interface
func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed on page %d: %s", e.Page, e.Message)
}

// Is implements errors.Is support
func (e *AuthenticationError) Is(target error) bool {
	return target == ErrAPIKeyInvalid
}

// APIError represents an error document or an exhausted transient failure
// from the search API.
type APIError struct {
	Page       int
	StatusCode int
	Message    string
	// Transient is set when the error is the last of a series of retried
	// network or 5xx failures.
	Transient bool
	Err       error
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("search API error on page %d (status %d): %s", e.Page, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("search API error on page %d: %s", e.Page, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrRemoteAPI:
		return true
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrProviderUnavailable:
		return e.Transient || e.StatusCode >= 500
	}
	return false
}

// StorageError wraps a failed database operation.
type StorageError struct {
	Operation string
	Err       error
}

// Error implements the error interface
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// WrapStorage returns nil for a nil err, otherwise a StorageError.
func WrapStorage(operation string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Operation: operation, Err: err}
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsCanceled checks if an error is a cancellation error
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

// IsConfigError checks if an error is a configuration error
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

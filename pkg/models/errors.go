package models

import "errors"

// Error taxonomy shared across the service. Components wrap these sentinels
// with fmt.Errorf("...: %w", ...) so the API boundary can map them to HTTP
// statuses with errors.Is.
var (
	// ErrValidation indicates malformed caller input, such as a bad
	// repository URL or a missing required field.
	ErrValidation = errors.New("validation error")

	// ErrUnauthorized indicates missing or invalid caller credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound indicates an absent repository, chat, or file.
	ErrNotFound = errors.New("not found")

	// ErrUpstream indicates a source host, embedding, or generation
	// service failure.
	ErrUpstream = errors.New("upstream service error")

	// ErrNotReady indicates a query against a repository whose ingestion
	// has not completed.
	ErrNotReady = errors.New("repository not ready")
)

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsNotReady reports whether err wraps ErrNotReady.
func IsNotReady(err error) bool { return errors.Is(err, ErrNotReady) }

// IsValidation reports whether err wraps ErrValidation.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsUnauthorized reports whether err wraps ErrUnauthorized.
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }

// IsUpstream reports whether err wraps ErrUpstream.
func IsUpstream(err error) bool { return errors.Is(err, ErrUpstream) }

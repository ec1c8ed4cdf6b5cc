package client

import "codeberg.org/mutker/telemetryd/internal/errors"

const (
	// ErrTransient marks failures the next poll may heal: transport
	// errors, 5xx responses and an open circuit.
	ErrTransient     = errors.ErrUnavailable
	ErrUnauthorized  = errors.ErrUnauthorized
	ErrNotFound      = errors.ErrResourceNotFound
	ErrRejected      = errors.ErrorCode("client_request_rejected")
	ErrInvalidConfig = errors.ErrorCode("client_invalid_config")
	ErrDecode        = errors.ErrorCode("client_decode_failed")
)

const defaultDetail = "Request failed"

// IsTransient reports whether err is worth retrying on the next poll.
func IsTransient(err error) bool {
	return errors.HasCode(err, ErrTransient)
}

// IsUnauthorized reports whether the session behind err is no longer
// valid.
func IsUnauthorized(err error) bool {
	return errors.HasCode(err, ErrUnauthorized)
}

func IsNotFound(err error) bool {
	return errors.HasCode(err, ErrNotFound)
}

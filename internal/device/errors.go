package device

import "codeberg.org/mutker/telemetryd/internal/errors"

const (
	ErrInvalidRegistration = errors.ErrorCode("device_invalid_registration")
	ErrAlreadyRegistered   = errors.ErrorCode("device_already_registered")
	ErrNotFound            = errors.ErrResourceNotFound
	ErrStorageAccess       = errors.ErrorCode("device_storage_access_failed")
)

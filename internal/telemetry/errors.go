package telemetry

import "codeberg.org/mutker/telemetryd/internal/errors"

const (
	// Validation Errors
	ErrInvalidPoint = errors.ErrorCode("telemetry_invalid_point")
	ErrInvalidQuery = errors.ErrorCode("telemetry_invalid_query")

	// Conflict Errors
	ErrDuplicatePoint = errors.ErrorCode("telemetry_duplicate_point")

	// Storage Errors
	ErrStorageAccess = errors.ErrorCode("telemetry_storage_access_failed")
	ErrStorageClose  = errors.ErrShutdownFailed

	// Operation Errors
	ErrOperationTimeout = errors.ErrTimeout
)

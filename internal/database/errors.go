package database

import "codeberg.org/mutker/telemetryd/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("database_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("database_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("database_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("database_schema_migration_failed")

	// Storage Errors
	ErrStorageInit  = errors.ErrInitFailed
	ErrStorageClose = errors.ErrShutdownFailed
)

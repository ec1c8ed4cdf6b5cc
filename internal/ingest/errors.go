package ingest

import "codeberg.org/mutker/telemetryd/internal/errors"

const (
	ErrInvalidPayload = errors.ErrorCode("ingest_invalid_payload")
)

package api

import "codeberg.org/mutker/telemetryd/internal/errors"

const (
	ErrInvalidQuery = errors.ErrorCode("api_invalid_query")
	ErrInvalidBody  = errors.ErrorCode("api_invalid_body")
)

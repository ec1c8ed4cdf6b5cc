package telemetry

import (
	"bytes"
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"
)

// Reading is an optional metric value. The zero Reading is absent, which
// is distinct from a present zero.
type Reading struct {
	value float64
	valid bool
}

// Some returns a present Reading.
func Some(v float64) Reading {
	return Reading{value: v, valid: true}
}

// None returns an absent Reading.
func None() Reading {
	return Reading{}
}

// Get returns the value and whether it is present.
func (r Reading) Get() (float64, bool) {
	return r.value, r.valid
}

// IsSet reports whether the Reading carries a value.
func (r Reading) IsSet() bool {
	return r.valid
}

// Or returns the value, or fallback when absent.
func (r Reading) Or(fallback float64) float64 {
	if !r.valid {
		return fallback
	}
	return r.value
}

// FromPtr converts an optional pointer into a Reading.
func FromPtr(p *float64) Reading {
	if p == nil {
		return None()
	}
	return Some(*p)
}

func (r Reading) finite() bool {
	return !r.valid || (!math.IsNaN(r.value) && !math.IsInf(r.value, 0))
}

func (r Reading) String() string {
	if !r.valid {
		return "none"
	}
	return strconv.FormatFloat(r.value, 'f', -1, 64)
}

// MarshalJSON encodes an absent Reading as null.
func (r Reading) MarshalJSON() ([]byte, error) {
	if !r.valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(r.value, 'f', -1, 64)), nil
}

// UnmarshalJSON decodes null as absent.
func (r *Reading) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*r = None()
		return nil
	}
	v, err := strconv.ParseFloat(string(bytes.TrimSpace(data)), 64)
	if err != nil {
		return fmt.Errorf("invalid metric value %s", data)
	}
	*r = Some(v)
	return nil
}

// Value implements driver.Valuer; absent Readings are stored as NULL.
func (r Reading) Value() (driver.Value, error) {
	if !r.valid {
		return nil, nil
	}
	return r.value, nil
}

// Scan implements sql.Scanner.
func (r *Reading) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*r = None()
	case float64:
		*r = Some(v)
	case int64:
		*r = Some(float64(v))
	case []byte:
		f, err := strconv.ParseFloat(string(v), 64)
		if err != nil {
			return err
		}
		*r = Some(f)
	default:
		return fmt.Errorf("unsupported metric column type %T", src)
	}
	return nil
}

package aggregate

import (
	"strconv"
	"time"
)

const (
	NotAvailable = "N/A"
	NoData       = "no data"
)

// Stat is a derived value that may be unavailable. Unavailable stats
// encode as the "N/A" sentinel, never as zero.
type Stat struct {
	value float64
	valid bool
}

func Available(v float64) Stat { return Stat{value: v, valid: true} }

func Unavailable() Stat { return Stat{} }

// Get returns the value and whether it was computable.
func (s Stat) Get() (float64, bool) { return s.value, s.valid }

func (s Stat) String() string {
	if !s.valid {
		return NotAvailable
	}
	return strconv.FormatFloat(s.value, 'f', 2, 64)
}

func (s Stat) MarshalJSON() ([]byte, error) {
	if !s.valid {
		return []byte(`"` + NotAvailable + `"`), nil
	}
	return []byte(strconv.FormatFloat(s.value, 'f', -1, 64)), nil
}

func (s *Stat) UnmarshalJSON(data []byte) error {
	str := string(data)
	if str == `"`+NotAvailable+`"` || str == "null" {
		*s = Unavailable()
		return nil
	}
	v, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return err
	}
	*s = Available(v)
	return nil
}

// Instant is an optional timestamp that encodes as "no data" when unset.
type Instant struct {
	t     time.Time
	valid bool
}

func At(t time.Time) Instant { return Instant{t: t, valid: true} }

// Get returns the time and whether it is set.
func (i Instant) Get() (time.Time, bool) { return i.t, i.valid }

func (i Instant) String() string {
	if !i.valid {
		return NoData
	}
	return i.t.Format(time.RFC3339)
}

func (i Instant) MarshalJSON() ([]byte, error) {
	if !i.valid {
		return []byte(`"` + NoData + `"`), nil
	}
	return []byte(`"` + i.t.Format(time.RFC3339Nano) + `"`), nil
}

func (i *Instant) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*i = Instant{}
		return nil
	}
	str, err := strconv.Unquote(string(data))
	if err != nil {
		return err
	}
	if str == NoData {
		*i = Instant{}
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, str)
	if err != nil {
		return err
	}
	*i = At(t)
	return nil
}

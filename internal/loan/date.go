package loan

import (
	"bytes"
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire format of ledger dates.
const DateLayout = "2006-01-02"

// Date is a calendar date. The zero value is the empty date.
type Date struct {
	t time.Time
}

// NewDate builds a date from its calendar parts.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar date in t's location.
func DateOf(t time.Time) Date {
	if t.IsZero() {
		return Date{}
	}
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// ParseDate parses a YYYY-MM-DD string. An empty string yields the empty date.
func ParseDate(raw string) (Date, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Date{}, nil
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return Date{}, &ValidationError{Field: "date", Reason: fmt.Sprintf("malformed date %q", raw)}
	}
	return Date{t: t}, nil
}

// IsZero reports whether the date is empty.
func (d Date) IsZero() bool {
	return d.t.IsZero()
}

// Time returns the date at UTC midnight.
func (d Date) Time() time.Time {
	return d.t
}

// AddDays returns the date n calendar days later.
func (d Date) AddDays(n int) Date {
	if d.IsZero() {
		return d
	}
	return Date{t: d.t.AddDate(0, 0, n)}
}

// Equal reports whether both dates name the same day.
func (d Date) Equal(o Date) bool {
	return d.t.Equal(o.t)
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateLayout)
}

// MarshalJSON renders the date as "YYYY-MM-DD" or null when empty.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON accepts "YYYY-MM-DD", an empty string or null.
func (d *Date) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Scan implements sql.Scanner.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
	case time.Time:
		*d = DateOf(v)
	case string:
		parsed, err := ParseDate(v)
		if err != nil {
			return err
		}
		*d = parsed
	case []byte:
		parsed, err := ParseDate(string(v))
		if err != nil {
			return err
		}
		*d = parsed
	default:
		return fmt.Errorf("loan: cannot scan %T into Date", src)
	}
	return nil
}

// Value implements driver.Valuer.
func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.t, nil
}

package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Cursor is an ordered tuple identifying a position in a (possibly composite) key space.
// Elements are int64 or string. Cursors are ordered lexicographically: at the same position
// integers sort before strings, and a strict prefix sorts before the longer tuple.
// An empty Cursor sorts before every non-empty one and denotes "no position".
type Cursor []interface{}

// NewCursor builds a Cursor from Go scalars, normalizing every integer kind to int64.
func NewCursor(values ...interface{}) (Cursor, error) {
	c := make(Cursor, 0, len(values))
	for i, v := range values {
		n, err := normalizeCursorValue(v)
		if err != nil {
			return nil, fmt.Errorf("cursor element %d: %w", i, err)
		}
		c = append(c, n)
	}
	return c, nil
}

// MustCursor is NewCursor that panics on unsupported values. Intended for literals.
func MustCursor(values ...interface{}) Cursor {
	c, err := NewCursor(values...)
	if err != nil {
		panic(err)
	}
	return c
}

// IntCursor returns a single-column integer cursor.
func IntCursor(v int64) Cursor {
	return Cursor{v}
}

func normalizeCursorValue(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case uint:
		if uint64(t) > math.MaxInt64 {
			return nil, fmt.Errorf("value %d overflows int64", t)
		}
		return int64(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return nil, fmt.Errorf("value %d overflows int64", t)
		}
		return int64(t), nil
	case float64:
		if t != math.Trunc(t) {
			return nil, fmt.Errorf("non-integral number %v", t)
		}
		return int64(t), nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return nil, fmt.Errorf("non-integral number %s", t)
		}
		return n, nil
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	default:
		return nil, fmt.Errorf("unsupported cursor value type %T", v)
	}
}

// CursorFromColumn converts one scanned column value into a single-column cursor. A NULL
// yields an empty cursor. Text-protocol drivers return integers as bytes, so values of
// integer-typed columns are parsed back.
func CursorFromColumn(v interface{}, databaseTypeName string) (Cursor, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok {
		s := string(b)
		if strings.Contains(strings.ToUpper(databaseTypeName), "INT") {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, err
			}
			return IntCursor(n), nil
		}
		v = s
	}
	return NewCursor(v)
}

// IsEmpty reports whether the cursor holds no elements.
func (c Cursor) IsEmpty() bool {
	return len(c) == 0
}

// Values returns a copy of the elements.
func (c Cursor) Values() []interface{} {
	out := make([]interface{}, len(c))
	copy(out, c)
	return out
}

// Copy returns an independent copy of c.
func (c Cursor) Copy() Cursor {
	if c == nil {
		return nil
	}
	return Cursor(c.Values())
}

// Int64At returns element i as int64.
func (c Cursor) Int64At(i int) (int64, bool) {
	if i < 0 || i >= len(c) {
		return 0, false
	}
	v, ok := c[i].(int64)
	return v, ok
}

func compareElement(a, b interface{}) int {
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	switch {
	case aInt && bInt:
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	case aInt:
		return -1
	case bInt:
		return 1
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// Compare returns -1, 0 or +1 as c is less than, equal to or greater than o.
func (c Cursor) Compare(o Cursor) int {
	n := len(c)
	if len(o) < n {
		n = len(o)
	}
	for i := 0; i < n; i++ {
		if r := compareElement(c[i], o[i]); r != 0 {
			return r
		}
	}
	switch {
	case len(c) < len(o):
		return -1
	case len(c) > len(o):
		return 1
	}
	return 0
}

// Equal reports whether c and o denote the same position.
func (c Cursor) Equal(o Cursor) bool {
	return c.Compare(o) == 0
}

// Less reports whether c sorts before o.
func (c Cursor) Less(o Cursor) bool {
	return c.Compare(o) < 0
}

// Clamp bounds c into [lo, hi]. An empty bound is ignored.
func (c Cursor) Clamp(lo, hi Cursor) Cursor {
	if !lo.IsEmpty() && c.Compare(lo) < 0 {
		return lo.Copy()
	}
	if !hi.IsEmpty() && c.Compare(hi) > 0 {
		return hi.Copy()
	}
	return c.Copy()
}

// Next returns the smallest cursor strictly greater than c among cursors of the same width.
// The last element is incremented: an integer by one, a string by appending "\x00". An integer
// already at math.MaxInt64 wraps to math.MinInt64 and carries into the element before it.
// ok is false when c is empty or every element is an integer at math.MaxInt64.
func (c Cursor) Next() (next Cursor, ok bool) {
	if c.IsEmpty() {
		return nil, false
	}
	next = c.Copy()
	for i := len(next) - 1; i >= 0; i-- {
		switch v := next[i].(type) {
		case string:
			next[i] = v + "\x00"
			return next, true
		case int64:
			if v < math.MaxInt64 {
				next[i] = v + 1
				return next, true
			}
			next[i] = int64(math.MinInt64)
		default:
			return nil, false
		}
	}
	return nil, false
}

// MinCursor returns the smaller of a and b.
func MinCursor(a, b Cursor) Cursor {
	if a.Compare(b) <= 0 {
		return a
	}
	return b
}

// MaxCursor returns the larger of a and b.
func MaxCursor(a, b Cursor) Cursor {
	if a.Compare(b) >= 0 {
		return a
	}
	return b
}

// String renders the cursor as a JSON array.
func (c Cursor) String() string {
	b, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("%v", []interface{}(c))
	}
	return string(b)
}

// MarshalJSON encodes the cursor as a JSON array; an empty cursor is encoded as null.
func (c Cursor) MarshalJSON() ([]byte, error) {
	if c.IsEmpty() {
		return []byte("null"), nil
	}
	return json.Marshal([]interface{}(c))
}

// UnmarshalJSON decodes a JSON array, keeping integers as int64.
func (c *Cursor) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*c = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var raw []interface{}
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decode cursor: %w", err)
	}
	parsed, err := NewCursor(raw...)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Value implements driver.Valuer, storing the cursor as JSON text. An empty cursor is NULL.
func (c Cursor) Value() (driver.Value, error) {
	if c.IsEmpty() {
		return nil, nil
	}
	b, err := c.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (c *Cursor) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*c = nil
		return nil
	case []byte:
		return c.UnmarshalJSON(v)
	case string:
		return c.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("unsupported Scan type for Cursor: %T", value)
	}
}

// CursorRange is an inclusive [Min, Max] key range.
type CursorRange struct {
	Min Cursor
	Max Cursor
}

// Contains reports whether c lies within the range.
func (r CursorRange) Contains(c Cursor) bool {
	return r.Min.Compare(c) <= 0 && c.Compare(r.Max) <= 0
}

// Overlaps reports whether the two inclusive ranges share at least one position.
func (r CursorRange) Overlaps(o CursorRange) bool {
	return r.Min.Compare(o.Max) <= 0 && o.Min.Compare(r.Max) <= 0
}

func (r CursorRange) String() string {
	return fmt.Sprintf("[%s, %s]", r.Min, r.Max)
}

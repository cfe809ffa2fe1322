package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Bind decodes the model's arguments into dst, a pointer to a request struct
// tagged with the argument names. Unknown arguments are ignored.
func Bind(args map[string]any, dst any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgType, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgType, err)
	}
	return nil
}

// Float is a number the model may send as a JSON number or a numeric string.
// Null and "" leave it unset.
type Float struct {
	Value float64
	Set   bool
}

// Or returns the value, or def when unset.
func (f Float) Or(def float64) float64 {
	if !f.Set {
		return def
	}
	return f.Value
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Float) UnmarshalJSON(b []byte) error {
	s, ok, err := scalar(b)
	if err != nil || !ok {
		return err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	*f = Float{Value: v, Set: true}
	return nil
}

// Int is an integer the model may send as a number, an integral float or a
// numeric string.
type Int struct {
	Value int
	Set   bool
}

// Or returns the value, or def when unset.
func (i Int) Or(def int) int {
	if !i.Set {
		return def
	}
	return i.Value
}

// Ptr returns nil when unset.
func (i Int) Ptr() *int {
	if !i.Set {
		return nil
	}
	v := i.Value
	return &v
}

// UnmarshalJSON implements json.Unmarshaler.
func (i *Int) UnmarshalJSON(b []byte) error {
	s, ok, err := scalar(b)
	if err != nil || !ok {
		return err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v != math.Trunc(v) {
		return fmt.Errorf("not an integer: %q", s)
	}
	*i = Int{Value: int(v), Set: true}
	return nil
}

// Text is a string the model may also send as a bare number (e.g. an
// experiment id).
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(b []byte) error {
	s, _, err := scalar(b)
	if err != nil {
		return err
	}
	*t = Text(s)
	return nil
}

// StringList accepts a JSON array of strings or a single string.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var items []Text
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		out := make([]string, 0, len(items))
		for _, it := range items {
			out = append(out, string(it))
		}
		*l = out
		return nil
	}
	s, ok, err := scalar(b)
	if err != nil {
		return err
	}
	if ok {
		*l = StringList{s}
	} else {
		*l = nil
	}
	return nil
}

// scalar returns the textual form of a JSON string, number or bool. ok is
// false for null and blank strings.
func scalar(b []byte) (string, bool, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return "", false, nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", false, err
		}
		s = strings.TrimSpace(s)
		return s, s != "", nil
	case '{', '[':
		return "", false, fmt.Errorf("expected a scalar, got %s", b)
	default:
		return string(b), true, nil
	}
}

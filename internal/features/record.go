package features

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Feature is one named column of a record.
type Feature struct {
	Name  string
	Value float64
}

// Record is an assembled feature vector. Column order is part of the wire
// contract with the prediction service, so it is kept as a slice.
type Record struct {
	features []Feature
	index    map[string]int
}

func newRecord(capacity int) *Record {
	return &Record{
		features: make([]Feature, 0, capacity),
		index:    make(map[string]int, capacity),
	}
}

func (r *Record) add(name string, value float64) {
	if i, ok := r.index[name]; ok {
		r.features[i].Value = value
		return
	}
	r.index[name] = len(r.features)
	r.features = append(r.features, Feature{Name: name, Value: value})
}

// Len returns the number of columns.
func (r *Record) Len() int { return len(r.features) }

// Get returns a column value by name.
func (r *Record) Get(name string) (float64, bool) {
	i, ok := r.index[name]
	if !ok {
		return 0, false
	}
	return r.features[i].Value, true
}

// Names returns the column names in order.
func (r *Record) Names() []string {
	names := make([]string, len(r.features))
	for i, f := range r.features {
		names[i] = f.Name
	}
	return names
}

// Features returns a copy of the columns.
func (r *Record) Features() []Feature {
	out := make([]Feature, len(r.features))
	copy(out, r.features)
	return out
}

// MarshalJSON writes the record as a JSON object in column order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.features {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(f.Value) || math.IsInf(f.Value, 0) {
			return nil, fmt.Errorf("column %q: value %v is not representable in JSON", f.Name, f.Value)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(formatNumber(f.Value))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, keeping the key order of the input.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("feature record must be a JSON object")
	}

	*r = *newRecord(32)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected key token %v", tok)
		}
		var v float64
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("column %q: %w", name, err)
		}
		r.add(name, v)
	}
	_, err = dec.Token()
	return err
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

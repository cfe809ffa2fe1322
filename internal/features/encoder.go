// Package features turns perovskite process descriptions into the fixed-schema
// feature record consumed by the remote prediction service.
//
// A record is built from three parts:
//
//	formula.Composition  -> Cs, FA, MA, Pb, I, Br
//	scalar parameters    -> spin coating, antisolvent, anneal, PVK concentration
//	categorical slots    -> "{slot}_{item}" one-hot-with-magnitude columns
package features

import (
	"errors"
	"fmt"
)

// Policy selects how values outside a vocabulary are handled.
type Policy string

const (
	// PolicyZero leaves every slot column at zero for an unknown value.
	PolicyZero Policy = "zero"
	// PolicyStrict rejects unknown values with ErrUnknownValue.
	PolicyStrict Policy = "strict"
)

// ErrUnknownValue is returned in strict mode when a value is not in the slot vocabulary.
var ErrUnknownValue = errors.New("value not in vocabulary")

// Slot is a categorical field with a fixed, ordered vocabulary.
type Slot struct {
	Label      string
	Vocabulary []string
}

// Key returns the feature name for one vocabulary item.
func (s Slot) Key(item string) string {
	return s.Label + "_" + item
}

// Contains reports whether value is an exact vocabulary member.
func (s Slot) Contains(value string) bool {
	for _, item := range s.Vocabulary {
		if item == value {
			return true
		}
	}
	return false
}

var additives = []string{"BSP", "MACl", "PACl", "PEABr", "PEAI", "PMACl"}

// The two SAM vocabularies differ on purpose: SAM 1 knows 4PADBC, Me-4PACz
// and MeO-4PACz, SAM 2 does not. The trained model expects exactly these columns.
var (
	Additive1 = Slot{Label: "Formula Additive 1", Vocabulary: additives}
	Additive2 = Slot{Label: "Formula Additive 2", Vocabulary: additives}
	SAM1      = Slot{Label: "Formula SAM 1", Vocabulary: []string{
		"2PACz", "4PACz", "4PADBC", "DMACPA", "Me-2PACz", "Me-4PACz",
		"MeO-2PACz", "MeO-4PACz", "MeO-4PADBC", "py3",
	}}
	SAM2 = Slot{Label: "Formula SAM 2", Vocabulary: []string{
		"2PACz", "4PACz", "DMACPA", "Me-2PACz", "MeO-2PACz", "MeO-4PADBC", "py3",
	}}
)

// Slots lists the categorical slots in record order.
var Slots = []Slot{Additive1, Additive2, SAM1, SAM2}

// Encoder produces one-hot-with-magnitude columns for a slot.
type Encoder struct {
	Policy Policy
}

// NewEncoder returns an encoder with the given policy (zero when empty).
func NewEncoder(policy Policy) *Encoder {
	if policy == "" {
		policy = PolicyZero
	}
	return &Encoder{Policy: policy}
}

// Encode returns one feature per vocabulary item. Only the item equal to value
// carries concentration; everything else is 0. An empty value means the slot
// is unused and is never an error.
func (e *Encoder) Encode(slot Slot, value string, concentration float64) ([]Feature, error) {
	out := make([]Feature, len(slot.Vocabulary))
	matched := false
	for i, item := range slot.Vocabulary {
		out[i] = Feature{Name: slot.Key(item)}
		if item == value {
			out[i].Value = concentration
			matched = true
		}
	}

	if !matched && value != "" && e.Policy == PolicyStrict {
		return out, fmt.Errorf("%w: %s=%q (allowed: %v)", ErrUnknownValue, slot.Label, value, slot.Vocabulary)
	}
	return out, nil
}

// Decode reads a slot back out of a feature list. It returns the selected item
// and its concentration, or ok=false when no column of the slot is non-zero.
func Decode(fs []Feature, slot Slot) (value string, concentration float64, ok bool) {
	lookup := make(map[string]float64, len(fs))
	for _, f := range fs {
		lookup[f.Name] = f.Value
	}
	for _, item := range slot.Vocabulary {
		if v := lookup[slot.Key(item)]; v != 0 {
			return item, v, true
		}
	}
	return "", 0, false
}

// Package formula parses perovskite composition strings such as
// "Cs0.05FA0.81MA0.14Pb1I2.82Br0.18" into per-element fractions.
//
// The parser only knows a fixed element set. Every Composition it returns
// carries all of those elements, so downstream feature assembly can rely on a
// stable shape regardless of what the user typed.
package formula

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Elements is the fixed element set, in serialization order.
var Elements = []string{"Cs", "FA", "MA", "Pb", "I", "Br"}

// Policy selects how malformed input is handled.
type Policy string

const (
	// PolicyZero silently ignores unknown symbols and bad numbers.
	PolicyZero Policy = "zero"
	// PolicyStrict reports them as ErrInvalid.
	PolicyStrict Policy = "strict"
)

// ErrInvalid is returned by strict parsing for unusable input.
var ErrInvalid = errors.New("invalid formula")

// tokenPattern matches a letter run followed by an optional decimal number.
var tokenPattern = regexp.MustCompile(`([A-Za-z]+)(\d*\.?\d*)`)

// Composition maps each element of Elements to its fraction.
type Composition map[string]float64

// Options configures a Parser.
type Options struct {
	Policy Policy
	// ImplicitFraction is used for a known symbol with no trailing number.
	ImplicitFraction float64
}

// DefaultOptions returns the lenient options.
func DefaultOptions() Options {
	return Options{Policy: PolicyZero}
}

// Parser converts formula strings to Compositions.
type Parser struct {
	opts Options
}

// NewParser creates a parser with the given options.
func NewParser(opts Options) *Parser {
	if opts.Policy == "" {
		opts.Policy = PolicyZero
	}
	return &Parser{opts: opts}
}

// Parse parses s with the lenient default options.
func Parse(s string) Composition {
	c, _ := NewParser(DefaultOptions()).Parse(s)
	return c
}

// Empty returns a Composition with every element set to zero.
func Empty() Composition {
	c := make(Composition, len(Elements))
	for _, el := range Elements {
		c[el] = 0
	}
	return c
}

// Parse scans s for element tokens. The returned Composition always holds the
// full element set, even when an error is reported.
func (p *Parser) Parse(s string) (Composition, error) {
	result := Empty()
	// Full-width letters and digits from CJK input methods fold to ASCII.
	s = norm.NFKC.String(s)

	if strings.TrimSpace(s) == "" {
		if p.opts.Policy == PolicyStrict {
			return result, fmt.Errorf("%w: empty formula", ErrInvalid)
		}
		return result, nil
	}

	var problems []string
	for _, m := range tokenPattern.FindAllStringSubmatch(s, -1) {
		symbol, number := m[1], m[2]
		if _, known := result[symbol]; !known {
			problems = append(problems, fmt.Sprintf("unknown symbol %q", symbol))
			continue
		}
		if number == "" {
			result[symbol] = p.opts.ImplicitFraction
			continue
		}
		v, err := strconv.ParseFloat(number, 64)
		if err != nil {
			// A lone "." is the only shape the pattern allows that fails here.
			problems = append(problems, fmt.Sprintf("bad fraction %q for %s", number, symbol))
			result[symbol] = 0
			continue
		}
		result[symbol] = v
	}

	if p.opts.Policy == PolicyStrict && len(problems) > 0 {
		return result, fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return result, nil
}

// String renders the composition back in element order, skipping zeros.
func (c Composition) String() string {
	var b strings.Builder
	for _, el := range Elements {
		v := c[el]
		if v == 0 {
			continue
		}
		b.WriteString(el)
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	}
	return b.String()
}

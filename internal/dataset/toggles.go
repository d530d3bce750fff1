package dataset

import (
	"strings"

	"tradechart/internal/indicator"
)

// ToggleSet is the set of enabled indicators. The zero value has none.
type ToggleSet map[indicator.Kind]bool

// NewToggleSet returns a set with kinds enabled.
func NewToggleSet(kinds ...indicator.Kind) ToggleSet {
	ts := make(ToggleSet, len(kinds))
	for _, k := range kinds {
		ts[k] = true
	}
	return ts
}

// ParseToggles parses a comma-separated indicator list such as "sma,RSI".
// Blank entries are skipped.
func ParseToggles(s string) (ToggleSet, error) {
	ts := ToggleSet{}
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		k, err := indicator.ParseKind(part)
		if err != nil {
			return nil, err
		}
		ts[k] = true
	}
	return ts, nil
}

// Has reports whether k is enabled.
func (ts ToggleSet) Has(k indicator.Kind) bool { return ts[k] }

// Kinds returns the enabled kinds in draw order.
func (ts ToggleSet) Kinds() []indicator.Kind {
	out := make([]indicator.Kind, 0, len(ts))
	for _, k := range indicator.Kinds {
		if ts[k] {
			out = append(out, k)
		}
	}
	return out
}

// String renders the set as a comma-separated list in draw order.
func (ts ToggleSet) String() string {
	kinds := ts.Kinds()
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ",")
}

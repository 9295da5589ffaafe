package auditlog

import (
	"context"
	"fmt"
)

// Dispatcher routes a log line to the first variant that recognizes it.
type Dispatcher struct {
	variants []Variant
	lookup   Lookup
}

// NewDispatcher returns a Dispatcher over the fixed variant order.
// A nil lookup resolves every reference id to an empty value.
func NewDispatcher(lookup Lookup) *Dispatcher {
	if lookup == nil {
		lookup = NoLookup{}
	}
	return &Dispatcher{
		variants: Variants(),
		lookup:   lookup,
	}
}

// Match returns the first variant recognizing line.
func (d *Dispatcher) Match(line string) (Variant, bool) {
	for _, v := range d.variants {
		if v.Matches(line) {
			return v, true
		}
	}
	return Variant{}, false
}

// Dispatch returns the matching kind and its records for line. Lines no
// variant recognizes yield Unrecognized and nil records. Later variants are
// never consulted once one matches.
func (d *Dispatcher) Dispatch(ctx context.Context, line, actionID string) (Kind, []Record, error) {
	v, ok := d.Match(line)
	if !ok {
		return Unrecognized, nil, nil
	}
	records, err := v.Build(ctx, line, actionID, d.lookup)
	if err != nil {
		return v.Kind, nil, fmt.Errorf("%s: %w", v.Kind, err)
	}
	return v.Kind, records, nil
}

package frequency

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pharmabot/dispenser-controller/internal/pkg/model"
)

// ParseError marks a dosage-frequency description the parser does not
// understand. Callers must treat it as a hard stop for that medicine's
// schedule generation; ambiguous inputs are surfaced, never guessed.
type ParseError struct {
	Spec string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unrecognised frequency spec: %q", e.Spec)
}

// Counts maps every dosing slot to its dose count. All three slots are
// always present; a slot with no dose carries 0.
type Counts map[model.Slot]int

// For returns the dose count for the given slot.
func (c Counts) For(slot model.Slot) int {
	return c[slot]
}

// Total returns the number of doses across the whole day.
func (c Counts) Total() int {
	return c[model.SlotMorning] + c[model.SlotAfternoon] + c[model.SlotEvening]
}

// namedForms is the closed set of natural-language frequencies. Everything
// else must use the structured "a+b+c" pattern.
var namedForms = map[string]Counts{
	"once daily":        {model.SlotMorning: 1, model.SlotAfternoon: 0, model.SlotEvening: 0},
	"once a day":        {model.SlotMorning: 1, model.SlotAfternoon: 0, model.SlotEvening: 0},
	"twice daily":       {model.SlotMorning: 1, model.SlotAfternoon: 0, model.SlotEvening: 1},
	"twice a day":       {model.SlotMorning: 1, model.SlotAfternoon: 0, model.SlotEvening: 1},
	"three times daily": {model.SlotMorning: 1, model.SlotAfternoon: 1, model.SlotEvening: 1},
	"three times a day": {model.SlotMorning: 1, model.SlotAfternoon: 1, model.SlotEvening: 1},
}

// Parse converts a dosage-frequency description into per-slot dose counts.
// Accepted inputs are the structured "a+b+c" pattern
// (morning+afternoon+evening, single digits) and the closed set of
// natural-language forms. Anything else returns a *ParseError.
func Parse(spec string) (Counts, error) {
	normalised := strings.ToLower(strings.TrimSpace(spec))
	if normalised == "" {
		return nil, &ParseError{Spec: spec}
	}

	if counts, ok := namedForms[normalised]; ok {
		out := Counts{}
		for slot, n := range counts {
			out[slot] = n
		}
		return out, nil
	}

	parts := strings.Split(normalised, "+")
	if len(parts) != len(model.Slots) {
		return nil, &ParseError{Spec: spec}
	}

	out := Counts{}
	for i, slot := range model.Slots {
		part := strings.TrimSpace(parts[i])
		if len(part) != 1 {
			return nil, &ParseError{Spec: spec}
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, &ParseError{Spec: spec}
		}
		out[slot] = n
	}
	return out, nil
}

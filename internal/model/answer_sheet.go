package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrMalformedAnswers is returned when an answers payload is neither an
// array nor an object keyed by question index.
var ErrMalformedAnswers = errors.New("answers must be an array or an object keyed by question index")

// AnswerSheet is a sparse mapping of question index to selected option index.
// Unanswered questions are simply absent.
//
// On the wire it accepts either a JSON array ([2, null, 1]) or an object
// keyed by index ({"0": 2, "2": 1}). Entries that are not non-negative
// integers are treated as unanswered.
type AnswerSheet map[int]int

// UnmarshalJSON implements json.Unmarshaler.
func (s *AnswerSheet) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	sheet := AnswerSheet{}

	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		// empty sheet
	case trimmed[0] == '[':
		var slots []json.RawMessage
		if err := json.Unmarshal(trimmed, &slots); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedAnswers, err)
		}
		for i, raw := range slots {
			if v, ok := optionIndex(raw); ok {
				sheet[i] = v
			}
		}
	case trimmed[0] == '{':
		var slots map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &slots); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedAnswers, err)
		}
		for key, raw := range slots {
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 {
				return fmt.Errorf("%w: invalid question index %q", ErrMalformedAnswers, key)
			}
			if v, ok := optionIndex(raw); ok {
				sheet[idx] = v
			}
		}
	default:
		return ErrMalformedAnswers
	}

	*s = sheet
	return nil
}

// MarshalJSON encodes the sheet in its object form.
func (s AnswerSheet) MarshalJSON() ([]byte, error) {
	out := make(map[string]int, len(s))
	for k, v := range s {
		out[strconv.Itoa(k)] = v
	}
	return json.Marshal(out)
}

// SheetFromSlots builds a sheet from a dense slot sequence.
func SheetFromSlots(slots []*int) AnswerSheet {
	sheet := make(AnswerSheet, len(slots))
	for i, v := range slots {
		if v != nil && *v >= 0 {
			sheet[i] = *v
		}
	}
	return sheet
}

// optionIndex extracts a selected option index from a raw JSON value.
func optionIndex(raw json.RawMessage) (int, bool) {
	// json.Unmarshal leaves a float untouched on null.
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	if f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

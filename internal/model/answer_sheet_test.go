package model

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestAnswerSheetUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want AnswerSheet
	}{
		{name: "sparse object", in: `{"0": 2, "3": 1}`, want: AnswerSheet{0: 2, 3: 1}},
		{name: "array with gaps", in: `[2, null, null, 1]`, want: AnswerSheet{0: 2, 3: 1}},
		{name: "non numeric entries", in: `[1, "b", true, {"x":1}, 0]`, want: AnswerSheet{0: 1, 4: 0}},
		{name: "negative and fractional", in: `{"0": -1, "1": 1.5, "2": 3.0}`, want: AnswerSheet{2: 3}},
		{name: "null", in: `null`, want: AnswerSheet{}},
		{name: "empty array", in: `[]`, want: AnswerSheet{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got AnswerSheet
			if err := json.Unmarshal([]byte(tt.in), &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnswerSheetUnmarshalRejectsMalformed(t *testing.T) {
	for _, in := range []string{`"abc"`, `42`, `{"x": 1}`, `{"-1": 1}`} {
		var got AnswerSheet
		err := json.Unmarshal([]byte(in), &got)
		if !errors.Is(err, ErrMalformedAnswers) {
			t.Errorf("%s: err = %v, want ErrMalformedAnswers", in, err)
		}
	}
}

func TestAnswerSheetInsideRequest(t *testing.T) {
	var req SaveProgressRequest
	if err := json.Unmarshal([]byte(`{"answers": {"1": 0}, "time_left": 120}`), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.TimeLeft == nil || *req.TimeLeft != 120 {
		t.Fatalf("time_left = %v", req.TimeLeft)
	}
	if v, ok := req.Answers[1]; !ok || v != 0 {
		t.Fatalf("answers = %v", req.Answers)
	}
}

func TestSheetFromSlots(t *testing.T) {
	two, one := 2, 1
	got := SheetFromSlots([]*int{&two, nil, &one})
	want := AnswerSheet{0: 2, 2: 1}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

package agent

import (
	"errors"
	"testing"
)

func TestFormat(t *testing.T) {
	var transcript Transcript
	transcript.appendAction(RunQuery{SQL: "SELECT * FROM users"})
	transcript.appendObservation(ExecutionError{Message: `relation "users" does not exist`})

	tests := []struct {
		name   string
		result Result
		want   string
	}{
		{
			name:   "answered",
			result: Result{Status: StatusAnswered, Text: "The average rating is 4."},
			want:   "The average rating is 4.",
		},
		{
			name:   "exhausted",
			result: Result{Status: StatusExhausted, Reason: ErrBudgetExhausted.Error(), Iterations: 10, Transcript: transcript},
			want:   "No answer: budget exhausted after 10 iteration(s)\nReason: agent stopped due to iteration limit or time limit\nLast observation: Error: relation \"users\" does not exist",
		},
		{
			name:   "failed without transcript",
			result: Result{Status: StatusFailed, Reason: "model unavailable", Err: errors.New("model unavailable")},
			want:   "No answer: invocation failed after 0 iteration(s)\nReason: model unavailable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Format(tt.result); got != tt.want {
				t.Fatalf("Format() = %q, want %q", got, tt.want)
			}
		})
	}
}

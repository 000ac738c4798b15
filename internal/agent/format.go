package agent

import (
	"fmt"
	"strings"
)

// Format renders a result for people. Answered results print the answer;
// anything else prints a diagnostic ending with the last observation.
func Format(result Result) string {
	if result.Status == StatusAnswered {
		return result.Text
	}

	var b strings.Builder
	switch result.Status {
	case StatusExhausted:
		b.WriteString("No answer: budget exhausted")
	case StatusFailed:
		b.WriteString("No answer: invocation failed")
	default:
		fmt.Fprintf(&b, "No answer: status %q", result.Status)
	}
	fmt.Fprintf(&b, " after %d iteration(s)", result.Iterations)
	if result.Reason != "" {
		fmt.Fprintf(&b, "\nReason: %s", result.Reason)
	}
	if observation, ok := result.Transcript.LastObservation(); ok {
		fmt.Fprintf(&b, "\nLast observation: %s", RenderObservation(observation))
	}
	return b.String()
}

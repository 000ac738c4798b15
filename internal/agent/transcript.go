package agent

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type TurnKind string

const (
	TurnThought     TurnKind = "thought"
	TurnAction      TurnKind = "action"
	TurnObservation TurnKind = "observation"
)

// Turn holds exactly one of Thought, Action or Observation, selected by Kind.
// A final answer turn also keeps the thought that closed the invocation, so
// "Thought: ... Final Answer: ..." counts as one terminal turn.
type Turn struct {
	Kind        TurnKind
	Thought     string
	Action      Action
	Observation Observation
}

// Variant names the concrete action or observation type, or "thought".
func (t Turn) Variant() string {
	switch t.Kind {
	case TurnAction:
		if t.Action != nil {
			return t.Action.actionVariant()
		}
	case TurnObservation:
		if t.Observation != nil {
			return t.Observation.observationVariant()
		}
	}
	return string(t.Kind)
}

// Content renders the turn body without its marker.
func (t Turn) Content() string {
	switch t.Kind {
	case TurnThought:
		return t.Thought
	case TurnAction:
		switch action := t.Action.(type) {
		case RunQuery:
			return action.SQL
		case FinalAnswer:
			return action.Text
		case Malformed:
			return action.Raw
		}
	case TurnObservation:
		return RenderObservation(t.Observation)
	}
	return ""
}

// Transcript is the append-only turn log of one invocation.
type Transcript struct {
	turns []Turn
}

func (t *Transcript) appendThought(thought string) {
	t.turns = append(t.turns, Turn{Kind: TurnThought, Thought: thought})
}

func (t *Transcript) appendAction(action Action) {
	t.turns = append(t.turns, Turn{Kind: TurnAction, Action: action})
}

func (t *Transcript) appendAnswer(thought string, answer FinalAnswer) {
	t.turns = append(t.turns, Turn{Kind: TurnAction, Thought: thought, Action: answer})
}

func (t *Transcript) appendObservation(observation Observation) {
	t.turns = append(t.turns, Turn{Kind: TurnObservation, Observation: observation})
}

func (t Transcript) Len() int {
	return len(t.turns)
}

func (t Transcript) Turns() []Turn {
	turns := make([]Turn, len(t.turns))
	copy(turns, t.turns)
	return turns
}

func (t Transcript) Count(kind TurnKind) int {
	count := 0
	for _, turn := range t.turns {
		if turn.Kind == kind {
			count++
		}
	}
	return count
}

func (t Transcript) LastObservation() (Observation, bool) {
	for i := len(t.turns) - 1; i >= 0; i-- {
		if t.turns[i].Kind == TurnObservation {
			return t.turns[i].Observation, true
		}
	}
	return nil, false
}

// Validate checks that every query or malformed action is resolved by an
// observation before the next action, and that a final answer ends the log.
func (t Transcript) Validate() error {
	pending := false
	for i, turn := range t.turns {
		switch turn.Kind {
		case TurnAction:
			if pending {
				return fmt.Errorf("turn %d: action follows an unresolved action", i)
			}
			if _, ok := turn.Action.(FinalAnswer); ok {
				if i != len(t.turns)-1 {
					return fmt.Errorf("turn %d: final answer is not the last turn", i)
				}
				continue
			}
			pending = true
		case TurnObservation:
			if !pending {
				return fmt.Errorf("turn %d: observation without an action", i)
			}
			pending = false
		case TurnThought:
		default:
			return fmt.Errorf("turn %d: unknown kind %q", i, turn.Kind)
		}
	}
	if pending {
		return fmt.Errorf("last action has no observation")
	}
	return nil
}

// Render serialises the transcript in the grammar the model is prompted with.
func (t Transcript) Render() string {
	var b strings.Builder
	for _, turn := range t.turns {
		switch turn.Kind {
		case TurnThought:
			b.WriteString("Thought: " + turn.Thought + "\n")
		case TurnAction:
			switch action := turn.Action.(type) {
			case RunQuery:
				b.WriteString("Action: " + QueryToolName + "\nAction Input: " + action.SQL + "\n")
			case FinalAnswer:
				if turn.Thought != "" {
					b.WriteString("Thought: " + turn.Thought + "\n")
				}
				b.WriteString("Final Answer: " + action.Text + "\n")
			case Malformed:
				b.WriteString(strings.TrimSpace(action.Raw) + "\n")
			}
		case TurnObservation:
			b.WriteString("Observation: " + RenderObservation(turn.Observation) + "\n")
		}
	}
	return b.String()
}

func RenderObservation(observation Observation) string {
	switch typed := observation.(type) {
	case Rows:
		return renderRows(typed)
	case ExecutionError:
		return "Error: " + typed.Message
	case ParseError:
		return typed.Message
	default:
		return ""
	}
}

func renderRows(rows Rows) string {
	if len(rows.Columns) == 0 {
		return "Statement executed, no rows returned."
	}
	var b strings.Builder
	b.WriteString(strings.Join(rows.Columns, " | "))
	if len(rows.Values) == 0 {
		b.WriteString("\n(no rows)")
	}
	for _, row := range rows.Values {
		cells := make([]string, len(row))
		for i, value := range row {
			cells[i] = formatValue(value)
		}
		b.WriteString("\n" + strings.Join(cells, " | "))
	}
	switch {
	case rows.Omitted > 0:
		fmt.Fprintf(&b, "\n(%d more rows truncated)", rows.Omitted)
		if rows.Truncated {
			b.WriteString(" (result exceeded the row limit)")
		}
	case rows.Truncated:
		b.WriteString("\n(more rows truncated)")
	}
	return b.String()
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "NULL"
	case string:
		return typed
	case []byte:
		return string(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	case time.Time:
		return typed.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(typed)
	}
}

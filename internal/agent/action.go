package agent

import "github.com/sqlagent/sqlagent/internal/query"

// Action is one decision parsed from a model completion: RunQuery,
// FinalAnswer or Malformed.
type Action interface {
	actionVariant() string
}

type RunQuery struct {
	SQL string
}

type FinalAnswer struct {
	Text string
}

// Malformed is a completion that matched no part of the grammar. It is fed
// back to the model with FormatHint and charged against the budget.
type Malformed struct {
	Raw    string
	Reason string
}

func (RunQuery) actionVariant() string    { return "run_query" }
func (FinalAnswer) actionVariant() string { return "final_answer" }
func (Malformed) actionVariant() string   { return "malformed" }

// Observation is what the model sees after an action: Rows, ExecutionError or
// ParseError.
type Observation interface {
	observationVariant() string
}

type Rows struct {
	Columns []string
	Values  [][]any
	// Omitted counts rows dropped before showing the result to the model.
	// Truncated is set when the gateway itself stopped reading rows.
	Omitted   int
	Truncated bool
}

type ExecutionError struct {
	Message string
	Timeout bool
}

type ParseError struct {
	Message string
}

func (Rows) observationVariant() string           { return "rows" }
func (ExecutionError) observationVariant() string { return "execution_error" }
func (ParseError) observationVariant() string     { return "parse_error" }

// FormatHint is the fixed correction sent back after a malformed completion.
const FormatHint = "Check your output and make sure it conforms to the expected format!"

func newRowsObservation(rows query.Rows, limit int) Rows {
	observation := Rows{
		Columns:   rows.Columns,
		Values:    rows.Values,
		Truncated: rows.Truncated,
	}
	if limit > 0 && len(observation.Values) > limit {
		observation.Omitted = len(observation.Values) - limit
		observation.Values = observation.Values[:limit]
	}
	return observation
}

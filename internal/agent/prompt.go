package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sqlagent/sqlagent/internal/query"
)

// BuildSeedPrompt renders the fixed part of every model prompt. The output
// depends only on its arguments, with tables ordered by name.
func BuildSeedPrompt(question string, schema query.SchemaDescription, topK int) string {
	dialect := schema.Dialect
	if dialect == "" {
		dialect = "SQL"
	}
	if topK <= 0 {
		topK = 10
	}

	var b strings.Builder
	b.WriteString("You are an agent designed to interact with a SQL database.\n")
	fmt.Fprintf(&b, "Given an input question, create a syntactically correct %s query to run, then look at the results of the query and return the answer.\n", dialect)
	fmt.Fprintf(&b, "Unless the user asks for a specific number of examples, limit your query to at most %d results.\n", topK)
	b.WriteString("Only ask for the columns that are relevant to the question.\n")
	b.WriteString("Only use the tables and columns listed below.\n")
	b.WriteString("If a query fails, read the error, rewrite the query and try again.\n")
	b.WriteString("Do not make any DML statements (INSERT, UPDATE, DELETE, DROP etc.) to the database.\n")
	b.WriteString("If the question is not related to the database, answer \"I don't know\".\n\n")

	b.WriteString("Tables:\n")
	tables := make([]query.Table, len(schema.Tables))
	copy(tables, schema.Tables)
	sort.SliceStable(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
	if len(tables) == 0 {
		b.WriteString("(no tables available)\n")
	}
	for _, table := range tables {
		fmt.Fprintf(&b, "\nTable %s:\n", table.Name)
		for _, column := range table.Columns {
			fmt.Fprintf(&b, "  - %s (%s)\n", column.Name, column.Type)
		}
		if len(table.SampleRows) > 0 {
			columns := make([]string, len(table.Columns))
			for i, column := range table.Columns {
				columns[i] = column.Name
			}
			fmt.Fprintf(&b, "  %d sample rows:\n", len(table.SampleRows))
			for _, line := range strings.Split(renderRows(Rows{Columns: columns, Values: table.SampleRows}), "\n") {
				b.WriteString("    " + line + "\n")
			}
		}
	}

	b.WriteString("\nYou have access to one tool:\n")
	fmt.Fprintf(&b, "%s: runs a single SQL query against the database and returns the result or the error.\n\n", QueryToolName)
	b.WriteString("Use the following format:\n\n")
	b.WriteString("Question: the input question you must answer\n")
	b.WriteString("Thought: you should always think about what to do\n")
	fmt.Fprintf(&b, "Action: %s\n", QueryToolName)
	b.WriteString("Action Input: the SQL query to run\n")
	b.WriteString("Observation: the result of the query\n")
	b.WriteString("... (this Thought/Action/Action Input/Observation can repeat N times)\n")
	b.WriteString("Thought: I now know the final answer\n")
	b.WriteString("Final Answer: the final answer to the original input question\n\n")
	b.WriteString("Begin!\n\n")
	fmt.Fprintf(&b, "Question: %s\n", strings.TrimSpace(question))
	return b.String()
}

func buildPrompt(seed string, transcript Transcript) string {
	return seed + transcript.Render() + "Thought:"
}

// Package local runs the agent in-process for the sqlagent command.
package local

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sqlagent/sqlagent/internal/agent"
	"github.com/sqlagent/sqlagent/internal/demo"
	"github.com/sqlagent/sqlagent/internal/history"
	"github.com/sqlagent/sqlagent/internal/query"
)

type Asker interface {
	Run(ctx context.Context, question string, budget agent.Budget) agent.Result
}

// Session answers questions one at a time and records each result.
type Session struct {
	Agent    Asker
	Budget   agent.Budget
	Recorder *history.Recorder
	Logger   *slog.Logger
}

func (s *Session) Ask(ctx context.Context, question string) agent.Result {
	result := s.Agent.Run(ctx, question, s.Budget)
	if err := s.Recorder.Record(ctx, result); err != nil && s.Logger != nil {
		s.Logger.WarnContext(ctx, "invocation history not recorded",
			slog.String("invocation_id", result.InvocationID),
			slog.String("error", err.Error()),
		)
	}
	return result
}

var quitWords = map[string]bool{"exit": true, "quit": true, "q": true}

// REPL reads questions from in until EOF or a quit word. Blank lines are
// skipped. A failed invocation is reported and the loop continues.
func (s *Session) REPL(ctx context.Context, in io.Reader, out io.Writer) error {
	_, _ = fmt.Fprintln(out, "Agent ready! Enter your question (or 'exit' to quit).")
	scanner := bufio.NewScanner(in)
	for {
		_, _ = fmt.Fprint(out, "\nQuery: ")
		if !scanner.Scan() {
			_, _ = fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if quitWords[strings.ToLower(line)] {
			return nil
		}
		if line == "" {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result := s.Ask(ctx, line)
		_, _ = fmt.Fprintf(out, "\nResult: %s\n", agent.Format(result))
	}
}

// Batch answers every question with at most concurrency invocations in
// flight. Results keep the order of questions.
func (s *Session) Batch(ctx context.Context, questions []string, concurrency int) []agent.Result {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]agent.Result, len(questions))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)
	for i, question := range questions {
		group.Go(func() error {
			results[i] = s.Ask(groupCtx, question)
			return nil
		})
	}
	_ = group.Wait()
	return results
}

// ReadQuestions returns the non-blank lines of r, skipping lines starting
// with '#'.
func ReadQuestions(r io.Reader) ([]string, error) {
	questions := make([]string, 0)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		questions = append(questions, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}
	return questions, nil
}

// Verify runs the demo verification queries and prints each result table.
func Verify(ctx context.Context, gateway query.Gateway, out io.Writer) error {
	failed := 0
	for i, check := range demo.VerificationQueries {
		_, _ = fmt.Fprintf(out, "\n%d. %s:\n", i+1, check.Description)
		rows, err := gateway.Execute(ctx, check.SQL)
		if err != nil {
			failed++
			_, _ = fmt.Fprintf(out, "   Error: %v\n", err)
			continue
		}
		rendered := agent.RenderObservation(agent.Rows{Columns: rows.Columns, Values: rows.Values, Truncated: rows.Truncated})
		for _, line := range strings.Split(rendered, "\n") {
			_, _ = fmt.Fprintf(out, "   %s\n", line)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d verification query(ies) failed", failed)
	}
	return nil
}

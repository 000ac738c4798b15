package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sqlagent/sqlagent/internal/agent"
	"github.com/sqlagent/sqlagent/internal/observability"
)

var ErrNotFound = errors.New("history: not found")

// Record is the audit copy of one finished invocation. Records are write-only
// from the agent's point of view: nothing here is read back into a prompt.
type Record struct {
	InvocationID string
	Question     string
	Status       string
	Answer       string
	Reason       string
	Iterations   int
	ModelCalls   int
	StartedAt    time.Time
	FinishedAt   time.Time
	Elapsed      time.Duration
	ArchiveKey   string
	Turns        []Turn
}

type Turn struct {
	Seq     int
	Kind    string
	Variant string
	Content string
}

type Sink interface {
	Save(ctx context.Context, record Record) error
}

type Store interface {
	Sink
	HealthCheck(ctx context.Context) error
	Get(ctx context.Context, invocationID string) (Record, error)
	ListRecent(ctx context.Context, limit int) ([]Record, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

func FromResult(result agent.Result) Record {
	record := Record{
		InvocationID: result.InvocationID,
		Question:     result.Question,
		Status:       string(result.Status),
		Reason:       result.Reason,
		Iterations:   result.Iterations,
		ModelCalls:   result.ModelCalls,
		StartedAt:    result.StartedAt.UTC(),
		FinishedAt:   result.StartedAt.Add(result.Elapsed).UTC(),
		Elapsed:      result.Elapsed,
	}
	if result.Status == agent.StatusAnswered {
		record.Answer = result.Text
	}
	turns := result.Transcript.Turns()
	record.Turns = make([]Turn, 0, len(turns))
	for i, turn := range turns {
		record.Turns = append(record.Turns, Turn{
			Seq:     i,
			Kind:    string(turn.Kind),
			Variant: turn.Variant(),
			Content: turn.Content(),
		})
	}
	return record
}

type namedSink struct {
	name string
	sink Sink
}

// Fanout writes each record to every configured sink in order. A failing sink
// does not stop the others.
type Fanout struct {
	sinks  []namedSink
	logger *slog.Logger
}

func NewFanout(logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Fanout{logger: logger}
}

func (f *Fanout) Add(name string, sink Sink) *Fanout {
	if sink != nil {
		f.sinks = append(f.sinks, namedSink{name: name, sink: sink})
	}
	return f
}

func (f *Fanout) Len() int {
	return len(f.sinks)
}

func (f *Fanout) Save(ctx context.Context, record Record) error {
	var errs []error
	for _, item := range f.sinks {
		if err := item.sink.Save(ctx, record); err != nil {
			observability.IncrementHistoryWriteFailure(item.name)
			f.logger.WarnContext(ctx, "history write failed",
				slog.String("sink", item.name),
				slog.String("invocation_id", record.InvocationID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", item.name, err))
		}
	}
	return errors.Join(errs...)
}

const DefaultRecordTimeout = 10 * time.Second

// Recorder converts agent results into records and saves them. Saving is
// detached from the caller's cancellation so a client disconnect still leaves
// an audit record behind.
type Recorder struct {
	sink       Sink
	timeout    time.Duration
	archiveKey func(Record) (string, error)
}

func NewRecorder(sink Sink, timeout time.Duration) *Recorder {
	if timeout <= 0 {
		timeout = DefaultRecordTimeout
	}
	return &Recorder{sink: sink, timeout: timeout}
}

// WithArchiveKeys stamps each record with the object key its archived
// transcript is written to.
func (r *Recorder) WithArchiveKeys(fn func(Record) (string, error)) *Recorder {
	r.archiveKey = fn
	return r
}

func (r *Recorder) Record(ctx context.Context, result agent.Result) error {
	if r == nil || r.sink == nil {
		return nil
	}
	record := FromResult(result)
	if r.archiveKey != nil {
		key, err := r.archiveKey(record)
		if err != nil {
			return fmt.Errorf("archive key: %w", err)
		}
		record.ArchiveKey = key
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	return r.sink.Save(saveCtx, record)
}

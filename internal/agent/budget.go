package agent

import (
	"fmt"
	"time"
)

const (
	DefaultMaxIterations = 10
	DefaultMaxWallTime   = 60 * time.Second
)

type Budget struct {
	MaxIterations int
	MaxWallTime   time.Duration
}

func DefaultBudget() Budget {
	return Budget{MaxIterations: DefaultMaxIterations, MaxWallTime: DefaultMaxWallTime}
}

func (b Budget) IsZero() bool {
	return b.MaxIterations == 0 && b.MaxWallTime == 0
}

func (b Budget) Validate() error {
	if b.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be >= 1, got %d", b.MaxIterations)
	}
	if b.MaxWallTime <= 0 {
		return fmt.Errorf("max wall time must be > 0, got %s", b.MaxWallTime)
	}
	return nil
}

// Tighten returns b with every limit of other that is set and stricter.
func (b Budget) Tighten(other Budget) Budget {
	if other.MaxIterations > 0 && other.MaxIterations < b.MaxIterations {
		b.MaxIterations = other.MaxIterations
	}
	if other.MaxWallTime > 0 && other.MaxWallTime < b.MaxWallTime {
		b.MaxWallTime = other.MaxWallTime
	}
	return b
}

// meter consumes one Budget. It is never reset.
type meter struct {
	budget     Budget
	now        func() time.Time
	startedAt  time.Time
	iterations int
}

func newMeter(budget Budget, now func() time.Time) *meter {
	return &meter{budget: budget, now: now, startedAt: now()}
}

func (m *meter) charge() {
	m.iterations++
}

func (m *meter) elapsed() time.Duration {
	return m.now().Sub(m.startedAt)
}

func (m *meter) remaining() time.Duration {
	return m.budget.MaxWallTime - m.elapsed()
}

func (m *meter) wallExceeded() bool {
	return m.elapsed() >= m.budget.MaxWallTime
}

func (m *meter) iterationsExceeded() bool {
	return m.iterations >= m.budget.MaxIterations
}

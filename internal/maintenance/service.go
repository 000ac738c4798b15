package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sqlagent/sqlagent/internal/history"
	"github.com/sqlagent/sqlagent/internal/storage"
)

const (
	DefaultRetentionAge      = 30 * 24 * time.Hour
	DefaultRetentionInterval = time.Hour
	DefaultIntegrityInterval = 6 * time.Hour
	DefaultIntegrityLimit    = 200
)

type History interface {
	ListRecent(ctx context.Context, limit int) ([]history.Record, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type ArchivePruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

type Config struct {
	RetentionAge      time.Duration
	RetentionInterval time.Duration
	IntegrityInterval time.Duration
	IntegrityLimit    int
}

// Service enforces history retention and checks that archived transcripts
// referenced by history rows still exist. Archive and ObjectStore are
// optional.
type Service struct {
	History     History
	Archive     ArchivePruner
	ObjectStore storage.ObjectStore
	Config      Config
	Logger      *slog.Logger
	Clock       func() time.Time
}

type RetentionSummary struct {
	Cutoff             time.Time `json:"cutoff"`
	InvocationsDeleted int64     `json:"invocations_deleted"`
	ArchivesDeleted    int       `json:"archives_deleted"`
	Failures           int       `json:"failures"`
}

type IntegritySummary struct {
	InvocationsScanned  int `json:"invocations_scanned"`
	ArchivesChecked     int `json:"archives_checked"`
	MissingArchives     int `json:"missing_archives"`
	OperationalFailures int `json:"operational_failures"`
}

func (s *Service) Run(ctx context.Context) error {
	s.ensureDefaults()

	retentionTicker := time.NewTicker(s.Config.RetentionInterval)
	defer retentionTicker.Stop()

	var integrityC <-chan time.Time
	if s.ObjectStore != nil {
		integrityTicker := time.NewTicker(s.Config.IntegrityInterval)
		defer integrityTicker.Stop()
		integrityC = integrityTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-retentionTicker.C:
			summary, err := s.RunRetentionOnce(ctx)
			if err != nil {
				s.logger().ErrorContext(ctx, "retention cycle failed", slog.Any("error", err), slog.Any("summary", summary))
				continue
			}
			s.logger().InfoContext(ctx, "retention cycle completed", slog.Any("summary", summary))
		case <-integrityC:
			summary, err := s.RunIntegrityCheckOnce(ctx)
			if err != nil {
				s.logger().ErrorContext(ctx, "archive integrity check failed", slog.Any("error", err), slog.Any("summary", summary))
				continue
			}
			s.logger().InfoContext(ctx, "archive integrity check completed", slog.Any("summary", summary))
		}
	}
}

// RunRetentionOnce deletes history rows and archived transcripts older than
// the retention age.
func (s *Service) RunRetentionOnce(ctx context.Context) (RetentionSummary, error) {
	s.ensureDefaults()
	if s.History == nil {
		return RetentionSummary{}, fmt.Errorf("history store is required")
	}

	summary := RetentionSummary{Cutoff: s.Clock().Add(-s.Config.RetentionAge).UTC()}
	failures := make([]string, 0)

	deleted, err := s.History.DeleteOlderThan(ctx, summary.Cutoff)
	if err != nil {
		summary.Failures++
		failures = append(failures, fmt.Sprintf("delete invocations: %v", err))
	}
	summary.InvocationsDeleted = deleted

	if s.Archive != nil {
		pruned, err := s.Archive.Prune(ctx, summary.Cutoff)
		if err != nil {
			summary.Failures++
			failures = append(failures, fmt.Sprintf("prune archives: %v", err))
		}
		summary.ArchivesDeleted = pruned
	}

	retentionInvocationsDeletedTotal.Add(float64(summary.InvocationsDeleted))
	retentionArchivesDeletedTotal.Add(float64(summary.ArchivesDeleted))
	if len(failures) > 0 {
		retentionRunsTotal.WithLabelValues("failed").Inc()
		return summary, fmt.Errorf("retention encountered %d failure(s): %s", len(failures), strings.Join(failures, "; "))
	}
	retentionRunsTotal.WithLabelValues("completed").Inc()
	return summary, nil
}

// RunIntegrityCheckOnce stats the archive object of each recent invocation.
// Missing objects are reported in the summary, not as an error.
func (s *Service) RunIntegrityCheckOnce(ctx context.Context) (IntegritySummary, error) {
	s.ensureDefaults()
	if s.History == nil {
		return IntegritySummary{}, fmt.Errorf("history store is required")
	}
	if s.ObjectStore == nil {
		return IntegritySummary{}, fmt.Errorf("object store is required")
	}

	records, err := s.History.ListRecent(ctx, s.Config.IntegrityLimit)
	if err != nil {
		integrityRunsTotal.WithLabelValues("failed").Inc()
		return IntegritySummary{}, fmt.Errorf("list recent invocations: %w", err)
	}

	summary := IntegritySummary{InvocationsScanned: len(records)}
	failures := make([]string, 0)
	for _, record := range records {
		if record.ArchiveKey == "" {
			continue
		}
		summary.ArchivesChecked++
		if _, err := s.ObjectStore.Stat(ctx, record.ArchiveKey); err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				summary.MissingArchives++
				s.logger().WarnContext(ctx, "archived transcript missing",
					slog.String("invocation_id", record.InvocationID),
					slog.String("archive_key", record.ArchiveKey),
				)
				continue
			}
			summary.OperationalFailures++
			failures = append(failures, fmt.Sprintf("stat %s: %v", record.ArchiveKey, err))
		}
	}

	integrityMissingArchivesTotal.Add(float64(summary.MissingArchives))
	if len(failures) > 0 {
		integrityRunsTotal.WithLabelValues("failed").Inc()
		return summary, fmt.Errorf("integrity check encountered %d failure(s): %s", len(failures), strings.Join(failures, "; "))
	}
	integrityRunsTotal.WithLabelValues("completed").Inc()
	return summary, nil
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Service) ensureDefaults() {
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.Config.RetentionAge <= 0 {
		s.Config.RetentionAge = DefaultRetentionAge
	}
	if s.Config.RetentionInterval <= 0 {
		s.Config.RetentionInterval = DefaultRetentionInterval
	}
	if s.Config.IntegrityInterval <= 0 {
		s.Config.IntegrityInterval = DefaultIntegrityInterval
	}
	if s.Config.IntegrityLimit <= 0 {
		s.Config.IntegrityLimit = DefaultIntegrityLimit
	}
}

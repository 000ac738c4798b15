package maintenance

import "github.com/prometheus/client_golang/prometheus"

var (
	retentionRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlagent_retention_runs_total",
			Help: "Total number of history retention runs by status.",
		},
		[]string{"status"},
	)
	retentionInvocationsDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlagent_retention_invocations_deleted_total",
			Help: "Total number of invocation history rows deleted by retention runs.",
		},
	)
	retentionArchivesDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlagent_retention_archives_deleted_total",
			Help: "Total number of archived transcripts deleted by retention runs.",
		},
	)
	integrityRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlagent_archive_integrity_runs_total",
			Help: "Total number of archive integrity check runs by status.",
		},
		[]string{"status"},
	)
	integrityMissingArchivesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlagent_archive_integrity_missing_total",
			Help: "Total number of archived transcripts referenced by history but missing from the object store.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		retentionRunsTotal,
		retentionInvocationsDeletedTotal,
		retentionArchivesDeletedTotal,
		integrityRunsTotal,
		integrityMissingArchivesTotal,
	)
}

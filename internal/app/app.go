// Package app wires configuration into the runtime shared by the API server
// and the local CLI.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sqlagent/sqlagent/internal/agent"
	"github.com/sqlagent/sqlagent/internal/config"
	"github.com/sqlagent/sqlagent/internal/history"
	"github.com/sqlagent/sqlagent/internal/history/archive"
	historypostgres "github.com/sqlagent/sqlagent/internal/history/postgres"
	"github.com/sqlagent/sqlagent/internal/llm"
	"github.com/sqlagent/sqlagent/internal/maintenance"
	"github.com/sqlagent/sqlagent/internal/query"
	"github.com/sqlagent/sqlagent/internal/query/duckdb"
	"github.com/sqlagent/sqlagent/internal/query/postgres"
	"github.com/sqlagent/sqlagent/internal/storage"
	s3store "github.com/sqlagent/sqlagent/internal/storage/s3"
)

type Runtime struct {
	Config  config.Config
	Logger  *slog.Logger
	DB      *sql.DB
	Gateway *query.SQLGateway
	Agent   *agent.Agent

	// History, Archive, ObjectStore and Maintenance are nil unless enabled.
	History     history.Store
	Archive     *archive.Sink
	ObjectStore storage.ObjectStore
	Maintenance *maintenance.Service
	Recorder    *history.Recorder

	closers []func() error
}

// Options replace collaborators that Build would otherwise construct.
type Options struct {
	Model llm.Client
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.History.ArchiveEnabled && !cfg.History.Enabled {
		return nil, fmt.Errorf("transcript archive requires SQLAGENT_HISTORY_ENABLED")
	}

	rt := &Runtime{Config: cfg, Logger: logger}
	db, gateway, err := OpenDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt.DB = db
	rt.Gateway = gateway
	rt.closers = append(rt.closers, db.Close)

	model := opts.Model
	if model == nil {
		model, err = llm.New(llm.Config{
			Provider:          cfg.Model.Provider,
			BaseURL:           cfg.Model.BaseURL,
			APIKey:            cfg.Model.APIKey,
			Model:             cfg.Model.Model,
			Temperature:       cfg.Model.Temperature,
			Timeout:           cfg.Model.Timeout,
			RequestsPerMinute: cfg.Model.RequestsPerMinute,
		})
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("init model client: %w", err)
		}
	}

	rt.Agent, err = agent.New(model, gateway, agent.Config{
		Budget: agent.Budget{
			MaxIterations: cfg.Agent.MaxIterations,
			MaxWallTime:   cfg.Agent.MaxWallTime,
		},
		ObservationRowLimit: cfg.Agent.ObservationRowLimit,
	}, agent.WithLogger(logger))
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("init agent: %w", err)
	}

	if err := rt.buildHistory(ctx); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

// OpenDatabase opens the queried database and wraps it in a gateway configured
// from cfg.Database.
func OpenDatabase(ctx context.Context, cfg config.Config) (*sql.DB, *query.SQLGateway, error) {
	opts := query.Options{
		ReadOnly:         cfg.Database.ReadOnly,
		RowLimit:         cfg.Database.RowLimit,
		StatementTimeout: cfg.Database.StatementTimeout,
		SchemaName:       cfg.Database.Schema,
		IncludeTables:    cfg.Database.IncludeTables,
		SampleRows:       cfg.Database.SampleRows,
	}
	switch cfg.Database.Driver {
	case config.DriverDuckDB:
		db, err := duckdb.Open(ctx, duckdb.Config{
			Path:          cfg.Database.DSN,
			ParquetTables: cfg.Database.ParquetTables,
		})
		if err != nil {
			return nil, nil, err
		}
		return db, duckdb.NewGateway(db, opts), nil
	case config.DriverPostgres:
		db, err := postgres.Open(ctx, postgresConfig(cfg, cfg.Database.DSN))
		if err != nil {
			return nil, nil, err
		}
		return db, postgres.NewGateway(db, opts), nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

func (rt *Runtime) buildHistory(ctx context.Context) error {
	cfg := rt.Config
	if !cfg.History.Enabled {
		return nil
	}

	historyDB := rt.DB
	if cfg.Database.Driver != config.DriverPostgres || cfg.History.DSN != cfg.Database.DSN {
		db, err := postgres.Open(ctx, postgresConfig(cfg, cfg.History.DSN))
		if err != nil {
			return fmt.Errorf("open history db: %w", err)
		}
		rt.closers = append(rt.closers, db.Close)
		historyDB = db
	}
	repo := historypostgres.NewRepository(historyDB)
	rt.History = repo

	fanout := history.NewFanout(rt.Logger).Add("postgres", repo)
	rt.Recorder = history.NewRecorder(fanout, history.DefaultRecordTimeout)

	if cfg.History.ArchiveEnabled {
		store, err := s3store.New(ctx, s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			return fmt.Errorf("init object store: %w", err)
		}
		sink, err := archive.NewSink(store)
		if err != nil {
			return err
		}
		rt.ObjectStore = store
		rt.Archive = sink
		fanout.Add("archive", sink)
		rt.Recorder.WithArchiveKeys(sink.Key)
	}

	rt.Maintenance = &maintenance.Service{
		History: repo,
		Config: maintenance.Config{
			RetentionAge:      cfg.History.RetentionAge,
			RetentionInterval: cfg.History.RetentionInterval,
		},
		Logger: rt.Logger,
	}
	if rt.Archive != nil {
		rt.Maintenance.Archive = rt.Archive
		rt.Maintenance.ObjectStore = rt.ObjectStore
	}
	return nil
}

// Readiness pings every database the runtime depends on.
func (rt *Runtime) Readiness(ctx context.Context) error {
	if err := rt.Gateway.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if rt.History != nil {
		if err := rt.History.HealthCheck(ctx); err != nil {
			return fmt.Errorf("history: %w", err)
		}
	}
	return nil
}

func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func postgresConfig(cfg config.Config, dsn string) postgres.DBConfig {
	return postgres.DBConfig{
		DSN:             dsn,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}
}

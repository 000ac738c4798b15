package local

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sqlagent/sqlagent/internal/agent"
	"github.com/sqlagent/sqlagent/internal/app"
	"github.com/sqlagent/sqlagent/internal/config"
	"github.com/sqlagent/sqlagent/internal/demo"
	"github.com/sqlagent/sqlagent/internal/observability"
)

// Environment supplies what the commands need from the process.
type Environment struct {
	LoadConfig func() (config.Config, error)
	// Build defaults to app.Build.
	Build func(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app.Runtime, error)
	In    io.Reader
	Out   io.Writer
	Err   io.Writer
}

type budgetFlags struct {
	maxIterations int
	maxWallTime   time.Duration
}

func (f budgetFlags) budget(configured agent.Budget) agent.Budget {
	return configured.Tighten(agent.Budget{MaxIterations: f.maxIterations, MaxWallTime: f.maxWallTime})
}

func NewRootCommand(env Environment) *cobra.Command {
	if env.Build == nil {
		env.Build = func(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app.Runtime, error) {
			return app.Build(ctx, cfg, logger, app.Options{})
		}
	}
	if env.In == nil {
		env.In = os.Stdin
	}
	if env.Out == nil {
		env.Out = os.Stdout
	}
	if env.Err == nil {
		env.Err = os.Stderr
	}

	root := &cobra.Command{
		Use:           "sqlagent",
		Short:         "Answer natural-language questions with SQL",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(env.In)
	root.SetOut(env.Out)
	root.SetErr(env.Err)

	var budget budgetFlags
	root.PersistentFlags().IntVar(&budget.maxIterations, "max-iterations", 0, "lower the configured iteration budget")
	root.PersistentFlags().DurationVar(&budget.maxWallTime, "max-wall-time", 0, "lower the configured wall time budget")

	root.AddCommand(
		replCommand(env, &budget),
		askCommand(env, &budget),
		batchCommand(env, &budget),
		seedCommand(env),
		verifyCommand(env),
	)
	return root
}

func replCommand(env Environment, budget *budgetFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Ask questions interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd.Context(), env, budget, func(session *Session) error {
				return session.REPL(cmd.Context(), env.In, env.Out)
			})
		},
	}
}

func askCommand(env Environment, budget *budgetFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), env, budget, func(session *Session) error {
				result := session.Ask(cmd.Context(), strings.Join(args, " "))
				_, _ = fmt.Fprintln(env.Out, agent.Format(result))
				if result.Status == agent.StatusFailed {
					return fmt.Errorf("invocation %s failed", result.InvocationID)
				}
				return nil
			})
		},
	}
}

func batchCommand(env Environment, budget *budgetFlags) *cobra.Command {
	var (
		file        string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Answer every question in a file, one per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var in io.Reader = env.In
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("open questions: %w", err)
				}
				defer func() { _ = f.Close() }()
				in = f
			}
			questions, err := ReadQuestions(in)
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), env, budget, func(session *Session) error {
				results := session.Batch(cmd.Context(), questions, concurrency)
				failed := 0
				for i, result := range results {
					if result.Status == agent.StatusFailed {
						failed++
					}
					_, _ = fmt.Fprintf(env.Out, "Q%d: %s\n%s\n\n", i+1, questions[i], agent.Format(result))
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d invocation(s) failed", failed, len(results))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "questions file, '-' for stdin")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 4, "invocations in flight")
	return cmd
}

func seedCommand(env Environment) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create and load the demo tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := env.LoadConfig()
			if err != nil {
				return err
			}
			db, _, err := app.OpenDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			summary, err := demo.Seed(cmd.Context(), db)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(env.Out, "Tables created successfully: %d departments, %d users, %d skills.\n",
				summary.Departments, summary.Users, summary.Skills)
			return nil
		},
	}
}

func verifyCommand(env Environment) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Run the demo verification queries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := env.LoadConfig()
			if err != nil {
				return err
			}
			db, gateway, err := app.OpenDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			return Verify(cmd.Context(), gateway, env.Out)
		},
	}
}

func withSession(ctx context.Context, env Environment, budget *budgetFlags, fn func(*Session) error) error {
	cfg, err := env.LoadConfig()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg, env.Err)
	rt, err := env.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	return fn(&Session{
		Agent:    rt.Agent,
		Budget:   budget.budget(rt.Agent.Budget()),
		Recorder: rt.Recorder,
		Logger:   logger,
	})
}

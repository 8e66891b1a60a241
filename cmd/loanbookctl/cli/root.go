// Package cli implements loanbookctl, the operator command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/loanbook/internal/app"
	"github.com/odyssey-erp/loanbook/internal/auth"
	"github.com/odyssey-erp/loanbook/internal/platform/cache"
	"github.com/odyssey-erp/loanbook/internal/platform/db"
)

// Deps are the side effects the commands depend on.
type Deps struct {
	LoadConfig func() (*app.Config, error)
	Migrate    func(ctx context.Context, dsn string) error
	Jobs       func(cfg *app.Config) (JobsAPI, error)
}

// DefaultDeps connects to the configured Postgres and Redis.
func DefaultDeps() Deps {
	return Deps{
		LoadConfig: app.LoadConfig,
		Migrate: func(ctx context.Context, dsn string) error {
			pool, err := db.New(ctx, dsn, db.PoolOptions{MaxConns: 1})
			if err != nil {
				return err
			}
			defer pool.Close()
			return db.Migrate(ctx, pool)
		},
		Jobs: func(cfg *app.Config) (JobsAPI, error) {
			return NewJobsCLI(cache.Options{Addr: cfg.RedisAddr}.QueueOpt()), nil
		},
	}
}

// NewRootCommand builds the loanbookctl command tree.
func NewRootCommand(deps Deps) *cobra.Command {
	root := &cobra.Command{
		Use:           "loanbookctl",
		Short:         "Operate a loanbook deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(migrateCommand(deps), tokenCommand(deps), jobsCommand(deps))
	return root
}

func migrateCommand(deps Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}
			if err := deps.Migrate(cmd.Context(), cfg.PGDSN); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}

func tokenCommand(deps Deps) *cobra.Command {
	var (
		user string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("token: JWT_SECRET is not set")
			}
			token, err := auth.IssueToken(cfg.JWTSecret, user, ttl)
			if err != nil {
				return fmt.Errorf("token: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id placed in the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func jobsCommand(deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
	}
	trigger := &cobra.Command{
		Use:   "trigger",
		Short: "Enqueue a job now",
	}

	var book string
	integrity := &cobra.Command{
		Use:   "integrity",
		Short: "Audit one book, or every active book when --book is omitted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withJobs(deps, func(api JobsAPI) error {
				if book == "" {
					info, err := api.EnqueueSweep(cmd.Context())
					if err != nil {
						return fmt.Errorf("jobs trigger: %w", err)
					}
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "sweep enqueued (%s)\n", info.ID)
					return nil
				}
				id, err := uuid.Parse(book)
				if err != nil {
					return fmt.Errorf("jobs trigger: invalid book id %q", book)
				}
				if err := api.EnqueueIntegrity(cmd.Context(), id); err != nil {
					return fmt.Errorf("jobs trigger: %w", err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "integrity audit enqueued for %s\n", id)
				return nil
			})
		},
	}
	integrity.Flags().StringVar(&book, "book", "", "book id")
	trigger.AddCommand(integrity)

	var asJSON bool
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show queue counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withJobs(deps, func(api JobsAPI) error {
				s, err := api.Stats()
				if err != nil {
					return fmt.Errorf("jobs stats: %w", err)
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return json.NewEncoder(out).Encode(s)
				}
				_, _ = fmt.Fprintf(out, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
					s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
				return nil
			})
		},
	}
	stats.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	cmd.AddCommand(trigger, stats)
	return cmd
}

func withJobs(deps Deps, fn func(JobsAPI) error) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return err
	}
	api, err := deps.Jobs(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = api.Close() }()
	return fn(api)
}

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/target/ticket-enhancer/internal/adapters/reaper"
	"github.com/target/ticket-enhancer/internal/data"
	"github.com/target/ticket-enhancer/internal/domain/model"
	"github.com/target/ticket-enhancer/internal/service"
)

// newJobService builds the queue service the operator commands read through.
func newJobService(cmdCtx *commandContext, db *sql.DB) (*service.JobService, *data.JobRepo, error) {
	cfg := cmdCtx.Config
	repo := data.NewJobRepo(db, data.RepoConfig{
		MaxRetries:               cfg.Queue.MaxRedeliveries,
		RetryDelay:               cfg.Queue.RetryDelay,
		MaxRetryDelay:            cfg.Queue.MaxRetryDelay,
		DefaultTenantConcurrency: cfg.Queue.DefaultTenantConcurrency,
		Logger:                   cmdCtx.Logger,
	})
	lease := cfg.Worker.JobLease
	if lease <= 0 {
		lease = time.Minute
	}
	svc, err := service.NewJobService(service.JobServiceOptions{
		Repo:         repo,
		DeadSet:      repo,
		DefaultLease: lease,
		Logger:       cmdCtx.Logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return svc, repo, nil
}

type outputOptions struct {
	JSON bool
}

func parseQueueStatsFlags(args []string) (outputOptions, error) {
	fs := flag.NewFlagSet("queue-stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts outputOptions
	fs.BoolVar(&opts.JSON, "json", false, "Print JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return outputOptions{}, err
	}
	return opts, nil
}

func runQueueStats(cmdCtx *commandContext, args []string) error {
	opts, err := parseQueueStatsFlags(args)
	if err != nil {
		return err
	}
	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		svc, _, err := newJobService(cmdCtx, db)
		if err != nil {
			return err
		}
		stats, err := svc.Stats(ctx)
		if err != nil {
			return err
		}
		if opts.JSON {
			return printJSON(cmdCtx.Out, stats)
		}
		return printQueueStats(cmdCtx.Out, stats)
	})
}

func printQueueStats(out io.Writer, stats *model.QueueStats) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	rows := []struct {
		label string
		value string
	}{
		{"Pending", fmt.Sprint(stats.Pending)},
		{"Running", fmt.Sprint(stats.Running)},
		{"Dead", fmt.Sprint(stats.Dead)},
		{"Oldest pending", time.Duration(stats.OldestPendingSeconds * float64(time.Second)).Round(time.Second).String()},
	}
	for _, r := range rows {
		if err := writef(w, "%s\t%s\n", r.label, r.value); err != nil {
			return fmt.Errorf("write queue stats: %w", err)
		}
	}
	return w.Flush()
}

type deadListOptions struct {
	Limit int
	JSON  bool
}

func parseDeadListFlags(args []string) (deadListOptions, error) {
	fs := flag.NewFlagSet("dead-list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := deadListOptions{}
	fs.IntVar(&opts.Limit, "limit", 50, "Maximum number of dead jobs to show")
	fs.BoolVar(&opts.JSON, "json", false, "Print JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return deadListOptions{}, err
	}
	if opts.Limit <= 0 {
		return deadListOptions{}, errors.New("--limit must be greater than zero")
	}
	return opts, nil
}

func runDeadList(cmdCtx *commandContext, args []string) error {
	opts, err := parseDeadListFlags(args)
	if err != nil {
		return err
	}
	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		svc, _, err := newJobService(cmdCtx, db)
		if err != nil {
			return err
		}
		jobs, err := svc.ListDead(ctx, opts.Limit)
		if err != nil {
			return err
		}
		if opts.JSON {
			if jobs == nil {
				jobs = []model.DeadJob{}
			}
			return printJSON(cmdCtx.Out, jobs)
		}
		return printDeadJobs(cmdCtx.Out, jobs)
	})
}

func printDeadJobs(out io.Writer, jobs []model.DeadJob) error {
	if len(jobs) == 0 {
		return writeln(out, "dead set is empty")
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if err := writeln(w, "ID\tTenant\tTicket\tEvent\tRetries\tUpdated\tLast error"); err != nil {
		return fmt.Errorf("write dead jobs header: %w", err)
	}
	for _, j := range jobs {
		if err := writef(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			j.ID, j.TenantID, j.TicketID, j.EventID, j.RetryCount,
			j.UpdatedAt.UTC().Format(time.RFC3339), truncate(j.LastError, 80)); err != nil {
			return fmt.Errorf("write dead job %s: %w", j.ID, err)
		}
	}
	return w.Flush()
}

func parseDeadRequeueArgs(args []string) ([]string, error) {
	fs := flag.NewFlagSet("dead-requeue", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	ids := make([]string, 0, fs.NArg())
	for _, id := range fs.Args() {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, errors.New("usage: enhancer-admin dead-requeue <job-id> [job-id...]")
	}
	return ids, nil
}

func runDeadRequeue(cmdCtx *commandContext, args []string) error {
	ids, err := parseDeadRequeueArgs(args)
	if err != nil {
		return err
	}
	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		svc, _, err := newJobService(cmdCtx, db)
		if err != nil {
			return err
		}
		var errs []error
		for _, id := range ids {
			job, err := svc.RequeueDead(ctx, id)
			if err != nil {
				errs = append(errs, fmt.Errorf("requeue %s: %w", id, err))
				continue
			}
			if err := writef(cmdCtx.Out, "requeued %s as %s (tenant %s, ticket %s)\n",
				id, job.ID, job.TenantID, job.TicketID); err != nil {
				return err
			}
		}
		return errors.Join(errs...)
	})
}

func runReapOnce(cmdCtx *commandContext, _ []string) error {
	return withDatabase(cmdCtx, defaultMigrationTimeout, func(ctx context.Context, db *sql.DB) error {
		_, repo, err := newJobService(cmdCtx, db)
		if err != nil {
			return err
		}
		runner, err := reaper.NewRunner(reaper.RunnerOptions{
			DB:     db,
			Config: cmdCtx.Config.Reaper,
			Queue:  cmdCtx.Config.Queue,
			Logger: cmdCtx.Logger,
			Repo:   repo,
		})
		if err != nil {
			return err
		}
		if err := runner.RunOnce(ctx); err != nil {
			return fmt.Errorf("reaper pass: %w", err)
		}
		return writeln(cmdCtx.Out, "reaper pass completed")
	})
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

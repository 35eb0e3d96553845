package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/Strob0t/stratos/internal/adapter/filestore"
	"github.com/Strob0t/stratos/internal/adapter/postgres"
	"github.com/Strob0t/stratos/internal/adapter/sqlite"
	"github.com/Strob0t/stratos/internal/config"
	"github.com/Strob0t/stratos/internal/domain/task"
	"github.com/Strob0t/stratos/internal/service"
)

// statusScanLimit bounds the rows read per status by stats and list-tasks.
const statusScanLimit = 10000

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "migrate-version":
		return runAdminMigrateVersion(args[1:])
	case "rollback":
		return runAdminRollback(args[1:])
	case "sweep":
		return runAdminSweep(args[1:])
	case "stats":
		return runAdminStats(args[1:])
	case "list-tasks":
		return runAdminListTasks(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: stratos admin <command> [options]

Commands:
  migrate-version  Print the applied schema version
  rollback         Roll back schema migrations
  sweep            Remove expired uploads and tasks now
  stats            Count tasks per status
  list-tasks       List tasks in one status
  help             Show this help message

Examples:
  stratos admin migrate-version
  stratos admin rollback --steps 1
  stratos admin sweep
  stratos admin list-tasks --status processing
`)
}

func runAdminMigrateVersion(args []string) error {
	fs := flag.NewFlagSet("migrate-version", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	var version int64
	if cfg.Storage.Driver == "sqlite" {
		s, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return err
		}
		defer s.Close()
		version, err = s.MigrationVersion(ctx)
		if err != nil {
			return err
		}
	} else {
		version, err = postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
	}
	fmt.Printf("%s schema version: %d\n", cfg.Storage.Driver, version)
	return nil
}

func runAdminRollback(args []string) error {
	fs := flag.NewFlagSet("rollback", flag.ContinueOnError)
	steps := fs.Int("steps", 1, "number of migrations to roll back")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *steps < 1 {
		return fmt.Errorf("--steps must be at least 1")
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if !*yes {
		ok, err := confirm(fmt.Sprintf("Roll back %d %s migration(s)? Data may be lost. [y/N] ", *steps, cfg.Storage.Driver))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return nil
		}
	}

	ctx := context.Background()
	if cfg.Storage.Driver == "sqlite" {
		s, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.Rollback(ctx, *steps); err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
	} else if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *steps); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Rolled back %d migration(s)\n", *steps)
	return nil
}

func runAdminSweep(args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	blobs, err := filestore.New(cfg.Uploads.Dir)
	if err != nil {
		return fmt.Errorf("uploads: %w", err)
	}
	root, err := filepath.Abs(cfg.Runner.OutputDir)
	if err != nil {
		return fmt.Errorf("output dir: %w", err)
	}

	sweeper := service.NewSweeper(service.SweeperConfig{
		BatchSize:  cfg.Cleanup.BatchSize,
		Workers:    cfg.Cleanup.Workers,
		OutputRoot: root,
	}, store, blobs)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(sweeper.RunOnce(ctx))
}

func runAdminStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STATUS\tTASKS")
	for _, st := range []task.Status{task.StatusPending, task.StatusProcessing, task.StatusCompleted, task.StatusFailed} {
		tasks, err := store.ListTasksByStatus(ctx, st, statusScanLimit)
		if err != nil {
			return fmt.Errorf("list %s tasks: %w", st, err)
		}
		count := fmt.Sprint(len(tasks))
		if len(tasks) == statusScanLimit {
			count += "+"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", st, count)
	}
	return w.Flush()
}

func runAdminListTasks(args []string) error {
	fs := flag.NewFlagSet("list-tasks", flag.ContinueOnError)
	status := fs.String("status", string(task.StatusProcessing), "task status to list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	st := task.Status(*status)
	if !st.Valid() {
		return fmt.Errorf("unknown status %q", *status)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	tasks, err := store.ListTasksByStatus(ctx, st, statusScanLimit)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tOWNER\tCREATED\tCOMMAND")
	for i := range tasks {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			tasks[i].ID, tasks[i].Owner, tasks[i].CreatedAt.Format(time.RFC3339), truncate(tasks[i].Command, 60))
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// confirm asks a yes/no question on the terminal. Without a terminal it
// refuses, so scripts must pass --yes.
func confirm(prompt string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) { //nolint:gosec // fd fits in int
		return false, fmt.Errorf("stdin is not a terminal; pass --yes to confirm")
	}
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("read answer: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

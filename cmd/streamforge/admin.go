package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/Strob0t/StreamForge/internal/adapter/postgres"
	"github.com/Strob0t/StreamForge/internal/config"
)

// adminPageSize is the page size used when dumping an execution's events.
const adminPageSize = 500

// runAdmin dispatches admin subcommands (migrate, migrate-status, rollback, events).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "migrate":
		return runAdminMigrate(args[1:])
	case "migrate-status":
		return runAdminMigrateStatus(args[1:])
	case "rollback":
		return runAdminRollback(args[1:])
	case "events":
		return runAdminEvents(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: streamforge admin <command> [options]

Commands:
  migrate          Apply pending archive migrations
  migrate-status   List migrations and whether they are applied
  rollback         Roll back the most recent migrations
  events           Print the archived events of an execution
  help             Show this help message

Output is a table on a terminal and JSON otherwise.

Examples:
  streamforge admin migrate
  streamforge admin rollback --steps 2
  streamforge admin events --id 0b7c6f1e-4d0e-4a53-9a55-3f1f0f1a2b3c
`)
}

// adminConfig loads config the same way the server does; only the DSN is used.
func adminConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// isTTY reports whether stdout is an interactive terminal.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) //nolint:gosec // fd fits in int
}

func writeJSONOut(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runAdminMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := adminConfig()
	if err != nil {
		return err
	}
	if err := postgres.RunMigrations(context.Background(), cfg.Postgres.DSN); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "Migrations applied")
	return nil
}

func runAdminMigrateStatus(args []string) error {
	fs := flag.NewFlagSet("migrate-status", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := adminConfig()
	if err != nil {
		return err
	}
	migrations, err := postgres.MigrationStatus(context.Background(), cfg.Postgres.DSN)
	if err != nil {
		return err
	}

	if !isTTY() {
		return writeJSONOut(os.Stdout, migrations)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tAPPLIED\tSOURCE")
	for _, m := range migrations {
		fmt.Fprintf(w, "%d\t%v\t%s\n", m.Version, m.Applied, m.Source)
	}
	return w.Flush()
}

func runAdminRollback(args []string) error {
	fs := flag.NewFlagSet("rollback", flag.ContinueOnError)
	steps := fs.Int("steps", 1, "number of migrations to roll back")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *steps < 1 {
		return errors.New("--steps must be at least 1")
	}
	cfg, err := adminConfig()
	if err != nil {
		return err
	}
	if err := postgres.RollbackMigrations(context.Background(), cfg.Postgres.DSN, *steps); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Rolled back %d migration(s)\n", *steps)
	return nil
}

func runAdminEvents(args []string) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	id := fs.String("id", "", "execution id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("--id is required")
	}

	cfg, err := adminConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	store := postgres.NewEventStore(pool)

	info, err := store.GetExecution(ctx, *id)
	if err != nil {
		return err
	}

	tty := isTTY()
	var w *tabwriter.Writer
	if tty {
		fmt.Printf("Execution %s (%s) status=%s\n\n", info.ID, info.Type, info.Status)
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tKIND\tCREATED\tDATA")
	}

	var after int64
	for {
		page, err := store.LoadAfter(ctx, *id, after, adminPageSize)
		if err != nil {
			return err
		}
		for _, ev := range page.Events {
			if !tty {
				if err := json.NewEncoder(os.Stdout).Encode(ev); err != nil {
					return err
				}
				continue
			}
			data, err := ev.Data()
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", ev.Sequence, ev.Kind(), ev.CreatedAt.Format(time.RFC3339), data)
		}
		if !page.HasMore {
			break
		}
		after = page.NextAfter
	}

	if w != nil {
		return w.Flush()
	}
	return nil
}

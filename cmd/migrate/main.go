// Command migrate применяет миграции staging-схемы (sap_orders,
// sap_order_details) без запуска сервиса синхронизации.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/ordersync/internal/storage/postgres"
)

const (
	dsnEnv         = "ORDERSYNC_POSTGRES_DSN"
	defaultTimeout = 30 * time.Second
)

var errUsage = errors.New("usage error")

type options struct {
	direction string
	steps     int
	dsn       string
	timeout   time.Duration
}

func main() {
	if err := run(os.Args[1:], os.Getenv, os.Stdout); err != nil {
		fail("%v", err)
	}
}

// parseOptions разбирает флаги; DSN берётся из окружения, если не задан явно.
func parseOptions(args []string, getenv func(string) string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.direction, "direction", "up", "migration direction: up|down|status")
	fs.IntVar(&opts.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+dsnEnv+")")
	fs.DurationVar(&opts.timeout, "timeout", defaultTimeout, "overall timeout for the migration run")
	if err := fs.Parse(args); err != nil {
		return options{}, fmt.Errorf("%w: %v", errUsage, err)
	}

	opts.direction = strings.ToLower(strings.TrimSpace(opts.direction))
	switch opts.direction {
	case "up", "down", "status":
	default:
		return options{}, fmt.Errorf("%w: unsupported direction %q (use up|down|status)", errUsage, opts.direction)
	}

	opts.dsn = strings.TrimSpace(opts.dsn)
	if opts.dsn == "" {
		opts.dsn = strings.TrimSpace(getenv(dsnEnv))
	}
	if opts.dsn == "" {
		return options{}, fmt.Errorf("%w: %s (or -dsn) is required", errUsage, dsnEnv)
	}
	if opts.direction == "down" && opts.steps <= 0 {
		opts.steps = 1
	}
	if opts.timeout <= 0 {
		opts.timeout = defaultTimeout
	}
	return opts, nil
}

func run(args []string, getenv func(string) string, out io.Writer) error {
	opts, err := parseOptions(args, getenv)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	store, err := postgres.Open(ctx, opts.dsn)
	if err != nil {
		return fmt.Errorf("open staging store: %w", err)
	}
	defer store.Close()

	switch opts.direction {
	case "up":
		err = store.MigrateUp(ctx, opts.steps)
	case "down":
		err = store.MigrateDown(ctx, opts.steps)
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", opts.direction, err)
	}

	version, applied, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	_, _ = fmt.Fprintf(out, "migrate %s ok: version=%d applied=%d\n", opts.direction, version, applied)
	return nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

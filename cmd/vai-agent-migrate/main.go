package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/pflag"

	"github.com/vango-go/vai-agent/internal/dotenv"
	"github.com/vango-go/vai-agent/internal/migrations"
)

type migrateDeps struct {
	openDB      func(url string) (*sql.DB, error)
	newProvider func(*sql.DB) (migrator, error)
}

type migrator interface {
	Up(context.Context) ([]*goose.MigrationResult, error)
	Down(context.Context) (*goose.MigrationResult, error)
	Status(context.Context) ([]*goose.MigrationStatus, error)
}

func defaultMigrateDeps() migrateDeps {
	return migrateDeps{
		openDB: func(url string) (*sql.DB, error) {
			return sql.Open("pgx", url)
		},
		newProvider: func(db *sql.DB) (migrator, error) {
			return migrations.NewProvider(db)
		},
	}
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps migrateDeps) int {
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	fs := pflag.NewFlagSet("vai-agent-migrate", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	databaseURL := fs.String("database-url", "", "Postgres URL (defaults to VAI_AGENT_DATABASE_URL)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: vai-agent-migrate [--database-url URL] up|down|status")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	command := fs.Arg(0)

	if err := dotenv.Load(".env.local", ".env"); err != nil {
		fmt.Fprintf(stderr, "vai-agent-migrate: %v\n", err)
		return 1
	}
	url := strings.TrimSpace(*databaseURL)
	if url == "" {
		url = strings.TrimSpace(os.Getenv("VAI_AGENT_DATABASE_URL"))
	}
	if url == "" {
		fmt.Fprintln(stderr, "vai-agent-migrate: database url is required (--database-url or VAI_AGENT_DATABASE_URL)")
		return 2
	}

	if err := migrate(ctx, logger, stdout, url, command, deps); err != nil {
		fmt.Fprintf(stderr, "vai-agent-migrate: %v\n", err)
		return 1
	}
	return 0
}

func migrate(ctx context.Context, logger *slog.Logger, stdout io.Writer, url, command string, deps migrateDeps) error {
	db, err := deps.openDB(url)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	p, err := deps.newProvider(db)
	if err != nil {
		return err
	}

	switch command {
	case "up":
		results, err := p.Up(ctx)
		for _, r := range results {
			logger.Info("migration applied", "version", r.Source.Version, "duration", r.Duration)
		}
		if err != nil {
			return fmt.Errorf("up: %w", err)
		}
		logger.Info("migrations complete", "applied", len(results))
	case "down":
		r, err := p.Down(ctx)
		if err != nil {
			return fmt.Errorf("down: %w", err)
		}
		logger.Info("migration rolled back", "version", r.Source.Version)
	case "status":
		statuses, err := p.Status(ctx)
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		for _, s := range statuses {
			fmt.Fprintf(stdout, "%05d  %-8s  %s\n", s.Source.Version, s.State, s.Source.Path)
		}
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr, defaultMigrateDeps()))
}

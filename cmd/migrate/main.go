package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"adwatch/migrations"
)

type options struct {
	Database string `long:"db" env:"DATABASE_PATH" default:"./data/bot.db" description:"Path to the SQLite database"`
}

const usage = `<command>

Commands:
  up          Migrate to the latest version
  up-one      Migrate one version up
  down        Roll back one version
  status      Show migration status
  version     Show current version
  reset       Roll back all migrations`

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	parser.Usage = usage

	args, err := parser.Parse()
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}
	if len(args) == 0 {
		parser.WriteHelp(os.Stderr)
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(context.Background(), opts.Database, args[0], log); err != nil {
		log.Error("migrate", "command", args[0], "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, dbPath, cmd string, log *slog.Logger) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	p, err := migrations.NewProvider(db)
	if err != nil {
		return err
	}

	switch cmd {
	case "up":
		results, err := p.Up(ctx)
		logResults(log, results)
		return err
	case "up-one":
		res, err := p.UpByOne(ctx)
		if errors.Is(err, goose.ErrNoNextVersion) {
			log.Info("already at the latest version")
			return nil
		}
		logResults(log, []*goose.MigrationResult{res})
		return err
	case "down":
		res, err := p.Down(ctx)
		if errors.Is(err, goose.ErrNoNextVersion) {
			log.Info("no migration to roll back")
			return nil
		}
		logResults(log, []*goose.MigrationResult{res})
		return err
	case "reset":
		results, err := p.DownTo(ctx, 0)
		logResults(log, results)
		return err
	case "status":
		statuses, err := p.Status(ctx)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			applied := "pending"
			if s.State == goose.StateApplied {
				applied = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%-6d %-40s %s\n", s.Source.Version, s.Source.Path, applied)
		}
		return nil
	case "version":
		v, err := p.GetDBVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func logResults(log *slog.Logger, results []*goose.MigrationResult) {
	if len(results) == 0 {
		log.Info("no migrations to apply")
	}
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		log.Info("migration",
			"version", r.Source.Version,
			"path", r.Source.Path,
			"direction", r.Direction,
			"duration", r.Duration,
			"error", r.Error,
		)
	}
}

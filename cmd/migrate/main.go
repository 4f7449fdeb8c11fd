package main

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/samirrijal/tandemap/internal/pkg/config"
	"github.com/samirrijal/tandemap/migrations"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: migrate <up|status>")
	}

	cfg, err := config.Load("tandemap-migrate")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name       TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		log.Fatalf("create schema_migrations: %v", err)
	}

	files, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		log.Fatalf("list migrations: %v", err)
	}
	sort.Strings(files)

	switch os.Args[1] {
	case "up":
		runMigrations(ctx, pool, files)
	case "status":
		printStatus(ctx, pool, files)
	default:
		log.Fatalf("unknown command: %s", os.Args[1])
	}
}

func applied(ctx context.Context, pool *pgxpool.Pool) map[string]bool {
	rows, err := pool.Query(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		log.Fatalf("read schema_migrations: %v", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			log.Fatalf("scan schema_migrations: %v", err)
		}
		done[name] = true
	}
	if err := rows.Err(); err != nil {
		log.Fatalf("read schema_migrations: %v", err)
	}
	return done
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool, files []string) {
	done := applied(ctx, pool)

	for _, f := range files {
		if done[f] {
			fmt.Printf("--  %s\n", f)
			continue
		}
		data, err := migrations.FS.ReadFile(f)
		if err != nil {
			log.Fatalf("read %s: %v", f, err)
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			log.Fatalf("begin %s: %v", f, err)
		}
		if _, err := tx.Exec(ctx, string(data)); err != nil {
			_ = tx.Rollback(ctx)
			log.Fatalf("exec %s: %v", f, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, f); err != nil {
			_ = tx.Rollback(ctx)
			log.Fatalf("record %s: %v", f, err)
		}
		if err := tx.Commit(ctx); err != nil {
			log.Fatalf("commit %s: %v", f, err)
		}

		fmt.Printf("OK  %s\n", f)
	}

	log.Println("all migrations applied")
}

func printStatus(ctx context.Context, pool *pgxpool.Pool, files []string) {
	done := applied(ctx, pool)
	for _, f := range files {
		mark := "pending"
		if done[f] {
			mark = "applied"
		}
		fmt.Printf("%-8s %s\n", mark, f)
	}
}

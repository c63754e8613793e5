package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/seed"
)

func main() {
	direction := flag.String("direction", "up", "seed direction: up|down")
	steps := flag.Int("steps", 0, "number of seed steps; 0 means all for up, 1 for down")
	dbPath := flag.String("path", "", "DuckDB file to seed (default ASKDB_DB_LOCAL_PATH)")
	flag.Parse()

	cfg, err := config.LoadFromEnv("askdb-seed")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	path := *dbPath
	if path == "" {
		path = cfg.Database.LocalPath
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "ASKDB_DB_LOCAL_PATH or -path is required")
		os.Exit(1)
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database open error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "database ping error: %v\n", err)
		os.Exit(1)
	}

	runner := seed.NewRunner()
	switch *direction {
	case "up":
		applied, err := runner.Up(ctx, db, *steps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed up failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("applied %d seed step(s) to %s\n", applied, path)
	case "down":
		reverted, err := runner.Down(ctx, db, *steps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed down failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("reverted %d seed step(s) in %s\n", reverted, path)
	default:
		fmt.Fprintf(os.Stderr, "invalid direction: %s\n", *direction)
		os.Exit(1)
	}
}

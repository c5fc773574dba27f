package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/chrissnell/simtelemetry/internal/log"
	"github.com/chrissnell/simtelemetry/internal/storage/sqlite"
	_ "modernc.org/sqlite" // SQLite driver
)

func main() {
	var (
		dbPath        = flag.String("db", "", "Path to the SQLite session database")
		command       = flag.String("command", "up", "Migration command: up, down, goto, version")
		targetVersion = flag.String("target", "", "Target version for the goto command")
		helpFlag      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *helpFlag {
		showHelp()
		return
	}

	if *dbPath == "" {
		fmt.Fprintf(os.Stderr, "Error: -db flag is required\n")
		showHelp()
		os.Exit(1)
	}

	if err := log.Init(false); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	switch *command {
	case "up":
		err = sqlite.MigrateUp(db)
	case "down":
		err = sqlite.MigrateDown(db)
	case "goto":
		if *targetVersion == "" {
			log.Fatalf("-target is required for goto")
		}
		var v uint64
		v, err = strconv.ParseUint(*targetVersion, 10, 32)
		if err != nil {
			log.Fatalf("Invalid target version: %v", err)
		}
		err = sqlite.MigrateTo(db, uint(v))
	case "version":
		var (
			v     uint
			dirty bool
		)
		v, dirty, err = sqlite.MigrationVersion(db)
		if err == nil {
			fmt.Printf("Current version: %d", v)
			if dirty {
				fmt.Print(" (dirty)")
			}
			fmt.Println()
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", *command)
		showHelp()
		os.Exit(1)
	}

	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	if *command != "version" {
		fmt.Printf("Migration command '%s' completed successfully\n", *command)
	}
}

func showHelp() {
	fmt.Printf(`Session Database Migration Tool

Usage: %s [options]

Options:
  -db string        Path to the SQLite session database (required)
  -command string   Migration command: up, down, goto, version (default "up")
  -target string    Target version for the goto command
  -help             Show this help

Examples:
  # Apply all pending migrations
  %s -db sessions.db -command up

  # Show the current schema version
  %s -db sessions.db -command version

  # Move to a specific version
  %s -db sessions.db -command goto -target 1
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

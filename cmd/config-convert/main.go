package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chrissnell/simtelemetry/pkg/config"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func main() {
	var (
		yamlFile   = flag.String("yaml", "", "Path to YAML configuration file (required)")
		sqliteFile = flag.String("sqlite", "", "Path to SQLite database file (required)")
		force      = flag.Bool("force", false, "Overwrite existing SQLite database")
		dryRun     = flag.Bool("dry-run", false, "Show what would be done without executing")
		verify     = flag.Bool("verify", true, "Read the database back and compare it with the YAML configuration")
	)
	flag.Parse()

	if *yamlFile == "" || *sqliteFile == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -yaml <config.yaml> -sqlite <config.db>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	// Check if YAML file exists
	if _, err := os.Stat(*yamlFile); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error: YAML file does not exist: %s\n", *yamlFile)
		os.Exit(1)
	}

	// Check if SQLite file already exists
	if _, err := os.Stat(*sqliteFile); err == nil && !*force {
		fmt.Fprintf(os.Stderr, "Error: SQLite file already exists: %s\n", *sqliteFile)
		fmt.Fprintf(os.Stderr, "Use -force to overwrite or choose a different filename\n")
		os.Exit(1)
	}

	fmt.Printf("Converting YAML configuration to SQLite...\n")
	fmt.Printf("  Source: %s\n", *yamlFile)
	fmt.Printf("  Target: %s\n", *sqliteFile)

	// Load YAML configuration
	yamlProvider := config.NewYAMLProvider(*yamlFile)
	configData, err := yamlProvider.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading YAML configuration: %v\n", err)
		os.Exit(1)
	}
	if err := configData.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "YAML configuration is invalid:\n%v\n", err)
		os.Exit(1)
	}

	fmt.Printf("  Loaded %d sources, %d controllers\n", len(configData.Sources), len(configData.Controllers))

	if *dryRun {
		fmt.Println("DRY RUN - No changes will be made")
		printConfigSummary(configData)
		return
	}

	// Remove existing SQLite file if force is specified
	if *force {
		if err := os.Remove(*sqliteFile); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error removing existing SQLite file: %v\n", err)
			os.Exit(1)
		}
	}

	if err := os.MkdirAll(filepath.Dir(*sqliteFile), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating directory: %v\n", err)
		os.Exit(1)
	}

	sqliteProvider, err := config.NewSQLiteProvider(*sqliteFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating SQLite database: %v\n", err)
		os.Exit(1)
	}
	defer sqliteProvider.Close()

	if err := sqliteProvider.SaveConfig(configData); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration into SQLite: %v\n", err)
		os.Exit(1)
	}

	if *verify {
		stored, err := sqliteProvider.LoadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading configuration back: %v\n", err)
			os.Exit(1)
		}
		if diff := cmp.Diff(configData, stored, cmpopts.EquateEmpty()); diff != "" {
			fmt.Fprintf(os.Stderr, "✗ Stored configuration differs from YAML (-yaml +sqlite):\n%s", diff)
			os.Exit(1)
		}
		fmt.Println("✓ Stored configuration matches YAML")
	}

	fmt.Printf("Conversion completed successfully!\n")
	fmt.Printf("You can now use the SQLite backend with: -config-backend sqlite -config %s\n", *sqliteFile)
}

func printConfigSummary(configData *config.ConfigData) {
	fmt.Println("\nConfiguration Summary:")
	fmt.Printf("Sources (%d):\n", len(configData.Sources))
	for _, s := range configData.Sources {
		state := ""
		if s.Disabled {
			state = " [disabled]"
		}
		fmt.Printf("  - %s (%s, priority %d)%s\n", s.Name, s.Type, s.Priority, state)
	}

	fmt.Printf("\nStorage Backends:\n")
	if t := configData.Storage.TimescaleDB; t != nil {
		fmt.Printf("  - TimescaleDB: %s\n", t.ConnectionString)
	}
	if s := configData.Storage.SQLite; s != nil {
		fmt.Printf("  - SQLite: %s\n", s.Path)
	}
	if m := configData.Storage.MQTT; m != nil {
		fmt.Printf("  - MQTT: %s\n", m.Broker)
	}
	if s := configData.Storage.Serial; s != nil {
		fmt.Printf("  - Serial: %s\n", s.Device)
	}

	fmt.Printf("\nControllers (%d):\n", len(configData.Controllers))
	for _, controller := range configData.Controllers {
		fmt.Printf("  - %s\n", controller.Type)
	}
}

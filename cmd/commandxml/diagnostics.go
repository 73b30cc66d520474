package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mattjoyce/commandxml/internal/config"
	"github.com/mattjoyce/commandxml/internal/doctor"
	"github.com/mattjoyce/commandxml/internal/inspect"
	"github.com/mattjoyce/commandxml/internal/journal"
	"github.com/mattjoyce/commandxml/internal/storage"
)

func runDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.LoadOrDefaults(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}
	registry, err := buildRegistry(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build registry: %v\n", err)
		return 1
	}

	result := doctor.New(cfg, registry).Validate()
	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if *strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runInspect(args []string) int {
	flagArgs, positionals := splitArgs(args, "config")

	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(flagArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positionals) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: commandxml inspect <run-id> [--json] [--config PATH]")
		return 1
	}

	db, runs, code := openJournal(*configPath)
	if db == nil {
		return code
	}
	defer db.Close()

	var report string
	var err error
	if *jsonOut {
		report, err = inspect.BuildJSONReport(context.Background(), runs, positionals[0])
	} else {
		report, err = inspect.BuildReport(context.Background(), runs, positionals[0])
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}

	fmt.Print(report)
	if *jsonOut {
		fmt.Println()
	}
	return 0
}

func runRuns(args []string) int {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("limit", 20, "Maximum number of runs to list")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	db, j, code := openJournal(*configPath)
	if db == nil {
		return code
	}
	defer db.Close()

	runs, err := j.Recent(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list runs: %v\n", err)
		return 1
	}

	if *jsonOut {
		if runs == nil {
			runs = []journal.Run{}
		}
		data, err := json.MarshalIndent(runs, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return 0
	}
	for _, r := range runs {
		fmt.Printf("%s  %s  %-16s %-10s %s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Command, r.Mode, r.Status)
	}
	return 0
}

// openJournal returns a nil db and the exit code on failure.
func openJournal(configPath string) (*sql.DB, *journal.Journal, int) {
	cfg, err := config.LoadOrDefaults(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, nil, 1
	}
	if cfg.Journal.Path == "" {
		fmt.Fprintln(os.Stderr, "Journal is disabled (journal.path is empty)")
		return nil, nil, 1
	}
	if _, err := os.Stat(cfg.Journal.Path); err != nil {
		fmt.Fprintf(os.Stderr, "Journal not found at %s: %v\n", cfg.Journal.Path, err)
		return nil, nil, 1
	}

	db, err := storage.OpenSQLite(context.Background(), cfg.Journal.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open journal: %v\n", err)
		return nil, nil, 1
	}
	return db, journal.New(db), 0
}

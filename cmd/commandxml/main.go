package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/commandxml/internal/api"
	"github.com/mattjoyce/commandxml/internal/channel"
	"github.com/mattjoyce/commandxml/internal/command"
	"github.com/mattjoyce/commandxml/internal/config"
	"github.com/mattjoyce/commandxml/internal/dispatch"
	"github.com/mattjoyce/commandxml/internal/events"
	"github.com/mattjoyce/commandxml/internal/journal"
	"github.com/mattjoyce/commandxml/internal/lock"
	"github.com/mattjoyce/commandxml/internal/log"
	"github.com/mattjoyce/commandxml/internal/logring"
	"github.com/mattjoyce/commandxml/internal/storage"
	"github.com/mattjoyce/commandxml/internal/tui/watch"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "start":
		return runStart(args)
	case "init":
		return runInit(args)
	case "send":
		return runSend(args)
	case "status":
		return runStatus(args)
	case "commands":
		return runCommands(args)
	case "watch":
		return runWatch(args)
	case "doctor":
		return runDoctor(args)
	case "runs":
		return runRuns(args)
	case "inspect":
		return runInspect(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`commandxml - file-mediated command dispatcher

Usage:
  commandxml <action> [flags]

Actions:
  start                       Run the dispatch loop in the foreground
  init [--force]              Write a fresh channel document
  send <name> [key=value...]  Queue a command in the channel document
       [--task]               Run it as a background task
  status                      Print the channel status and console
  commands [--json]           List registered commands
  watch [--api URL]           Live TUI over the read-only API
  doctor [--json] [--strict]  Validate configuration and the channel
  runs [--limit N] [--json]   List recent journal runs
  inspect <run-id> [--json]   Report a run and its document batch
  version [--json]            Show version information
  help                        Show this help message

Every action except watch and version accepts --config PATH
(a config.yaml file or a directory containing one).
`)
}

// splitArgs separates flag tokens from positionals so flags may follow
// positional arguments. valueFlags lists flags that consume the next token.
func splitArgs(args []string, valueFlags ...string) (flags, positionals []string) {
	takesValue := make(map[string]bool, len(valueFlags))
	for _, f := range valueFlags {
		takesValue[f] = true
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			positionals = append(positionals, args[i+1:]...)
			break
		}
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			positionals = append(positionals, arg)
			continue
		}
		flags = append(flags, arg)
		name := strings.TrimLeft(arg, "-")
		if takesValue[name] && !strings.Contains(name, "=") && i+1 < len(args) {
			i++
			flags = append(flags, args[i])
		}
	}
	return flags, positionals
}

func buildRegistry(cfg *config.Config) (*command.Registry, error) {
	registry, err := command.Initiate(command.Builtins(command.BuiltinOptions{
		LongTask:        cfg.Builtins.LongTask,
		LongTaskCleanup: cfg.Builtins.LongTaskCleanup,
	}), nil, false)
	if err != nil {
		return nil, err
	}
	registry.Finalize(cfg.Service.SettleDelay)
	return registry, nil
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.LoadOrDefaults(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("commandxml starting", "version", version, "config", *configPath)

	channelPath := cfg.Channel.Path()
	if err := storage.CheckLocalFilesystem(channelPath, "channel document"); err != nil {
		logger.Error("channel location rejected", "path", channelPath, "error", err)
		return 1
	}

	chLock, err := lock.AcquireChannel(channelPath)
	if err != nil {
		logger.Error("failed to acquire channel lock (another reader may be running)", "path", lock.PathFor(channelPath), "error", err)
		return 1
	}
	defer chLock.Release()
	logger.Info("acquired channel lock", "path", chLock.Path())

	registry, err := buildRegistry(cfg)
	if err != nil {
		logger.Error("failed to build command registry", "error", err)
		return 1
	}
	logger.Info("command registry ready", "count", registry.Len())

	hub := events.NewHub(256)
	ring := logring.New(cfg.Channel.LogCapacity)
	store := channel.NewStore(channelPath, registry, ring).WithEvents(hub)
	if _, err := store.Load(); err != nil {
		logger.Error("failed to prepare channel", "path", channelPath, "error", err)
		return 1
	}

	opts := dispatch.Options{
		TickInterval: cfg.Service.TickInterval,
		SettleDelay:  cfg.Service.SettleDelay,
		Events:       hub,
	}

	var runs *journal.Journal
	if cfg.Journal.Path != "" {
		db, err := storage.OpenSQLite(context.Background(), cfg.Journal.Path)
		if err != nil {
			logger.Error("failed to open journal", "path", cfg.Journal.Path, "error", err)
			return 1
		}
		defer db.Close()
		runs = journal.New(db)
		opts.Recorder = runs
		logger.Info("journal opened", "path", cfg.Journal.Path)
	}

	disp := dispatch.New(store, registry, ring, opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)

	if cfg.API.Enabled {
		var lister api.RunLister
		if runs != nil {
			lister = runs
		}
		apiServer := api.New(api.Config{
			Listen:      cfg.API.Listen,
			ChannelPath: channelPath,
		}, disp, ring, registry, lister, hub, log.WithComponent("api"))

		apiCtx, stopAPI := context.WithCancel(context.Background())
		defer stopAPI()
		go func() {
			if err := apiServer.Start(apiCtx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	disp.Start(ctx)
	logger.Info("commandxml running (press Ctrl+C to stop)", "channel", channelPath)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		disp.Stop()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		disp.Stop()
	case <-disp.Done():
	}

	// A second signal abandons the cleanup phase.
	go func() {
		<-sigCh
		cancel()
	}()

	if err := disp.Wait(); err != nil {
		logger.Error("dispatcher stopped with error", "error", err)
		return 1
	}
	logger.Info("commandxml stopped")
	return 0
}

func runInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	force := fs.Bool("force", false, "Overwrite an existing channel document")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.LoadOrDefaults(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	path := cfg.Channel.Path()
	if _, err := os.Stat(path); err == nil && !*force {
		fmt.Fprintf(os.Stderr, "Channel already exists: %s (use --force to overwrite)\n", path)
		return 1
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build registry: %v\n", err)
		return 1
	}

	store := channel.NewStore(path, registry, logring.New(cfg.Channel.LogCapacity))
	if _, err := store.CreateFresh(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write channel: %v\n", err)
		return 1
	}
	fmt.Printf("Wrote %s\n", path)
	return 0
}

func runSend(args []string) int {
	flagArgs, positionals := splitArgs(args, "config")

	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	task := fs.Bool("task", false, "Run as a background task")
	if err := fs.Parse(flagArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if len(positionals) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: commandxml send <name> [key=value ...] [--task] [--config PATH]")
		return 1
	}

	name := positionals[0]
	attrs := make(map[string]string, len(positionals)-1)
	for _, kv := range positionals[1:] {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			fmt.Fprintf(os.Stderr, "Invalid attribute %q (want key=value)\n", kv)
			return 1
		}
		if key == channel.AttrName || key == channel.AttrTask {
			fmt.Fprintf(os.Stderr, "Attribute %q is reserved\n", key)
			return 1
		}
		attrs[key] = value
	}

	cfg, err := config.LoadOrDefaults(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	registry, err := buildRegistry(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build registry: %v\n", err)
		return 1
	}
	if _, ok := registry.Lookup(name); !ok {
		fmt.Fprintf(os.Stderr, "Warning: %s is not a registered command\n", name)
	}

	store := channel.NewStore(cfg.Channel.Path(), registry, logring.New(cfg.Channel.LogCapacity))
	if err := store.Submit(name, attrs, *task); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to queue command: %v\n", err)
		return 1
	}
	mode := "foreground"
	if *task {
		mode = "task"
	}
	fmt.Printf("Queued %s (%s)\n", name, mode)
	return 0
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.LoadOrDefaults(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	// Read-only: a broken channel is reported, not recreated.
	data, err := os.ReadFile(cfg.Channel.Path())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read channel: %v\n", err)
		return 1
	}
	doc, err := channel.Parse(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Channel is malformed: %v\n", err)
		return 1
	}

	fmt.Printf("Status: %s\n", doc.CurrentStatus())
	fmt.Printf("Pending: %d\n", len(doc.Pending()))
	fmt.Printf("Digest: %s\n", channel.Digest(data))
	fmt.Println("Console:")
	for _, line := range doc.Console.Lines {
		if line == logring.BlankLine {
			continue
		}
		fmt.Printf("  %s\n", line)
	}
	return 0
}

func runCommands(args []string) int {
	fs := flag.NewFlagSet("commands", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.LoadOrDefaults(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	registry, err := buildRegistry(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build registry: %v\n", err)
		return 1
	}

	entries := registry.Entries()
	if *jsonOut {
		type commandJSON struct {
			Name        string `json:"name"`
			Description string `json:"description,omitempty"`
			Attributes  string `json:"attributes,omitempty"`
			Foreground  bool   `json:"foreground"`
			Cleanup     bool   `json:"cleanup"`
		}
		out := make([]commandJSON, 0, len(entries))
		for _, e := range entries {
			out = append(out, commandJSON{
				Name:        e.Name,
				Description: e.Item.Description,
				Attributes:  e.Item.Schema.String(),
				Foreground:  e.Item.Foreground,
				Cleanup:     e.Item.Cleanup != nil,
			})
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	for _, e := range entries {
		line := e.Name
		if len(e.Item.Schema) > 0 {
			line += " (" + e.Item.Schema.String() + ")"
		}
		if e.Item.Description != "" {
			line += " - " + e.Item.Description
		}
		fmt.Println(line)
	}
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	apiURL := fs.String("api", "", "Dispatcher API URL (default: from config api.listen)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	url := *apiURL
	if url == "" {
		cfg, err := config.LoadOrDefaults(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		url = "http://" + cfg.API.Listen
	}

	if err := watch.Run(strings.TrimRight(url, "/")); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: commandxml version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("commandxml %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

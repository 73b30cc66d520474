package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/commandxml/internal/channel"
	"github.com/mattjoyce/commandxml/internal/journal"
	"github.com/mattjoyce/commandxml/internal/storage"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	require.NoError(t, err)
	stderrR, stderrW, err := os.Pipe()
	require.NoError(t, err)

	os.Stdout = stdoutW
	os.Stderr = stderrW

	stdoutC := make(chan []byte)
	stderrC := make(chan []byte)
	go func() { b, _ := io.ReadAll(stdoutR); stdoutC <- b }()
	go func() { b, _ := io.ReadAll(stderrR); stderrC <- b }()

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes := <-stdoutC
	stderrBytes := <-stderrC
	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

// writeConfig writes a config.yaml into a temp dir and returns its path.
func writeConfig(t *testing.T, journalEnabled bool) (string, string) {
	t.Helper()
	dir := t.TempDir()

	journalPath := ""
	if journalEnabled {
		journalPath = filepath.Join(dir, "journal.db")
	}
	cfg := fmt.Sprintf(`service:
  tick_interval: 10ms
  settle_delay: 1ms
  log_level: error
  log_format: text
channel:
  dir: %s
  file: Commands.xml
  log_capacity: 10
journal:
  path: %q
`, dir, journalPath)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path, dir
}

func loadChannel(t *testing.T, dir string) *channel.Document {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "Commands.xml"))
	require.NoError(t, err)
	doc, err := channel.Parse(data)
	require.NoError(t, err)
	return doc
}

func TestRunCLIUnknownCommand(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"frobnicate"})
	})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown command: frobnicate")
}

func TestRunCLIHelp(t *testing.T) {
	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"help"})
	})
	assert.Equal(t, 0, code)
	for _, action := range []string{"start", "init", "send", "status", "commands", "watch", "doctor", "runs", "inspect", "version"} {
		assert.Contains(t, stdout, "  "+action)
	}
}

func TestRunVersionJSONOutputIncludesMetadata(t *testing.T) {
	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"--version", "--json"})
	})
	require.Equal(t, 0, code)

	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Equal(t, version, info.Version)
	assert.NotEmpty(t, info.Commit)
}

func TestSplitArgs(t *testing.T) {
	flags, positionals := splitArgs([]string{"TestValidate", "alias=Bob", "--task", "--config", "x.yaml", "age=42"}, "config")
	assert.Equal(t, []string{"--task", "--config", "x.yaml"}, flags)
	assert.Equal(t, []string{"TestValidate", "alias=Bob", "age=42"}, positionals)

	flags, positionals = splitArgs([]string{"--config=x.yaml", "--", "--odd"}, "config")
	assert.Equal(t, []string{"--config=x.yaml"}, flags)
	assert.Equal(t, []string{"--odd"}, positionals)
}

func TestRunInitRefusesOverwriteWithoutForce(t *testing.T) {
	cfgPath, dir := writeConfig(t, false)

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"init", "--config", cfgPath})
	})
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "Commands.xml")

	doc := loadChannel(t, dir)
	assert.Equal(t, channel.StatusIdle, doc.CurrentStatus())
	assert.Contains(t, strings.Join(doc.Controls.Notes, "\n"), "Command:<SayHello>")

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"init", "--config", cfgPath})
	})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "--force")

	code, _, _ = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"init", "--config", cfgPath, "--force"})
	})
	assert.Equal(t, 0, code)
}

func TestRunSendQueuesCommands(t *testing.T) {
	cfgPath, dir := writeConfig(t, false)

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"send", "TestValidate", "alias=Bob", "age=42", "--config", cfgPath})
	})
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "Queued TestValidate (foreground)")

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"send", "Mystery", "--task", "--config", cfgPath})
	})
	require.Equal(t, 0, code)
	assert.Contains(t, stderr, "not a registered command")

	doc := loadChannel(t, dir)
	pending := doc.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "TestValidate", pending[0].Name())
	assert.Equal(t, "Bob", pending[0].Args().Get("alias"))
	assert.Equal(t, "Mystery", pending[1].Name())
	assert.True(t, pending[1].Task())
}

func TestRunSendRejectsBadAttributes(t *testing.T) {
	cfgPath, _ := writeConfig(t, false)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "missing name", args: []string{"send", "--config", cfgPath}, want: "Usage"},
		{name: "no equals", args: []string{"send", "SayHello", "loud", "--config", cfgPath}, want: "Invalid attribute"},
		{name: "reserved", args: []string{"send", "SayHello", "task=true", "--config", cfgPath}, want: "reserved"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := captureOutputWithExitCode(t, func() int {
				return runCLI(tt.args)
			})
			assert.Equal(t, 1, code)
			assert.Contains(t, stderr, tt.want)
		})
	}
}

func TestRunCommandsJSON(t *testing.T) {
	cfgPath, _ := writeConfig(t, false)

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"commands", "--json", "--config", cfgPath})
	})
	require.Equal(t, 0, code)

	var out []map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	require.Len(t, out, 5)
	assert.Equal(t, "SayHello", out[0]["name"])
	assert.Equal(t, "alias: string, age: int", out[3]["attributes"])
}

func TestRunStatusReportsMalformedChannel(t *testing.T) {
	cfgPath, dir := writeConfig(t, false)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Commands.xml"), []byte("<nope/>"), 0o644))

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"status", "--config", cfgPath})
	})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "malformed")
}

func TestRunStartProcessesUntilEnd(t *testing.T) {
	cfgPath, dir := writeConfig(t, true)

	for _, args := range [][]string{
		{"send", "SayHello", "--config", cfgPath},
		{"send", "TestValidate", "alias=Bob", "age=x", "--config", cfgPath},
		{"send", "End", "--config", cfgPath},
	} {
		code, _, stderr := captureOutputWithExitCode(t, func() int { return runCLI(args) })
		require.Equal(t, 0, code, stderr)
	}

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"start", "--config", cfgPath})
	})
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Hello World")

	doc := loadChannel(t, dir)
	assert.Empty(t, doc.Pending())
	console := strings.Join(doc.Console.Lines, "\n")
	assert.Contains(t, console, "Finished Command SayHello")
	assert.Contains(t, console, "Could not validate value types:")
	assert.Contains(t, console, "Finished Command End")

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(dir, "journal.db"))
	require.NoError(t, err)
	defer db.Close()
	n, err := journal.New(db).Count(context.Background(), "SayHello")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"status", "--config", cfgPath})
	})
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "Pending: 0")
	assert.Contains(t, stdout, "Finished Command SayHello")
}

package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/commandxml/internal/journal"
	"github.com/mattjoyce/commandxml/internal/storage"
)

func seedJournal(t *testing.T) (*journal.Journal, string) {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	j := journal.New(db)
	ctx := context.Background()
	base := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	if _, err := j.Record(ctx, journal.Run{
		Command: "SayHello", Mode: journal.ModeForeground, Status: journal.StatusSucceeded,
		DocDigest: "d1", StartedAt: base, FinishedAt: base.Add(5 * time.Millisecond),
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	failedID, err := j.Record(ctx, journal.Run{
		Command: "ThrowError", Mode: journal.ModeForeground, Status: journal.StatusFailed,
		Error: "panic: ThrowError handler failed", DocDigest: "d1",
		StartedAt: base.Add(time.Second), FinishedAt: base.Add(time.Second + 2*time.Millisecond),
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := j.Record(ctx, journal.Run{
		Command: "End", Mode: journal.ModeForeground, Status: journal.StatusSucceeded,
		DocDigest: "d2", StartedAt: base.Add(time.Minute), FinishedAt: base.Add(time.Minute),
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	return j, failedID
}

func TestBuildReportRendersRunAndBatch(t *testing.T) {
	t.Parallel()
	j, failedID := seedJournal(t)

	out, err := BuildReport(context.Background(), j, failedID)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}

	for _, want := range []string{
		"Run ID      : " + failedID,
		"Command     : ThrowError",
		"Status      : failed",
		"  panic: ThrowError handler failed",
		"Same document (2 run(s)):",
		"\n  [1] SayHello",
		"> [2] ThrowError",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "End") {
		t.Fatalf("report includes a run from another document:\n%s", out)
	}
}

func TestBuildJSONReport(t *testing.T) {
	t.Parallel()
	j, failedID := seedJournal(t)

	out, err := BuildJSONReport(context.Background(), j, failedID)
	if err != nil {
		t.Fatalf("BuildJSONReport: %v", err)
	}

	var report Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if report.DurationMS != 2 {
		t.Fatalf("duration = %d, want 2", report.DurationMS)
	}
	if len(report.Batch) != 2 || !report.Batch[1].Current {
		t.Fatalf("unexpected batch %+v", report.Batch)
	}
}

func TestBuildReportUnknownRun(t *testing.T) {
	t.Parallel()
	j, _ := seedJournal(t)

	_, err := BuildReport(context.Background(), j, "missing")
	if !errors.Is(err, journal.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := BuildReport(context.Background(), j, " "); err == nil {
		t.Fatal("expected error for empty run id")
	}
}

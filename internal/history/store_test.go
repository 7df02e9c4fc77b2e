package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bgricker/stagerun/internal/report"
)

func summaryAt(start time.Time, entries ...report.Entry) report.Summary {
	s := report.Summary{InputsDir: "Examples", LogsDir: "test_logs", StartedAt: start, Duration: 2 * time.Second}
	for _, e := range entries {
		s.Add(e)
	}
	return s
}

func TestStore_RecordAndList(t *testing.T) {
	store, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	first, err := store.RecordRun(ctx, summaryAt(base,
		report.Entry{Name: "01_hello", Outcome: report.OutcomeOK},
		report.Entry{Name: "02_loop", Outcome: report.OutcomeGCCFailed, LogPath: "test_logs/02_loop.log"},
	))
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.RecordRun(ctx, summaryAt(base.Add(time.Hour),
		report.Entry{Name: "01_hello", Outcome: report.OutcomeOK},
		report.Entry{Name: "02_loop", Outcome: report.OutcomeOK},
	))
	if err != nil {
		t.Fatal(err)
	}

	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	if runs[0].ID != second || runs[1].ID != first {
		t.Errorf("runs not newest first: %+v", runs)
	}
	if runs[1].Passed != 1 || runs[1].Failed != 1 || runs[1].DurationMS != 2000 {
		t.Errorf("counters = %+v", runs[1])
	}
	if !runs[1].StartedAt.Equal(base) {
		t.Errorf("StartedAt = %v, want %v", runs[1].StartedAt, base)
	}

	limited, err := store.ListRuns(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limited runs = %d, want 1", len(limited))
	}

	entries, err := store.Entries(ctx, first)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[1].Name != "02_loop" || entries[1].Outcome != report.OutcomeGCCFailed {
		t.Errorf("entries = %+v", entries)
	}
	if entries[1].LogPath != "test_logs/02_loop.log" {
		t.Errorf("LogPath = %q", entries[1].LogPath)
	}

	outcome, ok, err := store.LastOutcome(ctx, "02_loop")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || outcome != report.OutcomeOK {
		t.Errorf("LastOutcome = %q, %v", outcome, ok)
	}
	if _, ok, _ := store.LastOutcome(ctx, "99_none"); ok {
		t.Errorf("unexpected outcome for unknown input")
	}
}

func TestStore_UnknownRun(t *testing.T) {
	store, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := store.Entries(context.Background(), "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("err = %v, want ErrRunNotFound", err)
	}
}

func TestStore_FileDatabasePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	store, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	id, err := store.RecordRun(context.Background(), summaryAt(time.Now(), report.Entry{Name: "01_hello", Outcome: report.OutcomeOK}))
	if err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	runs, err := reopened.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != id {
		t.Fatalf("runs = %+v, want %s", runs, id)
	}
}

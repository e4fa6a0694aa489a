package joblog

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(context.Background(), filepath.Join(t.TempDir(), "render.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRecordAndRecent(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, e := range []Entry{
		{JobID: "job-1", Status: StatusSucceeded, Bytes: 1200, DurationMs: 45},
		{JobID: "job-2", Status: StatusFailed, Kind: "render_failure", Error: "missing font", DurationMs: 12},
		{JobID: "job-3", Status: StatusSucceeded, Bytes: 900, DurationMs: 30},
	} {
		e.SubmittedAt = now.Add(time.Duration(i) * time.Second).Format(time.RFC3339Nano)
		e.CompletedAt = now.Add(time.Duration(i)*time.Second + 100*time.Millisecond).Format(time.RFC3339Nano)
		if err := l.Record(ctx, e); err != nil {
			t.Fatalf("Record(%s): %v", e.JobID, err)
		}
	}

	entries, err := l.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].JobID != "job-3" || entries[1].JobID != "job-2" {
		t.Errorf("order = %s, %s; want job-3, job-2", entries[0].JobID, entries[1].JobID)
	}
	if entries[1].Kind != "render_failure" || entries[1].Error != "missing font" {
		t.Errorf("failure entry = %+v", entries[1])
	}
}

func TestRecordUpsertsSameJob(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()
	ts := time.Now().UTC().Format(time.RFC3339Nano)

	if err := l.Record(ctx, Entry{JobID: "job-1", Status: StatusFailed, Kind: "timeout", SubmittedAt: ts, CompletedAt: ts}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := l.Record(ctx, Entry{JobID: "job-1", Status: StatusSucceeded, Bytes: 512, SubmittedAt: ts, CompletedAt: ts}); err != nil {
		t.Fatalf("Record upsert: %v", err)
	}

	entries, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if entries[0].Status != StatusSucceeded || entries[0].Bytes != 512 {
		t.Errorf("entry = %+v, want succeeded with 512 bytes", entries[0])
	}
}

func TestRecordValidation(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	if err := l.Record(ctx, Entry{Status: StatusSucceeded}); err == nil {
		t.Error("Record with empty job id succeeded, want error")
	}
	if err := l.Record(ctx, Entry{JobID: "job-1", Status: "running"}); err == nil {
		t.Error("Record with non-terminal status succeeded, want error")
	}
}

func TestRecordTruncatesLongError(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()
	ts := time.Now().UTC().Format(time.RFC3339Nano)

	long := strings.Repeat("x", maxErrorBytes+100)
	if err := l.Record(ctx, Entry{JobID: "job-1", Status: StatusFailed, Error: long, SubmittedAt: ts, CompletedAt: ts}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries, err := l.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if got := len(entries[0].Error); got != maxErrorBytes {
		t.Errorf("stored error length = %d, want %d", got, maxErrorBytes)
	}
}

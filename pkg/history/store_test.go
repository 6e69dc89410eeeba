package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lakedeploy/lakedeploy/pkg/deploy"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testReport(runID string) *deploy.Report {
	return &deploy.Report{
		RunID:        runID,
		Environment:  "production",
		AppName:      "demo",
		DeployAction: deploy.ActionCreateApp,
		StartedAt:    time.Now(),
		Phases: []deploy.PhaseResult{
			{Phase: deploy.PhaseConfig, Action: deploy.ActionUnchanged, Detail: "validated"},
			{Phase: deploy.PhaseBuild, Action: deploy.ActionCreated, Duration: 2 * time.Second},
			{Phase: deploy.PhaseApp, Action: deploy.ActionCreated, Detail: "https://demo.apps.fake"},
		},
	}
}

func TestRecordAndList(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.RecordRun(ctx, testReport("run-1")); err != nil {
		t.Fatalf("record: %v", err)
	}

	records, err := s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.ID != "run-1" || rec.AppName != "demo" || rec.Action != deploy.ActionCreateApp {
		t.Errorf("unexpected record: %+v", rec)
	}
	if !rec.Succeeded {
		t.Error("expected succeeded run")
	}
	if len(rec.Phases) != 3 {
		t.Errorf("expected 3 phase rows, got %d", len(rec.Phases))
	}
}

func TestRecord_FailedRunKeepsError(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	report := testReport("run-2")
	report.Phases[2].Err = deploy.NewPermanentError("app deployment reached FAILED", nil).
		WithCode(deploy.CodeAppFailed)

	if err := s.RecordRun(ctx, report); err != nil {
		t.Fatalf("record: %v", err)
	}
	records, err := s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if records[0].Succeeded {
		t.Error("expected failed run")
	}
	if records[0].Error == "" {
		t.Error("expected error text recorded")
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	older := testReport("run-old")
	older.StartedAt = time.Now().Add(-time.Hour)
	if err := s.RecordRun(ctx, older); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.RecordRun(ctx, testReport("run-new")); err != nil {
		t.Fatalf("record: %v", err)
	}

	records, err := s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if records[0].ID != "run-new" || records[1].ID != "run-old" {
		t.Errorf("expected newest first, got %s then %s", records[0].ID, records[1].ID)
	}
}

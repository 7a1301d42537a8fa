package stats

import (
	"context"
	"errors"
	"testing"

	"binsim/internal/model"
)

func TestMemoryTaskRecords(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	recs, err := m.ListTaskRecords(ctx, "run1")
	if err != nil || len(recs) != 0 {
		t.Fatalf("empty run: %v %v", recs, err)
	}

	a := model.TaskRecord{TaskID: "t1", BinID: "bin01", TruckID: "truck01", AnnouncedAt: 4, AwardedAt: 6, CompletedAt: 8, ActualCost: 3}
	b := model.TaskRecord{TaskID: "t2", BinID: "bin02", AnnouncedAt: 5, Expired: true}
	if err := m.SaveTaskRecord(ctx, "run1", a); err != nil {
		t.Fatal(err)
	}
	if err := m.SaveTaskRecord(ctx, "run1", b); err != nil {
		t.Fatal(err)
	}
	if err := m.SaveTaskRecord(ctx, "run2", a); err != nil {
		t.Fatal(err)
	}

	recs, _ = m.ListTaskRecords(ctx, "run1")
	if len(recs) != 2 {
		t.Fatalf("want 2 records, got %d", len(recs))
	}
	if recs[0].TaskID != "t1" || recs[1].TaskID != "t2" {
		t.Fatalf("arrival order lost: %+v", recs)
	}

	// the returned slice is a copy
	recs[0].TaskID = "mutated"
	fresh, _ := m.ListTaskRecords(ctx, "run1")
	if fresh[0].TaskID != "t1" {
		t.Fatal("ListTaskRecords exposed internal state")
	}
}

func TestMemoryRunSummaries(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.GetRunSummary(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	s1 := model.RunSummary{RunID: "run1", Seed: 8, Ticks: 168, CompletedTasks: 10}
	s2 := model.RunSummary{RunID: "run2", Seed: 9, Ticks: 168, CompletedTasks: 12}
	if err := m.SaveRunSummary(ctx, s1); err != nil {
		t.Fatal(err)
	}
	if err := m.SaveRunSummary(ctx, s2); err != nil {
		t.Fatal(err)
	}

	got, err := m.GetRunSummary(ctx, "run1")
	if err != nil || got.CompletedTasks != 10 {
		t.Fatalf("get: %+v %v", got, err)
	}

	// overwrite keeps a single entry
	s1.CompletedTasks = 11
	if err := m.SaveRunSummary(ctx, s1); err != nil {
		t.Fatal(err)
	}
	runs, err := m.ListRuns(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("want 2 runs, got %d", len(runs))
	}
	// newest first
	if runs[0].RunID != "run2" || runs[1].RunID != "run1" {
		t.Fatalf("order: %+v", runs)
	}
	if runs[1].CompletedTasks != 11 {
		t.Fatalf("overwrite lost: %+v", runs[1])
	}

	one, _ := m.ListRuns(ctx, 1)
	if len(one) != 1 || one[0].RunID != "run2" {
		t.Fatalf("limit: %+v", one)
	}
}

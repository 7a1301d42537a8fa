package sim

import (
	"context"
	"encoding/json"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"binsim/internal/config"
	"binsim/internal/stats"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Simulation.Days = 3
	return cfg
}

func TestPlaceBinsRespectsConstraints(t *testing.T) {
	cfg := config.Default()
	cfg.Agents.Counts.Bins = 8
	positions, err := placeBins(cfg, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("placeBins: %v", err)
	}
	if len(positions) != 8 {
		t.Fatalf("want 8 bins, got %d", len(positions))
	}
	depot := cfg.Locations.Depot.Pos()
	for i, p := range positions {
		if p.X < 0 || p.Y < 0 || p.X >= cfg.Grid.Size || p.Y >= cfg.Grid.Size {
			t.Fatalf("bin %d off grid: %v", i, p)
		}
		if p == depot {
			t.Fatalf("bin %d on depot", i)
		}
		for _, s := range cfg.Locations.FuelStations {
			if p == s.Pos() {
				t.Fatalf("bin %d on fuel station %v", i, p)
			}
		}
		for j := 0; j < i; j++ {
			if p.ChebyshevTo(positions[j]) < cfg.Agents.Bin.MinDistance {
				t.Fatalf("bins %d and %d too close: %v %v", i, j, p, positions[j])
			}
		}
	}
}

func TestPlaceBinsImpossible(t *testing.T) {
	cfg := config.Default()
	cfg.Grid.Size = 3
	cfg.Locations.Depot = config.Site{Position: [2]int{1, 1}}
	cfg.Locations.FuelStations = []config.Site{{Position: [2]int{0, 0}}}
	cfg.Agents.Counts.Bins = 9
	cfg.Agents.Bin.MinDistance = 2
	if _, err := placeBins(cfg, rand.New(rand.NewSource(1))); err == nil {
		t.Fatal("expected placement error on an overcrowded grid")
	}
}

func TestStepMaintainsInvariants(t *testing.T) {
	cfg := testConfig()
	m, err := New(cfg, stats.NewMemory(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.start(ctx)
	defer m.wg.Wait()
	defer cancel()

	for i := int64(0); i < cfg.TotalTicks(); i++ {
		if err := m.Step(); err != nil {
			t.Fatalf("tick %d: %v", i+1, err)
		}
		snap, ok := m.Latest()
		if !ok {
			t.Fatal("no snapshot after step")
		}
		if snap.Tick != i+1 {
			t.Fatalf("snapshot tick: want %d, got %d", i+1, snap.Tick)
		}
		if len(snap.Bins) != cfg.Agents.Counts.Bins || len(snap.Trucks) != cfg.Agents.Counts.Trucks {
			t.Fatalf("snapshot population: %d bins, %d trucks", len(snap.Bins), len(snap.Trucks))
		}
		for _, b := range snap.Bins {
			if b.Fill < 0 || b.Fill > b.Capacity {
				t.Fatalf("tick %d: bin %s fill %v out of range", i+1, b.ID, b.Fill)
			}
		}
		for _, tr := range snap.Trucks {
			if tr.Fuel < 0 {
				t.Fatalf("tick %d: truck %s negative fuel %v", i+1, tr.ID, tr.Fuel)
			}
			if tr.Load > tr.Capacity {
				t.Fatalf("tick %d: truck %s overloaded %v", i+1, tr.ID, tr.Load)
			}
			if tr.Position.X < 0 || tr.Position.Y < 0 || tr.Position.X >= cfg.Grid.Size || tr.Position.Y >= cfg.Grid.Size {
				t.Fatalf("tick %d: truck %s off grid %v", i+1, tr.ID, tr.Position)
			}
		}
	}
}

func TestRunProducesActivity(t *testing.T) {
	cfg := testConfig()
	store := stats.NewMemory()
	m, err := New(cfg, store, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	summary, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Ticks != cfg.TotalTicks() {
		t.Fatalf("ticks: want %d, got %d", cfg.TotalTicks(), summary.Ticks)
	}
	if summary.CompletedTasks == 0 {
		t.Fatal("expected completed collections over 3 simulated days")
	}
	if summary.WasteCollected <= 0 || summary.WasteGenerated <= 0 {
		t.Fatalf("waste totals: %+v", summary)
	}
	if summary.WasteCollected > summary.WasteGenerated {
		t.Fatalf("collected more than generated: %+v", summary)
	}
	if summary.TotalTasks != summary.CompletedTasks+summary.ExpiredTasks {
		t.Fatalf("task totals inconsistent: %+v", summary)
	}
	if summary.TotalDistance <= 0 || summary.FuelConsumed <= 0 {
		t.Fatalf("movement totals: %+v", summary)
	}

	recs, err := store.ListTaskRecords(context.Background(), m.RunID())
	if err != nil {
		t.Fatalf("ListTaskRecords: %v", err)
	}
	if len(recs) != summary.TotalTasks {
		t.Fatalf("persisted %d records, summary says %d", len(recs), summary.TotalTasks)
	}
	saved, err := store.GetRunSummary(context.Background(), m.RunID())
	if err != nil {
		t.Fatalf("GetRunSummary: %v", err)
	}
	if !reflect.DeepEqual(saved, summary) {
		t.Fatalf("stored summary differs:\n%+v\n%+v", saved, summary)
	}
}

func TestRunIsDeterministicForSeed(t *testing.T) {
	run := func() (s1 any, snapJSON string) {
		cfg := testConfig()
		m, err := New(cfg, stats.NewMemory(), nil)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		summary, err := m.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		summary.RunID = ""
		snap, _ := m.Latest()
		snap.RunID = ""
		data, _ := json.Marshal(snap)
		return summary, string(data)
	}
	sumA, snapA := run()
	sumB, snapB := run()
	if !reflect.DeepEqual(sumA, sumB) {
		t.Fatalf("summaries diverge:\n%+v\n%+v", sumA, sumB)
	}
	if snapA != snapB {
		t.Fatalf("final snapshots diverge:\n%s\n%s", snapA, snapB)
	}
}

func TestRunDiffersAcrossSeeds(t *testing.T) {
	run := func(seed int64) string {
		cfg := testConfig()
		cfg.Simulation.Seed = seed
		m, err := New(cfg, stats.NewMemory(), nil)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := m.Run(context.Background()); err != nil {
			t.Fatalf("Run: %v", err)
		}
		snap, _ := m.Latest()
		snap.RunID = ""
		data, _ := json.Marshal(snap)
		return string(data)
	}
	if run(8) == run(9) {
		t.Fatal("different seeds produced identical runs")
	}
}

func TestRunStopsOnMidRunCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Simulation.Days = 3650 // long enough to still be running when canceled
	m, err := New(cfg, stats.NewMemory(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Run(ctx)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after mid-run cancellation")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	m, err := New(cfg, stats.NewMemory(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := m.Run(ctx)
	if err != nil {
		t.Fatalf("Run after cancel: %v", err)
	}
	if summary.Ticks != 0 {
		t.Fatalf("cancelled run should not tick, got %d", summary.Ticks)
	}
}

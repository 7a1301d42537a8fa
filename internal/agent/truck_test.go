package agent

import (
	"math"
	"testing"

	"binsim/internal/config"
	"binsim/internal/env"
	"binsim/internal/model"
	"binsim/internal/protocol"
)

// default truck: speed 3, waste 200/0.8, fuel 100/0.5 per cell/reserve 20
func testTruck(cfg *config.Config, e *env.Environment, out *outbox) *Truck {
	return NewTruck("truck01", e, cfg.Agents.Truck, 1, out.send)
}

func announceMsg(taskID string, pos model.Position, amount float64, now int64) protocol.Message {
	return protocol.Message{Kind: protocol.KindAnnounce, From: "bin01", To: "truck01", TaskID: taskID, Position: pos, Amount: amount, Tick: now}
}

func awardMsg(taskID string, pos model.Position, amount float64, now int64) protocol.Message {
	return protocol.Message{Kind: protocol.KindAward, From: "bin01", To: "truck01", TaskID: taskID, Position: pos, Amount: amount, Tick: now}
}

func TestTruckBidsBaseCost(t *testing.T) {
	cfg := quietConfig()
	e := env.New(cfg)
	out := &outbox{}
	tr := testTruck(cfg, e, out)

	// empty truck at the depot (5,5), bin 3 cells away, off-peak
	tr.Handle(announceMsg("t1", model.Position{X: 5, Y: 8}, 50, 0))
	bids := out.byKind(protocol.KindBid)
	if len(bids) != 1 {
		t.Fatalf("want 1 bid, got %d (%+v)", len(bids), out.msgs)
	}
	if bids[0].Cost != 3 {
		t.Fatalf("bid cost: want 3, got %v", bids[0].Cost)
	}
	if tr.View().Status != "bidding" {
		t.Fatalf("status: %s", tr.View().Status)
	}
}

func TestTruckBidIncludesDepotLegAndLoadFactor(t *testing.T) {
	cfg := quietConfig()
	e := env.New(cfg)
	out := &outbox{}
	tr := testTruck(cfg, e, out)
	tr.load = 120

	// 120 + 50 = 170 >= 160: the depot leg is part of the mission.
	// cost = (3 + 3) * (1 + 120/200) = 9.6
	tr.Handle(announceMsg("t1", model.Position{X: 5, Y: 8}, 50, 0))
	bids := out.byKind(protocol.KindBid)
	if len(bids) != 1 {
		t.Fatalf("want 1 bid, got %d", len(bids))
	}
	if math.Abs(bids[0].Cost-9.6) > 1e-9 {
		t.Fatalf("bid cost: want 9.6, got %v", bids[0].Cost)
	}
}

func TestTruckDeclines(t *testing.T) {
	cfg := quietConfig()
	e := env.New(cfg)

	t.Run("capacity", func(t *testing.T) {
		out := &outbox{}
		tr := testTruck(cfg, e, out)
		tr.load = 180
		tr.Handle(announceMsg("t1", model.Position{X: 5, Y: 8}, 50, 0))
		nb := out.byKind(protocol.KindNoBid)
		if len(nb) != 1 || nb[0].Reason != "capacity_full" {
			t.Fatalf("no-bid: %+v", out.msgs)
		}
	})
	t.Run("low fuel", func(t *testing.T) {
		out := &outbox{}
		tr := testTruck(cfg, e, out)
		tr.fuel = 15 // at or below the 20 unit reserve
		tr.Handle(announceMsg("t1", model.Position{X: 5, Y: 8}, 50, 0))
		nb := out.byKind(protocol.KindNoBid)
		if len(nb) != 1 || nb[0].Reason != "low_fuel" {
			t.Fatalf("no-bid: %+v", out.msgs)
		}
	})
	t.Run("busy", func(t *testing.T) {
		out := &outbox{}
		tr := testTruck(cfg, e, out)
		tr.Handle(announceMsg("t1", model.Position{X: 5, Y: 8}, 50, 0))
		tr.Handle(awardMsg("t1", model.Position{X: 5, Y: 8}, 50, 0))
		out.reset()
		tr.Handle(announceMsg("t2", model.Position{X: 2, Y: 2}, 30, 1))
		nb := out.byKind(protocol.KindNoBid)
		if len(nb) != 1 || nb[0].Reason != "busy" {
			t.Fatalf("no-bid: %+v", out.msgs)
		}
	})
	t.Run("broken down", func(t *testing.T) {
		out := &outbox{}
		tr := testTruck(cfg, e, out)
		tr.status = model.TruckBrokenDown
		tr.Handle(announceMsg("t1", model.Position{X: 5, Y: 8}, 50, 0))
		nb := out.byKind(protocol.KindNoBid)
		if len(nb) != 1 || nb[0].Reason != "broken_down" {
			t.Fatalf("no-bid: %+v", out.msgs)
		}
	})
}

func TestTruckMissionLifecycle(t *testing.T) {
	cfg := quietConfig()
	e := env.New(cfg)
	out := &outbox{}
	tr := testTruck(cfg, e, out)

	tr.Handle(announceMsg("t1", model.Position{X: 5, Y: 8}, 50, 0))
	tr.Handle(awardMsg("t1", model.Position{X: 5, Y: 8}, 50, 0))
	if tr.View().Status != "en_route_to_bin" {
		t.Fatalf("status after award: %s", tr.View().Status)
	}

	tick(tr, 1) // speed 3 covers the 3 cells
	if tr.View().Position != (model.Position{X: 5, Y: 8}) {
		t.Fatalf("position: %v", tr.View().Position)
	}
	arr := out.byKind(protocol.KindArrive)
	if len(arr) != 1 || arr[0].To != "bin01" {
		t.Fatalf("arrive: %+v", arr)
	}
	if tr.View().Status != "collecting" {
		t.Fatalf("status: %s", tr.View().Status)
	}

	tick(tr, 2) // one tick of service time
	comp := out.byKind(protocol.KindComplete)
	if len(comp) != 1 {
		t.Fatalf("complete: %+v", out.msgs)
	}
	if comp[0].Amount != 50 || comp[0].Cost != 3 {
		t.Fatalf("complete payload: %+v", comp[0])
	}
	v := tr.View()
	if v.Load != 50 || v.Status != "idle" {
		t.Fatalf("after collect: %+v", v)
	}
	if v.Fuel != 100-3*0.5 {
		t.Fatalf("fuel: %v", v.Fuel)
	}
	dist, fuelUsed, collections, collected, _, _, _ := tr.Stats()
	if dist != 3 || fuelUsed != 1.5 || collections != 1 || collected != 50 {
		t.Fatalf("stats: dist=%v fuel=%v n=%d waste=%v", dist, fuelUsed, collections, collected)
	}
	if err := tr.Err(); err != nil {
		t.Fatalf("invariant: %v", err)
	}
}

func TestTruckExecutionCostReflectsTrafficDrift(t *testing.T) {
	cfg := quietConfig()
	e := env.New(cfg)
	out := &outbox{}
	tr := testTruck(cfg, e, out)

	for e.Hour() < 6 {
		e.Step()
	}
	tr.Handle(announceMsg("t1", model.Position{X: 5, Y: 8}, 50, e.Now()))
	if bids := out.byKind(protocol.KindBid); bids[0].Cost != 3 {
		t.Fatalf("off-peak bid: want 3, got %v", bids[0].Cost)
	}

	e.Step() // hour 7, morning rush multiplier 1.5
	tr.Handle(awardMsg("t1", model.Position{X: 5, Y: 8}, 50, e.Now()))
	tick(tr, e.Now()+1)
	tick(tr, e.Now()+2)
	comp := out.byKind(protocol.KindComplete)
	if len(comp) != 1 {
		t.Fatalf("complete: %+v", out.msgs)
	}
	// execution cost is priced at travel start, under rush traffic
	if comp[0].Cost != 4.5 {
		t.Fatalf("actual cost: want 4.5, got %v", comp[0].Cost)
	}
}

func TestTruckDuplicateAndLateAwards(t *testing.T) {
	cfg := quietConfig()
	e := env.New(cfg)
	out := &outbox{}
	tr := testTruck(cfg, e, out)

	tr.Handle(announceMsg("t1", model.Position{X: 5, Y: 8}, 50, 0))
	tr.Handle(awardMsg("t1", model.Position{X: 5, Y: 8}, 50, 0))
	out.reset()

	// duplicate award for the running mission: silently ignored
	tr.Handle(awardMsg("t1", model.Position{X: 5, Y: 8}, 50, 1))
	if len(out.msgs) != 0 {
		t.Fatalf("duplicate award produced messages: %+v", out.msgs)
	}
	// award for a task the truck never bid on: ignored
	tr.Handle(awardMsg("t9", model.Position{X: 2, Y: 2}, 30, 1))
	if len(out.msgs) != 0 {
		t.Fatalf("unknown award produced messages: %+v", out.msgs)
	}
}

func TestTruckAwardParametersComeFromBid(t *testing.T) {
	cfg := quietConfig()
	e := env.New(cfg)
	out := &outbox{}
	tr := testTruck(cfg, e, out)

	tr.Handle(announceMsg("t1", model.Position{X: 5, Y: 8}, 50, 0))
	// an award carrying a mangled position and amount must not redirect the
	// mission: the truck committed to what it bid on
	tr.Handle(awardMsg("t1", model.Position{X: 0, Y: 0}, 999, 0))
	tick(tr, 1)
	if tr.View().Position != (model.Position{X: 5, Y: 8}) {
		t.Fatalf("truck followed the award payload, not its bid: %v", tr.View().Position)
	}
	tick(tr, 2)
	comp := out.byKind(protocol.KindComplete)
	if len(comp) != 1 || comp[0].Amount != 50 {
		t.Fatalf("collected amount should come from the bid: %+v", comp)
	}
	if err := tr.Err(); err != nil {
		t.Fatalf("invariant: %v", err)
	}
}

func TestTruckAwardWhileBusyFails(t *testing.T) {
	cfg := quietConfig()
	e := env.New(cfg)
	out := &outbox{}
	tr := testTruck(cfg, e, out)

	// bid on two tasks, win both; the second award must be refused
	tr.Handle(announceMsg("t1", model.Position{X: 5, Y: 8}, 50, 0))
	tr.Handle(announceMsg("t2", model.Position{X: 2, Y: 2}, 30, 0))
	tr.Handle(awardMsg("t1", model.Position{X: 5, Y: 8}, 50, 0))
	out.reset()
	tr.Handle(awardMsg("t2", model.Position{X: 2, Y: 2}, 30, 0))
	fails := out.byKind(protocol.KindFailure)
	if len(fails) != 1 || fails[0].Reason != "busy" || fails[0].TaskID != "t2" {
		t.Fatalf("failure: %+v", out.msgs)
	}
}

func TestTruckMalfunctionOnAward(t *testing.T) {
	cfg := quietConfig()
	cfg.Agents.Truck.Malfunction.Probability = 1
	e := env.New(cfg)
	out := &outbox{}
	tr := testTruck(cfg, e, out)

	tr.Handle(announceMsg("t1", model.Position{X: 5, Y: 8}, 50, 10))
	tr.Handle(awardMsg("t1", model.Position{X: 5, Y: 8}, 50, 10))
	fails := out.byKind(protocol.KindFailure)
	if len(fails) != 1 || fails[0].Reason != "malfunction" {
		t.Fatalf("failure: %+v", out.msgs)
	}
	v := tr.View()
	if v.Status != "broken_down" {
		t.Fatalf("status: %s", v.Status)
	}
	if v.Position != e.Depot() {
		t.Fatalf("broken truck should sit at the depot, got %v", v.Position)
	}

	// repair window is 2-4 ticks; by tick 15 the truck is back
	for now := int64(11); now <= 15; now++ {
		tick(tr, now)
	}
	if tr.View().Status != "idle" {
		t.Fatalf("status after repair: %s", tr.View().Status)
	}
	_, _, _, _, _, _, malfs := tr.Stats()
	if malfs != 1 {
		t.Fatalf("malfunctions: %d", malfs)
	}
}

func TestTruckRefuelsBeforeMissionWhenLow(t *testing.T) {
	cfg := quietConfig()
	e := env.New(cfg)
	out := &outbox{}
	tr := testTruck(cfg, e, out)

	tr.Handle(announceMsg("t1", model.Position{X: 5, Y: 8}, 50, 0))
	// fuel drops after bidding; enough to reach a station (6 cells to (8,8)
	// costs 3) but under the reserve
	tr.fuel = 4
	tr.Handle(awardMsg("t1", model.Position{X: 5, Y: 8}, 50, 0))
	if tr.View().Status != "refueling" {
		t.Fatalf("status: %s", tr.View().Status)
	}

	tick(tr, 1)
	tick(tr, 2) // reaches (8,8), tanks up, resumes toward the bin
	v := tr.View()
	if v.Fuel != 100 {
		t.Fatalf("fuel after refuel: %v", v.Fuel)
	}
	if v.Status != "en_route_to_bin" {
		t.Fatalf("status: %s", v.Status)
	}
	tick(tr, 3) // (8,8) -> (5,8)
	if len(out.byKind(protocol.KindArrive)) != 1 {
		t.Fatalf("arrive: %+v", out.msgs)
	}
	tick(tr, 4)
	if len(out.byKind(protocol.KindComplete)) != 1 {
		t.Fatalf("complete: %+v", out.msgs)
	}
	_, _, _, _, refuels, _, _ := tr.Stats()
	if refuels != 1 {
		t.Fatalf("refuels: %d", refuels)
	}
}

func TestTruckReturnsToDepotWhenLoadCrossesThreshold(t *testing.T) {
	cfg := quietConfig()
	e := env.New(cfg)
	out := &outbox{}
	tr := testTruck(cfg, e, out)
	tr.load = 120

	tr.Handle(announceMsg("t1", model.Position{X: 5, Y: 8}, 50, 0))
	tr.Handle(awardMsg("t1", model.Position{X: 5, Y: 8}, 50, 0))
	tick(tr, 1) // arrive
	tick(tr, 2) // collect: load 170 >= 160
	if tr.View().Status != "en_route_to_depot" {
		t.Fatalf("status: %s", tr.View().Status)
	}
	// no new work is accepted until the load is dropped off
	out.reset()
	tr.Handle(announceMsg("t2", model.Position{X: 2, Y: 2}, 10, 2))
	nb := out.byKind(protocol.KindNoBid)
	if len(nb) != 1 || nb[0].Reason != "busy" {
		t.Fatalf("expected busy decline mid-return: %+v", out.msgs)
	}
	tick(tr, 3) // 3 cells back to (5,5)
	v := tr.View()
	if v.Load != 0 || v.Status != "idle" {
		t.Fatalf("after depot return: %+v", v)
	}
	_, _, _, _, _, returns, _ := tr.Stats()
	if returns != 1 {
		t.Fatalf("depot returns: %d", returns)
	}
}

func TestTruckIdleRefuelsAtReserve(t *testing.T) {
	cfg := quietConfig()
	e := env.New(cfg)
	out := &outbox{}
	tr := testTruck(cfg, e, out)
	tr.fuel = 18

	tick(tr, 1)
	if tr.View().Status != "refueling" {
		t.Fatalf("status: %s", tr.View().Status)
	}
}

package agent

import (
	"fmt"
	"log"
	"math/rand"

	"binsim/internal/config"
	"binsim/internal/env"
	"binsim/internal/model"
	"binsim/internal/protocol"
)

// no-bid reasons reported to requesters
const (
	reasonBusy         = "busy"
	reasonBrokenDown   = "broken_down"
	reasonCapacityFull = "capacity_full"
	reasonLowFuel      = "low_fuel"
	reasonNoFuel       = "insufficient_fuel"
	reasonMalfunction  = "malfunction"
	reasonFuelOut      = "fuel_exhausted"
)

type pendingBid struct {
	binID  string
	binPos model.Position
	amount float64
}

// Truck is a mobile collector. It evaluates task announcements, executes
// awarded missions (travel, collect, depot return, refuel) and reports
// completion or failure back to the requesting bin.
type Truck struct {
	id   string
	env  *env.Environment
	rng  *rand.Rand
	send SendFunc

	pos        model.Position
	speed      int
	capacity   float64
	load       float64
	fuelCap    float64
	fuel       float64
	perCell    float64 // fuel consumption per cell moved
	reserve    float64 // absolute fuel reserve
	returnFrac float64 // depot-return fraction of waste capacity

	malfProb  float64
	repairMin int
	repairMax int

	status  model.TruckStatus
	dest    model.Position
	pending map[string]pendingBid

	// current mission
	taskID      string
	binID       string
	binPos      model.Position
	amount      float64
	missionCost float64
	resumeToBin bool  // finish refueling, then continue to the bin
	collectAt   int64 // collection completes on this tick

	repairUntil  int64
	towedForFuel bool

	fatal error // set on invariant violation; checked by the clock

	// stats
	distance       float64
	fuelUsed       float64
	collections    int
	wasteCollected float64
	refuels        int
	depotReturns   int
	malfunctions   int
}

// NewTruck builds a truck agent starting at the depot with a full tank.
func NewTruck(id string, e *env.Environment, cfg config.TruckCfg, seed int64, send SendFunc) *Truck {
	return &Truck{
		id:         id,
		env:        e,
		rng:        rand.New(rand.NewSource(seed)),
		send:       send,
		pos:        e.Depot(),
		speed:      cfg.Speed,
		capacity:   cfg.Waste.Capacity,
		fuelCap:    cfg.Fuel.Capacity,
		fuel:       cfg.Fuel.Capacity,
		perCell:    cfg.Fuel.Consumption,
		reserve:    cfg.Fuel.Capacity * cfg.Fuel.Threshold,
		returnFrac: cfg.Waste.Threshold,
		malfProb:   cfg.Malfunction.Probability,
		repairMin:  cfg.Malfunction.Duration.Min,
		repairMax:  cfg.Malfunction.Duration.Max,
		status:     model.TruckIdle,
		pending:    map[string]pendingBid{},
	}
}

func (t *Truck) ID() string { return t.id }

// View projects the truck state for snapshots.
func (t *Truck) View() model.TruckView {
	return model.TruckView{ID: t.id, Position: t.pos, Load: t.load, Capacity: t.capacity, Fuel: t.fuel, Status: t.status.String()}
}

// Err returns the invariant violation, if any. A non-nil result halts the
// simulation: it indicates a protocol bug, not an operational condition.
func (t *Truck) Err() error { return t.fatal }

// Stats returns (distance, fuel used, collections, waste collected, refuels,
// depot returns, malfunctions).
func (t *Truck) Stats() (float64, float64, int, float64, int, int, int) {
	return t.distance, t.fuelUsed, t.collections, t.wasteCollected, t.refuels, t.depotReturns, t.malfunctions
}

// Handle processes one protocol message. Called from the agent goroutine
// only; the router serializes delivery.
func (t *Truck) Handle(msg protocol.Message) {
	switch msg.Kind {
	case protocol.KindTick:
		t.onTick(msg.Tick)
	case protocol.KindAnnounce:
		t.evaluateTask(msg)
	case protocol.KindAward:
		t.onAwarded(msg)
	case protocol.KindReject:
		delete(t.pending, msg.TaskID)
		if t.status == model.TruckBidding && len(t.pending) == 0 {
			t.status = model.TruckIdle
		}
	case protocol.KindConfirm:
		// receipt acknowledged; nothing left to do
	default:
		// contractor role: other kinds are not addressed to trucks
	}
}

// evaluateTask computes a bid for an announced task, or declines. A truck
// must not bid when it cannot serve: that is an expected operational state,
// not an error.
func (t *Truck) evaluateTask(msg protocol.Message) {
	decline := func(reason string) {
		t.send(protocol.Message{Kind: protocol.KindNoBid, From: t.id, To: msg.From, TaskID: msg.TaskID, Reason: reason, Tick: msg.Tick})
	}
	if t.status == model.TruckBrokenDown {
		decline(reasonBrokenDown)
		return
	}
	if t.status != model.TruckIdle && t.status != model.TruckBidding {
		decline(reasonBusy)
		return
	}
	if t.load+msg.Amount > t.capacity {
		decline(reasonCapacityFull)
		return
	}
	if t.fuel <= t.reserve {
		decline(reasonLowFuel)
		return
	}
	if t.missionFuelNeed(t.pos, msg.Position, msg.Amount) > t.fuel {
		decline(reasonNoFuel)
		return
	}

	cost, err := t.missionCostEstimate(msg.Position, msg.Amount)
	if err != nil {
		t.fatal = fmt.Errorf("truck %s: cost estimate: %w", t.id, err)
		return
	}
	t.pending[msg.TaskID] = pendingBid{binID: msg.From, binPos: msg.Position, amount: msg.Amount}
	if t.status == model.TruckIdle {
		t.status = model.TruckBidding
	}
	t.send(protocol.Message{Kind: protocol.KindBid, From: t.id, To: msg.From, TaskID: msg.TaskID, Cost: cost, Tick: msg.Tick})
}

// missionFuelNeed is the fuel required for the mission's grid distance: to
// the bin, plus the depot leg when the post-collection load would cross the
// return threshold. Fuel burns on distance moved, not on traffic-adjusted
// cost.
func (t *Truck) missionFuelNeed(from, binPos model.Position, amount float64) float64 {
	cells := t.env.Distance(from, binPos)
	if t.load+amount >= t.capacity*t.returnFrac {
		cells += t.env.Distance(binPos, t.env.Depot())
	}
	return float64(cells) * t.perCell
}

// missionCostEstimate prices the mission at current traffic: travel cost to
// the bin (plus depot leg if one will be needed), scaled by a load factor so
// fuller trucks bid higher.
func (t *Truck) missionCostEstimate(binPos model.Position, amount float64) (float64, error) {
	cost, err := t.env.TravelCost(t.pos, binPos)
	if err != nil {
		return 0, err
	}
	if t.load+amount >= t.capacity*t.returnFrac {
		depotLeg, err := t.env.TravelCost(binPos, t.env.Depot())
		if err != nil {
			return 0, err
		}
		cost += depotLeg
	}
	return cost * (1 + t.load/t.capacity), nil
}

// onAwarded starts the mission. A duplicate award for the current task and a
// late award for a task the truck no longer tracks are both no-ops.
func (t *Truck) onAwarded(msg protocol.Message) {
	if msg.TaskID == t.taskID && t.taskID != "" {
		return // duplicate award, already dispatched
	}
	pb, ok := t.pending[msg.TaskID]
	if !ok {
		return // late award for an expired or unknown task
	}
	if t.status != model.TruckIdle && t.status != model.TruckBidding {
		// accepted another mission since bidding; the bin will re-announce
		delete(t.pending, msg.TaskID)
		t.send(protocol.Message{Kind: protocol.KindFailure, From: t.id, To: msg.From, TaskID: msg.TaskID, Reason: reasonBusy, Tick: msg.Tick})
		return
	}
	delete(t.pending, msg.TaskID)

	if t.rng.Float64() < t.malfProb {
		t.breakDown(msg.Tick, false)
		t.send(protocol.Message{Kind: protocol.KindFailure, From: t.id, To: msg.From, TaskID: msg.TaskID, Reason: reasonMalfunction, Tick: msg.Tick})
		return
	}

	// the recorded bid is authoritative for the mission parameters; execution
	// cost is read at travel start, not bid time, since the environment may
	// have drifted since the bid
	cost, err := t.missionCostEstimate(pb.binPos, pb.amount)
	if err != nil {
		t.fatal = fmt.Errorf("truck %s: mission cost: %w", t.id, err)
		return
	}
	t.taskID = msg.TaskID
	t.binID = pb.binID
	t.binPos = pb.binPos
	t.amount = pb.amount
	t.missionCost = cost

	if t.fuel <= t.reserve || t.missionFuelNeed(t.pos, t.binPos, t.amount) > t.fuel {
		// top up before heading out
		t.resumeToBin = true
		t.startRefuel()
		return
	}
	t.status = model.TruckEnRouteToBin
	t.dest = t.binPos
}

func (t *Truck) onTick(now int64) {
	switch t.status {
	case model.TruckBrokenDown:
		if now >= t.repairUntil {
			if t.towedForFuel {
				t.fuel = t.fuelCap
				t.refuels++
				t.towedForFuel = false
			}
			t.status = model.TruckIdle
			log.Printf("truck %s: repaired, back in service", t.id)
		}
	case model.TruckEnRouteToBin, model.TruckEnRouteToDepot, model.TruckRefueling:
		t.move(now)
	case model.TruckCollecting:
		if now >= t.collectAt {
			t.collect(now)
		}
	case model.TruckIdle:
		if t.fuel <= t.reserve {
			t.resumeToBin = false
			t.startRefuel()
		}
	}
	t.checkInvariants()
}

// move advances up to speed cells toward the destination (x axis first),
// burning fuel per cell. Reaching the destination triggers the arrival
// action for the current state.
func (t *Truck) move(now int64) {
	for steps := t.speed; steps > 0 && t.pos != t.dest; steps-- {
		if t.fuel < t.perCell {
			t.fuelExhausted(now)
			return
		}
		next := t.pos
		switch {
		case next.X < t.dest.X:
			next.X++
		case next.X > t.dest.X:
			next.X--
		case next.Y < t.dest.Y:
			next.Y++
		default:
			next.Y--
		}
		t.pos = next
		t.fuel -= t.perCell
		t.fuelUsed += t.perCell
		t.distance++
	}
	if t.pos != t.dest {
		return
	}
	switch t.status {
	case model.TruckEnRouteToBin:
		t.status = model.TruckCollecting
		t.collectAt = now + 1 // one tick of service time
		t.send(protocol.Message{Kind: protocol.KindArrive, From: t.id, To: t.binID, TaskID: t.taskID, Tick: now})
	case model.TruckEnRouteToDepot:
		t.load = 0
		t.depotReturns++
		if t.fuel <= t.reserve {
			t.resumeToBin = false
			t.startRefuel()
		} else {
			t.status = model.TruckIdle
		}
	case model.TruckRefueling:
		t.fuel = t.fuelCap
		t.refuels++
		if t.resumeToBin && t.taskID != "" {
			t.resumeToBin = false
			t.status = model.TruckEnRouteToBin
			t.dest = t.binPos
		} else {
			t.status = model.TruckIdle
		}
	}
}

// collect loads the bin's waste and reports completion. Overflow here means
// the bidding logic is broken: it is a fatal invariant violation, not an
// operational failure.
func (t *Truck) collect(now int64) {
	if t.load+t.amount > t.capacity {
		t.fatal = fmt.Errorf("truck %s: capacity overflow collecting %s: load %.2f + %.2f > %.2f", t.id, t.taskID, t.load, t.amount, t.capacity)
		return
	}
	t.load += t.amount
	t.wasteCollected += t.amount
	t.collections++
	t.send(protocol.Message{
		Kind:   protocol.KindComplete,
		From:   t.id,
		To:     t.binID,
		TaskID: t.taskID,
		Amount: t.amount,
		Cost:   t.missionCost,
		Tick:   now,
	})
	t.clearMission()
	if t.load >= t.capacity*t.returnFrac || t.fuel <= t.reserve {
		t.status = model.TruckEnRouteToDepot
		t.dest = t.env.Depot()
	} else {
		t.status = model.TruckIdle
	}
}

func (t *Truck) clearMission() {
	t.taskID = ""
	t.binID = ""
	t.amount = 0
	t.missionCost = 0
	t.resumeToBin = false
}

func (t *Truck) startRefuel() {
	station, _ := t.env.NearestFuelStation(t.pos)
	t.status = model.TruckRefueling
	t.dest = station
}

// fuelExhausted handles running dry mid-route. The current mission fails
// and the bin re-announces; the truck limps to a station if it can still
// reach one, otherwise it is towed to the depot and repaired.
func (t *Truck) fuelExhausted(now int64) {
	if t.taskID != "" {
		t.send(protocol.Message{Kind: protocol.KindFailure, From: t.id, To: t.binID, TaskID: t.taskID, Reason: reasonFuelOut, Tick: now})
		t.clearMission()
	}
	station, _ := t.env.NearestFuelStation(t.pos)
	if float64(t.env.Distance(t.pos, station))*t.perCell <= t.fuel {
		t.status = model.TruckRefueling
		t.dest = station
		return
	}
	log.Printf("truck %s: out of fuel at %v, towed to depot", t.id, t.pos)
	t.breakDown(now, true)
}

func (t *Truck) breakDown(now int64, forFuel bool) {
	t.malfunctions++
	t.towedForFuel = forFuel
	t.pos = t.env.Depot()
	t.status = model.TruckBrokenDown
	dur := t.repairMin
	if spread := t.repairMax - t.repairMin; spread > 0 {
		dur += t.rng.Intn(spread + 1)
	}
	t.repairUntil = now + int64(dur)
	t.clearMission()
}

// checkInvariants runs after every tick: fuel must never go negative and
// load must never exceed capacity.
func (t *Truck) checkInvariants() {
	if t.fatal != nil {
		return
	}
	if t.fuel < 0 {
		t.fatal = fmt.Errorf("truck %s: negative fuel %.4f", t.id, t.fuel)
	}
	if t.load > t.capacity {
		t.fatal = fmt.Errorf("truck %s: load %.2f exceeds capacity %.2f", t.id, t.load, t.capacity)
	}
}

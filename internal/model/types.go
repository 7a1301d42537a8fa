package model

import "fmt"

// Position is an integer coordinate on the simulation grid. Fixed entities
// (bins, depot, fuel stations) never move; trucks do.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ManhattanTo is the grid travel distance between two positions.
func (p Position) ManhattanTo(q Position) int {
	return abs(q.X-p.X) + abs(q.Y-p.Y)
}

// ChebyshevTo is the max-axis distance, used for bin spacing checks.
func (p Position) ChebyshevTo(q Position) int {
	dx := abs(q.X - p.X)
	dy := abs(q.Y - p.Y)
	if dx > dy {
		return dx
	}
	return dy
}

func (p Position) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// BinStatus is the bin agent state machine.
type BinStatus int

const (
	BinIdle BinStatus = iota
	BinAwaitingBids
	BinAwardPending
	BinServiceInProgress
)

func (s BinStatus) String() string {
	switch s {
	case BinIdle:
		return "idle"
	case BinAwaitingBids:
		return "awaiting_bids"
	case BinAwardPending:
		return "award_pending"
	case BinServiceInProgress:
		return "service_in_progress"
	}
	return "unknown"
}

// TruckStatus is the truck agent state machine. BrokenDown covers the repair
// window after a malfunction; the truck sits at the depot and refuses work.
type TruckStatus int

const (
	TruckIdle TruckStatus = iota
	TruckBidding
	TruckEnRouteToBin
	TruckCollecting
	TruckEnRouteToDepot
	TruckRefueling
	TruckBrokenDown
)

func (s TruckStatus) String() string {
	switch s {
	case TruckIdle:
		return "idle"
	case TruckBidding:
		return "bidding"
	case TruckEnRouteToBin:
		return "en_route_to_bin"
	case TruckCollecting:
		return "collecting"
	case TruckEnRouteToDepot:
		return "en_route_to_depot"
	case TruckRefueling:
		return "refueling"
	case TruckBrokenDown:
		return "broken_down"
	}
	return "unknown"
}

// TaskStatus transitions are monotonic: a task never returns to an earlier
// state once completed or expired.
type TaskStatus int

const (
	TaskAnnounced TaskStatus = iota
	TaskBidding
	TaskAwarded
	TaskCompleted
	TaskExpired
)

func (s TaskStatus) String() string {
	switch s {
	case TaskAnnounced:
		return "announced"
	case TaskBidding:
		return "bidding"
	case TaskAwarded:
		return "awarded"
	case TaskCompleted:
		return "completed"
	case TaskExpired:
		return "expired"
	}
	return "unknown"
}

// Terminal reports whether no further transition is allowed.
func (s TaskStatus) Terminal() bool { return s == TaskCompleted || s == TaskExpired }

// CanTransition enforces the allowed task transitions. Announced may recur
// after an awarded truck fails en route.
func (s TaskStatus) CanTransition(to TaskStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case TaskAnnounced:
		return to == TaskBidding || to == TaskExpired
	case TaskBidding:
		return to == TaskAwarded || to == TaskExpired
	case TaskAwarded:
		return to == TaskCompleted || to == TaskAnnounced || to == TaskExpired
	}
	return false
}

// Task is a single collection request originating from one bin.
type Task struct {
	ID               string     `json:"id"`
	BinID            string     `json:"binId"`
	RequiredCapacity float64    `json:"requiredCapacity"`
	AnnouncedAt      int64      `json:"announcedAt"` // tick
	Deadline         int64      `json:"deadline"`    // bidding deadline tick
	Status           TaskStatus `json:"status"`
	Retries          int        `json:"retries"`
}

// Transition moves the task to the given status, refusing moves the status
// machine does not allow.
func (t *Task) Transition(to TaskStatus) bool {
	if !t.Status.CanTransition(to) {
		return false
	}
	t.Status = to
	return true
}

// Bid is ephemeral: it exists only during the bidding window of one task.
type Bid struct {
	TaskID        string  `json:"taskId"`
	TruckID       string  `json:"truckId"`
	EstimatedCost float64 `json:"estimatedCost"`
	SubmittedAt   int64   `json:"submittedAt"`
}

// TaskRecord is the per-task statistics record surfaced to external
// consumers once a task reaches a terminal state.
type TaskRecord struct {
	TaskID      string  `json:"taskId"`
	BinID       string  `json:"binId"`
	TruckID     string  `json:"truckId,omitempty"`
	AnnouncedAt int64   `json:"announcedAt"`
	AwardedAt   int64   `json:"awardedAt,omitempty"`
	CompletedAt int64   `json:"completedAt,omitempty"`
	ActualCost  float64 `json:"actualCost,omitempty"`
	Expired     bool    `json:"expired,omitempty"`
	Retries     int     `json:"retries,omitempty"`
}

// WaitTicks is award tick minus announce tick; zero until awarded.
func (r TaskRecord) WaitTicks() int64 {
	if r.AwardedAt == 0 {
		return 0
	}
	return r.AwardedAt - r.AnnouncedAt
}

// RunSummary aggregates one simulation run.
type RunSummary struct {
	RunID            string  `json:"runId"`
	Seed             int64   `json:"seed"`
	Ticks            int64   `json:"ticks"`
	Bins             int     `json:"bins"`
	Trucks           int     `json:"trucks"`
	TotalTasks       int     `json:"totalTasks"`
	CompletedTasks   int     `json:"completedTasks"`
	ExpiredTasks     int     `json:"expiredTasks"`
	AverageWaitTicks float64 `json:"averageWaitTicks"`
	TotalDistance    float64 `json:"totalDistance"`
	FuelConsumed     float64 `json:"fuelConsumed"`
	WasteGenerated   float64 `json:"wasteGenerated"`
	WasteCollected   float64 `json:"wasteCollected"`
	OverflowCount    int     `json:"overflowCount"`
	MalfunctionCount int     `json:"malfunctionCount"`
	RefuelCount      int     `json:"refuelCount"`
	DepotReturns     int     `json:"depotReturns"`
	TrafficIncidents int     `json:"trafficIncidents"`
}

// Snapshot is the read-only per-tick projection consumed by visualization.
type Snapshot struct {
	RunID     string         `json:"runId"`
	Tick      int64          `json:"tick"`
	Day       int            `json:"day"`
	Hour      int            `json:"hour"`
	RushHour  bool           `json:"rushHour"`
	Bins      []BinView      `json:"bins"`
	Trucks    []TruckView    `json:"trucks"`
	Incidents []IncidentView `json:"incidents,omitempty"`
}

type BinView struct {
	ID       string   `json:"id"`
	Position Position `json:"position"`
	Fill     float64  `json:"fill"`
	Capacity float64  `json:"capacity"`
	Status   string   `json:"status"`
}

type TruckView struct {
	ID       string   `json:"id"`
	Position Position `json:"position"`
	Load     float64  `json:"load"`
	Capacity float64  `json:"capacity"`
	Fuel     float64  `json:"fuel"`
	Status   string   `json:"status"`
}

type IncidentView struct {
	Position   Position `json:"position"`
	Multiplier float64  `json:"multiplier"`
	TicksLeft  int      `json:"ticksLeft"`
	Kind       string   `json:"kind"`
}

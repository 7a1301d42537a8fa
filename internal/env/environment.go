package env

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"binsim/internal/config"
	"binsim/internal/model"
)

// ErrInvalidPosition indicates a travel cost request for an off-grid
// position. This is a configuration/data bug and callers treat it as fatal.
var ErrInvalidPosition = errors.New("position outside grid")

// Incident is a transient traffic disruption affecting a region of the grid.
type Incident struct {
	Center     model.Position
	Multiplier float64
	TicksLeft  int
	Kind       string
}

// Environment owns the grid, the clock-of-day, and all travel-cost state.
// Step is called by the simulation clock only (single writer); cost lookups
// are concurrent-safe reads.
type Environment struct {
	mu   sync.RWMutex
	cfg  *config.Config
	rng  *rand.Rand
	tick int64
	hour int
	day  int

	incidents      []Incident
	totalIncidents int
}

// New builds an environment from the parsed configuration. All randomness is
// drawn from a generator seeded off the configured seed so runs replay
// deterministically.
func New(cfg *config.Config) *Environment {
	return &Environment{
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(cfg.Simulation.Seed)),
		hour: 0,
		day:  1,
	}
}

func (e *Environment) Size() int             { return e.cfg.Grid.Size }
func (e *Environment) Depot() model.Position { return e.cfg.Locations.Depot.Pos() }

// FuelStations returns the fixed station positions.
func (e *Environment) FuelStations() []model.Position {
	out := make([]model.Position, 0, len(e.cfg.Locations.FuelStations))
	for _, s := range e.cfg.Locations.FuelStations {
		out = append(out, s.Pos())
	}
	return out
}

func (e *Environment) Now() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tick
}

func (e *Environment) Hour() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hour
}

func (e *Environment) Day() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.day
}

// IsRushHour reports whether the current hour falls in a configured window.
func (e *Environment) IsRushHour() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rushMultiplierLocked() > 1
}

func (e *Environment) rushMultiplierLocked() float64 {
	if w := e.cfg.Time.RushHours.Morning; w.Contains(e.hour) && w.Multiplier > 1 {
		return w.Multiplier
	}
	if w := e.cfg.Time.RushHours.Evening; w.Contains(e.hour) && w.Multiplier > 1 {
		return w.Multiplier
	}
	return 1.0
}

// InBounds reports whether p is on the grid.
func (e *Environment) InBounds(p model.Position) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < e.cfg.Grid.Size && p.Y < e.cfg.Grid.Size
}

// Distance is the base grid distance, unaffected by traffic.
func (e *Environment) Distance(from, to model.Position) int {
	return from.ManhattanTo(to)
}

// TravelCost returns the current cost of moving between two positions: base
// Manhattan distance times the product of every active multiplier (rush hour
// plus each incident whose region covers either endpoint). Composition is
// multiplicative, so the order effects are applied in does not matter.
func (e *Environment) TravelCost(from, to model.Position) (float64, error) {
	if !e.InBounds(from) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPosition, from)
	}
	if !e.InBounds(to) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPosition, to)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	mult := e.rushMultiplierLocked()
	for _, inc := range e.incidents {
		if inc.Center.ManhattanTo(from) <= e.cfg.Events.Radius || inc.Center.ManhattanTo(to) <= e.cfg.Events.Radius {
			mult *= inc.Multiplier
		}
	}
	return float64(from.ManhattanTo(to)) * mult, nil
}

// NearestFuelStation returns the station with the lowest current travel cost
// from p.
func (e *Environment) NearestFuelStation(p model.Position) (model.Position, float64) {
	best := model.Position{}
	bestCost := -1.0
	for _, s := range e.FuelStations() {
		c, err := e.TravelCost(p, s)
		if err != nil {
			continue
		}
		if bestCost < 0 || c < bestCost {
			bestCost = c
			best = s
		}
	}
	return best, bestCost
}

// Step advances the clock by one tick (one simulated hour), expires aged
// incidents, and may draw new ones. Called once per tick before any agent
// reads travel cost.
func (e *Environment) Step() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tick++
	e.hour++
	if e.hour >= 24 {
		e.hour = 0
		e.day++
	}

	kept := e.incidents[:0]
	for _, inc := range e.incidents {
		inc.TicksLeft--
		if inc.TicksLeft > 0 {
			kept = append(kept, inc)
		}
	}
	e.incidents = kept

	e.generateIncidentsLocked()
}

func (e *Environment) generateIncidentsLocked() {
	span := e.cfg.Events.ActiveHours
	if e.hour < span.Start || e.hour > span.End {
		return
	}
	if e.rng.Float64() < e.cfg.Events.AccidentProbability {
		e.addIncidentLocked("accident", e.cfg.Events.Accident.Multiplier)
	}
	if e.rng.Float64() < e.cfg.Events.RoadworkProbability {
		e.addIncidentLocked("roadwork", e.cfg.Events.Roadwork.Multiplier)
	}
}

func (e *Environment) addIncidentLocked(kind string, multiplier float64) {
	var pos model.Position
	for {
		pos = model.Position{X: e.rng.Intn(e.cfg.Grid.Size), Y: e.rng.Intn(e.cfg.Grid.Size)}
		if pos == e.Depot() {
			continue
		}
		onStation := false
		for _, s := range e.cfg.Locations.FuelStations {
			if pos == s.Pos() {
				onStation = true
				break
			}
		}
		if !onStation {
			break
		}
	}
	dur := e.cfg.Events.Duration.Min
	if spread := e.cfg.Events.Duration.Max - e.cfg.Events.Duration.Min; spread > 0 {
		dur += e.rng.Intn(spread + 1)
	}
	e.incidents = append(e.incidents, Incident{Center: pos, Multiplier: multiplier, TicksLeft: dur, Kind: kind})
	e.totalIncidents++
}

// ActiveIncidents returns a copy of the current incident list.
func (e *Environment) ActiveIncidents() []Incident {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Incident(nil), e.incidents...)
}

// TotalIncidents is the count of incidents generated so far this run.
func (e *Environment) TotalIncidents() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.totalIncidents
}

// IncidentViews projects incidents for the visualization feed.
func (e *Environment) IncidentViews() []model.IncidentView {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.incidents) == 0 {
		return nil
	}
	out := make([]model.IncidentView, 0, len(e.incidents))
	for _, inc := range e.incidents {
		out = append(out, model.IncidentView{Position: inc.Center, Multiplier: inc.Multiplier, TicksLeft: inc.TicksLeft, Kind: inc.Kind})
	}
	return out
}

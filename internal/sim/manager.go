// Package sim owns the discrete-event clock and the agent lifecycle. Agents
// run as goroutines with inbox channels; the clock is the only writer of
// time and drives everything in lockstep so a fixed seed replays exactly.
package sim

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"binsim/internal/agent"
	"binsim/internal/config"
	"binsim/internal/env"
	"binsim/internal/metrics"
	"binsim/internal/model"
	"binsim/internal/protocol"
)

// Agent is the unit the router delivers to. Handle is always called from
// the agent's own goroutine.
type Agent interface {
	ID() string
	Handle(protocol.Message)
}

// Publisher receives the per-tick snapshot feed. The in-memory and Redis
// brokers in internal/api both satisfy it.
type Publisher interface {
	Publish(runID string, snap model.Snapshot)
}

type envelope struct {
	msg protocol.Message
	ack chan struct{}
}

// Manager wires environment, agents, and statistics into one run.
type Manager struct {
	cfg   *config.Config
	world *env.Environment
	sink  RecordSink
	pub   Publisher
	runID string

	bins   []*agent.Bin
	trucks []*agent.Truck
	order  []string
	agents map[string]Agent

	inboxes map[string]chan envelope
	ack     chan struct{}
	runCtx  context.Context
	wg      sync.WaitGroup

	queueMu sync.Mutex
	queue   []protocol.Message

	recMu   sync.Mutex
	records []model.TaskRecord

	snapMu  sync.RWMutex
	latest  model.Snapshot
	hasSnap bool

	seenTasks map[string]struct{}

	prevFuel float64
	prevDist float64
}

// RecordSink persists task records and the final run summary. The stats
// package provides in-memory and Postgres implementations.
type RecordSink interface {
	SaveTaskRecord(ctx context.Context, runID string, rec model.TaskRecord) error
	SaveRunSummary(ctx context.Context, s model.RunSummary) error
}

// New builds a manager: places bins on the grid (respecting minimum spacing
// and avoiding the depot and fuel stations), spawns trucks at the depot, and
// derives every agent's rng seed from the configured run seed.
func New(cfg *config.Config, sink RecordSink, pub Publisher) (*Manager, error) {
	m := &Manager{
		cfg:       cfg,
		world:     env.New(cfg),
		sink:      sink,
		pub:       pub,
		runID:     uuid.New().String(),
		agents:    map[string]Agent{},
		inboxes:   map[string]chan envelope{},
		ack:       make(chan struct{}),
		seenTasks: map[string]struct{}{},
	}

	truckIDs := make([]string, 0, cfg.Agents.Counts.Trucks)
	for i := 0; i < cfg.Agents.Counts.Trucks; i++ {
		truckIDs = append(truckIDs, fmt.Sprintf("truck%02d", i+1))
	}

	placeRng := rand.New(rand.NewSource(cfg.Simulation.Seed + 1))
	positions, err := placeBins(cfg, placeRng)
	if err != nil {
		return nil, err
	}
	for i, pos := range positions {
		id := fmt.Sprintf("bin%02d", i+1)
		b := agent.NewBin(id, pos, m.world, cfg.Agents.Bin, cfg.Announce, truckIDs, cfg.Simulation.Seed+int64(100+i), m.enqueue, m.record)
		m.bins = append(m.bins, b)
		m.register(b)
	}
	for i, id := range truckIDs {
		t := agent.NewTruck(id, m.world, cfg.Agents.Truck, cfg.Simulation.Seed+int64(1000+i), m.enqueue)
		m.trucks = append(m.trucks, t)
		m.register(t)
	}
	return m, nil
}

func (m *Manager) register(a Agent) {
	m.agents[a.ID()] = a
	m.order = append(m.order, a.ID())
}

func placeBins(cfg *config.Config, rng *rand.Rand) ([]model.Position, error) {
	depot := cfg.Locations.Depot.Pos()
	stations := map[model.Position]struct{}{}
	for _, s := range cfg.Locations.FuelStations {
		stations[s.Pos()] = struct{}{}
	}
	var placed []model.Position
	for len(placed) < cfg.Agents.Counts.Bins {
		found := false
		for attempt := 0; attempt < 10000; attempt++ {
			pos := model.Position{X: rng.Intn(cfg.Grid.Size), Y: rng.Intn(cfg.Grid.Size)}
			if pos == depot {
				continue
			}
			if _, ok := stations[pos]; ok {
				continue
			}
			spaced := true
			for _, other := range placed {
				if pos.ChebyshevTo(other) < cfg.Agents.Bin.MinDistance {
					spaced = false
					break
				}
			}
			if spaced {
				placed = append(placed, pos)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("cannot place %d bins with spacing %d on a %dx%d grid", cfg.Agents.Counts.Bins, cfg.Agents.Bin.MinDistance, cfg.Grid.Size, cfg.Grid.Size)
		}
	}
	return placed, nil
}

func (m *Manager) RunID() string { return m.runID }

// Latest returns the most recent snapshot, if any tick has run.
func (m *Manager) Latest() (model.Snapshot, bool) {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.latest, m.hasSnap
}

// Records returns a copy of the task records accumulated so far.
func (m *Manager) Records() []model.TaskRecord {
	m.recMu.Lock()
	defer m.recMu.Unlock()
	return append([]model.TaskRecord(nil), m.records...)
}

// enqueue is the agents' outbox. Delivery order is deterministic because
// only one agent handles a message at a time.
func (m *Manager) enqueue(msg protocol.Message) {
	m.queueMu.Lock()
	m.queue = append(m.queue, msg)
	m.queueMu.Unlock()
}

func (m *Manager) record(rec model.TaskRecord) {
	m.recMu.Lock()
	m.records = append(m.records, rec)
	m.recMu.Unlock()
	if rec.Expired {
		metrics.TasksExpired.Inc()
	} else {
		metrics.Collections.Inc()
		metrics.TaskWaitTicks.Observe(float64(rec.WaitTicks()))
	}
	if m.sink != nil {
		if err := m.sink.SaveTaskRecord(context.Background(), m.runID, rec); err != nil {
			log.Printf("sim: save task record: %v", err)
		}
	}
}

// Run executes the configured number of ticks, spawning one goroutine per
// agent and stopping them on return. It halts early only on invariant
// violations or context cancellation.
func (m *Manager) Run(ctx context.Context) (model.RunSummary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.start(ctx)
	defer m.wg.Wait()
	defer cancel()

	total := m.cfg.TotalTicks()
	for i := int64(0); i < total; i++ {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := m.Step(); err != nil {
			return m.summary(), err
		}
	}
	summary := m.summary()
	if m.sink != nil {
		if err := m.sink.SaveRunSummary(context.Background(), summary); err != nil {
			log.Printf("sim: save run summary: %v", err)
		}
	}
	return summary, nil
}

// start spawns agent goroutines. Exposed to tests via Step-only harnesses.
func (m *Manager) start(ctx context.Context) {
	m.runCtx = ctx
	for _, id := range m.order {
		inbox := make(chan envelope)
		m.inboxes[id] = inbox
		m.wg.Add(1)
		go m.runAgent(ctx, m.agents[id], inbox)
	}
}

func (m *Manager) runAgent(ctx context.Context, a Agent, inbox chan envelope) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-inbox:
			a.Handle(e.msg)
			// the clock may have abandoned this delivery on cancellation;
			// the ack must not block past the run context
			select {
			case e.ack <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Step advances the simulation by one tick: environment first, then a tick
// to every agent in id order, then the message queue drained to quiescence.
// Within one tick every bid evaluation sees the same environment snapshot.
func (m *Manager) Step() error {
	started := time.Now()
	m.world.Step()
	now := m.world.Now()

	for _, id := range m.order {
		if !m.deliver(id, protocol.Message{Kind: protocol.KindTick, To: id, Tick: now}) {
			return m.runCtx.Err()
		}
	}
	if err := m.drain(); err != nil {
		return err
	}
	for _, t := range m.trucks {
		if err := t.Err(); err != nil {
			return fmt.Errorf("invariant violation: %w", err)
		}
	}

	snap := m.snapshot(now)
	m.snapMu.Lock()
	m.latest = snap
	m.hasSnap = true
	m.snapMu.Unlock()
	if m.pub != nil {
		m.pub.Publish(m.runID, snap)
	}
	m.observeTick(started)
	return nil
}

func (m *Manager) deliver(to string, msg protocol.Message) bool {
	inbox, ok := m.inboxes[to]
	if !ok {
		log.Printf("sim: dropping %s message for unknown agent %q", msg.Kind, to)
		return true
	}
	e := envelope{msg: msg, ack: m.ack}
	select {
	case inbox <- e:
	case <-m.runCtx.Done():
		return false
	}
	select {
	case <-m.ack:
		return true
	case <-m.runCtx.Done():
		return false
	}
}

// drain delivers queued protocol messages one at a time until no agent has
// produced more. Announce/bid/award cycles for one bidding window therefore
// settle before the next tick.
func (m *Manager) drain() error {
	for {
		m.queueMu.Lock()
		if len(m.queue) == 0 {
			m.queueMu.Unlock()
			return nil
		}
		msg := m.queue[0]
		m.queue = m.queue[1:]
		m.queueMu.Unlock()

		if msg.Kind == protocol.KindAnnounce {
			if _, seen := m.seenTasks[msg.TaskID]; !seen {
				m.seenTasks[msg.TaskID] = struct{}{}
				metrics.TasksAnnounced.Inc()
			}
		}
		if !m.deliver(msg.To, msg) {
			return m.runCtx.Err()
		}
	}
}

func (m *Manager) snapshot(now int64) model.Snapshot {
	snap := model.Snapshot{
		RunID:     m.runID,
		Tick:      now,
		Day:       m.world.Day(),
		Hour:      m.world.Hour(),
		RushHour:  m.world.IsRushHour(),
		Incidents: m.world.IncidentViews(),
	}
	for _, b := range m.bins {
		snap.Bins = append(snap.Bins, b.View())
	}
	for _, t := range m.trucks {
		snap.Trucks = append(snap.Trucks, t.View())
	}
	return snap
}

func (m *Manager) observeTick(started time.Time) {
	metrics.TickDuration.Observe(time.Since(started).Seconds())
	metrics.ActiveIncidents.Set(float64(len(m.world.ActiveIncidents())))

	var fuel, dist float64
	for _, t := range m.trucks {
		d, f, _, _, _, _, _ := t.Stats()
		dist += d
		fuel += f
	}
	if delta := fuel - m.prevFuel; delta > 0 {
		metrics.FuelConsumed.Add(delta)
	}
	if delta := dist - m.prevDist; delta > 0 {
		metrics.DistanceTraveled.Add(delta)
	}
	m.prevFuel = fuel
	m.prevDist = dist
}

func (m *Manager) summary() model.RunSummary {
	s := model.RunSummary{
		RunID:            m.runID,
		Seed:             m.cfg.Simulation.Seed,
		Ticks:            m.world.Now(),
		Bins:             len(m.bins),
		Trucks:           len(m.trucks),
		TrafficIncidents: m.world.TotalIncidents(),
	}
	var waitSum float64
	for _, rec := range m.Records() {
		s.TotalTasks++
		if rec.Expired {
			s.ExpiredTasks++
		} else {
			s.CompletedTasks++
			waitSum += float64(rec.WaitTicks())
		}
	}
	if s.CompletedTasks > 0 {
		s.AverageWaitTicks = waitSum / float64(s.CompletedTasks)
	}
	for _, b := range m.bins {
		generated, overflows, _, _ := b.Stats()
		s.WasteGenerated += generated
		s.OverflowCount += overflows
	}
	for _, t := range m.trucks {
		dist, fuel, _, collected, refuels, returns, malfs := t.Stats()
		s.TotalDistance += dist
		s.FuelConsumed += fuel
		s.WasteCollected += collected
		s.RefuelCount += refuels
		s.DepotReturns += returns
		s.MalfunctionCount += malfs
	}
	return s
}

package agent

import (
	"log"
	"math/rand"
	"sort"

	"github.com/google/uuid"

	"binsim/internal/config"
	"binsim/internal/env"
	"binsim/internal/model"
	"binsim/internal/protocol"
)

// Bin is a stationary waste container. It fills over time and runs the
// requester role of the Contract Net Protocol when its threshold is crossed.
type Bin struct {
	id     string
	pos    model.Position
	env    *env.Environment
	rng    *rand.Rand
	send   SendFunc
	record RecordFunc

	capacity  float64
	threshold float64
	fillMin   float64
	fillMax   float64

	windowTicks   int64
	maxRetries    int
	cooldownTicks int64

	trucks []string // contractor ids, sorted for deterministic broadcast

	status        model.BinStatus
	level         float64
	task          *model.Task
	bids          []model.Bid
	awardedAt     int64
	awardedTruck  string
	failures      int   // consecutive failed attempts for the current request
	cooldownUntil int64 // no announcements before this tick

	// stats
	totalGenerated   float64
	overflowCount    int
	collectionsCount int
	totalCost        float64
}

// NewBin builds a bin agent. The rng seed must be derived deterministically
// from the run seed so replays are reproducible.
func NewBin(id string, pos model.Position, e *env.Environment, cfg config.BinCfg, ann config.Announce, trucks []string, seed int64, send SendFunc, record RecordFunc) *Bin {
	sorted := append([]string(nil), trucks...)
	sort.Strings(sorted)
	return &Bin{
		id:            id,
		pos:           pos,
		env:           e,
		rng:           rand.New(rand.NewSource(seed)),
		send:          send,
		record:        record,
		capacity:      cfg.Capacity,
		threshold:     cfg.Threshold,
		fillMin:       cfg.FillRate.Min,
		fillMax:       cfg.FillRate.Max,
		windowTicks:   ann.WindowTicks,
		maxRetries:    ann.MaxRetries,
		cooldownTicks: ann.CooldownTicks,
		trucks:        sorted,
		status:        model.BinIdle,
	}
}

func (b *Bin) ID() string { return b.id }

// View projects the bin state for snapshots.
func (b *Bin) View() model.BinView {
	return model.BinView{ID: b.id, Position: b.pos, Fill: b.level, Capacity: b.capacity, Status: b.status.String()}
}

// Stats returns (waste generated, overflow incidents, collections received,
// total mission cost).
func (b *Bin) Stats() (float64, int, int, float64) {
	return b.totalGenerated, b.overflowCount, b.collectionsCount, b.totalCost
}

// HasOutstandingTask reports whether a collection request is in flight.
func (b *Bin) HasOutstandingTask() bool { return b.task != nil }

// Handle processes one protocol message. Called from the agent goroutine
// only; the router serializes delivery.
func (b *Bin) Handle(msg protocol.Message) {
	switch msg.Kind {
	case protocol.KindTick:
		b.onTick(msg.Tick)
	case protocol.KindBid:
		b.onBid(msg)
	case protocol.KindNoBid:
		// silence would mean the same; nothing to track
	case protocol.KindArrive:
		if b.task != nil && msg.TaskID == b.task.ID {
			b.status = model.BinServiceInProgress
		}
	case protocol.KindComplete:
		b.onComplete(msg)
	case protocol.KindFailure:
		b.onFailure(msg)
	default:
		// requester role: other kinds are not addressed to bins
	}
}

func (b *Bin) onTick(now int64) {
	switch b.status {
	case model.BinIdle:
		b.fill()
		if b.level >= b.capacity*b.threshold && now >= b.cooldownUntil {
			b.announce(now)
		}
	case model.BinAwaitingBids:
		if b.task != nil && now >= b.task.Deadline {
			b.decide(now)
		}
	default:
		// fill is suspended while a collection is in progress
	}
}

// fill advances the waste level by a random draw within the configured
// bounds, halved at night (hours 0-6).
func (b *Bin) fill() {
	rate := b.fillMin + b.rng.Float64()*(b.fillMax-b.fillMin)
	if h := b.env.Hour(); h >= 0 && h <= 6 {
		rate *= 0.5
	}
	b.totalGenerated += rate
	b.level += rate
	if b.level >= b.capacity {
		b.level = b.capacity
		b.overflowCount++
	}
}

func (b *Bin) announce(now int64) {
	task := &model.Task{
		ID:               uuid.New().String(),
		BinID:            b.id,
		RequiredCapacity: b.level,
		AnnouncedAt:      now,
		Deadline:         now + b.windowTicks,
		Status:           model.TaskAnnounced,
		Retries:          b.failures,
	}
	task.Transition(model.TaskBidding)
	b.task = task
	b.bids = b.bids[:0]
	b.status = model.BinAwaitingBids
	b.awardedTruck = ""
	for _, truck := range b.trucks {
		b.send(protocol.Message{
			Kind:     protocol.KindAnnounce,
			From:     b.id,
			To:       truck,
			TaskID:   task.ID,
			Position: b.pos,
			Amount:   task.RequiredCapacity,
			Tick:     now,
		})
	}
}

func (b *Bin) onBid(msg protocol.Message) {
	if b.status != model.BinAwaitingBids || b.task == nil || msg.TaskID != b.task.ID {
		return // late or stale bid, moot
	}
	for _, existing := range b.bids {
		if existing.TruckID == msg.From {
			return
		}
	}
	b.bids = append(b.bids, model.Bid{TaskID: msg.TaskID, TruckID: msg.From, EstimatedCost: msg.Cost, SubmittedAt: msg.Tick})
}

// decide closes the bidding window: award the best bid or expire the task.
func (b *Bin) decide(now int64) {
	winner, ok := protocol.SelectWinner(b.bids)
	if !ok {
		b.expireAttempt(now)
		return
	}
	b.task.Transition(model.TaskAwarded)
	b.awardedAt = now
	b.awardedTruck = winner.TruckID
	b.status = model.BinAwardPending
	for _, bid := range b.bids {
		if bid.TruckID == winner.TruckID {
			continue
		}
		b.send(protocol.Message{Kind: protocol.KindReject, From: b.id, To: bid.TruckID, TaskID: b.task.ID, Tick: now})
	}
	b.send(protocol.Message{
		Kind:     protocol.KindAward,
		From:     b.id,
		To:       winner.TruckID,
		TaskID:   b.task.ID,
		Position: b.pos,
		Amount:   b.task.RequiredCapacity,
		Tick:     now,
	})
	b.bids = b.bids[:0]
}

// expireAttempt handles a bidding window that closed with zero bids. The bin
// retries on the next eligible tick until the retry cap, then backs off for
// a cooldown so a full grid does not announce every tick.
func (b *Bin) expireAttempt(now int64) {
	b.task.Transition(model.TaskExpired)
	b.record(model.TaskRecord{
		TaskID:      b.task.ID,
		BinID:       b.id,
		AnnouncedAt: b.task.AnnouncedAt,
		Expired:     true,
		Retries:     b.task.Retries,
	})
	b.failures++
	b.task = nil
	b.status = model.BinIdle
	if b.failures >= b.maxRetries {
		log.Printf("bin %s: collection request expired %d times, giving up for %d ticks", b.id, b.failures, b.cooldownTicks)
		b.failures = 0
		b.cooldownUntil = now + b.cooldownTicks
	}
}

func (b *Bin) onComplete(msg protocol.Message) {
	if b.task == nil || msg.TaskID != b.task.ID || msg.From != b.awardedTruck {
		return
	}
	b.task.Transition(model.TaskCompleted)
	b.record(model.TaskRecord{
		TaskID:      b.task.ID,
		BinID:       b.id,
		TruckID:     msg.From,
		AnnouncedAt: b.task.AnnouncedAt,
		AwardedAt:   b.awardedAt,
		CompletedAt: msg.Tick,
		ActualCost:  msg.Cost,
		Retries:     b.task.Retries,
	})
	b.totalCost += msg.Cost
	b.collectionsCount++
	b.level = 0
	b.send(protocol.Message{Kind: protocol.KindConfirm, From: b.id, To: msg.From, TaskID: msg.TaskID, Tick: msg.Tick})
	b.task = nil
	b.awardedTruck = ""
	b.failures = 0
	b.status = model.BinIdle
}

// onFailure reverts an awarded task to announcement when the winning truck
// cannot deliver, sharing the retry cap with zero-bid expiries.
func (b *Bin) onFailure(msg protocol.Message) {
	if b.task == nil || msg.TaskID != b.task.ID || msg.From != b.awardedTruck {
		return
	}
	log.Printf("bin %s: truck %s failed (%s), re-announcing", b.id, msg.From, msg.Reason)
	b.failures++
	if b.failures >= b.maxRetries {
		b.task.Transition(model.TaskExpired)
		b.record(model.TaskRecord{
			TaskID:      b.task.ID,
			BinID:       b.id,
			AnnouncedAt: b.task.AnnouncedAt,
			Expired:     true,
			Retries:     b.task.Retries,
		})
		log.Printf("bin %s: request failed %d times, giving up for %d ticks", b.id, b.failures, b.cooldownTicks)
		b.task = nil
		b.awardedTruck = ""
		b.failures = 0
		b.status = model.BinIdle
		b.cooldownUntil = msg.Tick + b.cooldownTicks
		return
	}
	b.task.Transition(model.TaskAnnounced)
	b.task.Transition(model.TaskBidding)
	b.task.Retries = b.failures
	b.task.Deadline = msg.Tick + b.windowTicks
	b.awardedTruck = ""
	b.bids = b.bids[:0]
	b.status = model.BinAwaitingBids
	for _, truck := range b.trucks {
		b.send(protocol.Message{
			Kind:     protocol.KindAnnounce,
			From:     b.id,
			To:       truck,
			TaskID:   b.task.ID,
			Position: b.pos,
			Amount:   b.task.RequiredCapacity,
			Tick:     msg.Tick,
		})
	}
}

package api

import (
	"sync"

	"binsim/internal/model"
)

// Broker is the in-memory snapshot fan-out used when no REDIS_URL is set.
// Slow subscribers drop frames rather than stall the simulation.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan model.Snapshot]struct{} // runId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan model.Snapshot]struct{}{}}
}

func (b *Broker) Subscribe(runID string) chan model.Snapshot {
	ch := make(chan model.Snapshot, 8)
	b.mu.Lock()
	if b.subs[runID] == nil {
		b.subs[runID] = map[chan model.Snapshot]struct{}{}
	}
	b.subs[runID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(runID string, ch chan model.Snapshot) {
	b.mu.Lock()
	if m := b.subs[runID]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, runID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

func (b *Broker) Publish(runID string, snap model.Snapshot) {
	b.mu.Lock()
	m := b.subs[runID]
	for ch := range m {
		select {
		case ch <- snap:
		default:
		}
	}
	b.mu.Unlock()
}

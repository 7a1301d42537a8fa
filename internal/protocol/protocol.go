// Package protocol defines the Contract Net message vocabulary shared by bin
// (requester) and truck (contractor) agents: announce, bid, award, reject,
// confirm, plus the failure path used when an awarded truck cannot deliver.
package protocol

import (
	"sort"

	"binsim/internal/model"
)

// Kind tags a protocol message. Handling is exhaustive per agent role;
// agents ignore kinds outside their role.
type Kind int

const (
	// KindTick drives agent time forward; sent by the clock, not by agents.
	KindTick Kind = iota
	// KindAnnounce broadcasts a collection task from a bin to the trucks.
	KindAnnounce
	// KindBid is a truck's cost estimate for an announced task.
	KindBid
	// KindNoBid is an explicit decline with a reason. Silence is also a
	// valid response; NoBid exists so refusals can be observed in logs.
	KindNoBid
	// KindAward notifies the winning truck.
	KindAward
	// KindReject notifies a losing bidder.
	KindReject
	// KindArrive tells the bin its winner reached the bin position.
	KindArrive
	// KindComplete reports a finished collection with its actual cost.
	KindComplete
	// KindConfirm is the bin's receipt acknowledgement closing the task.
	KindConfirm
	// KindFailure reports that the awarded truck cannot deliver (breakdown,
	// fuel exhaustion); the bin re-announces.
	KindFailure
)

func (k Kind) String() string {
	switch k {
	case KindTick:
		return "tick"
	case KindAnnounce:
		return "announce"
	case KindBid:
		return "bid"
	case KindNoBid:
		return "no_bid"
	case KindAward:
		return "award"
	case KindReject:
		return "reject"
	case KindArrive:
		return "arrive"
	case KindComplete:
		return "complete"
	case KindConfirm:
		return "confirm"
	case KindFailure:
		return "failure"
	}
	return "unknown"
}

// Message is the single envelope exchanged between agents. Only the fields
// relevant to the Kind are set.
type Message struct {
	Kind Kind
	From string
	To   string

	TaskID   string
	Position model.Position // bin position (announce/award)
	Amount   float64        // required capacity (announce/award), collected amount (complete)
	Cost     float64        // estimated cost (bid), actual cost (complete)
	Tick     int64
	Reason   string // no-bid / failure reason
}

// SelectWinner picks the lowest-cost bid; ties break to the lowest truck id.
// The result is deterministic for any ordering of the input slice.
func SelectWinner(bids []model.Bid) (model.Bid, bool) {
	if len(bids) == 0 {
		return model.Bid{}, false
	}
	sorted := append([]model.Bid(nil), bids...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].EstimatedCost != sorted[j].EstimatedCost {
			return sorted[i].EstimatedCost < sorted[j].EstimatedCost
		}
		return sorted[i].TruckID < sorted[j].TruckID
	})
	return sorted[0], true
}

package protocol

import (
	"testing"

	"binsim/internal/model"
)

func TestSelectWinnerLowestCost(t *testing.T) {
	bids := []model.Bid{
		{TaskID: "t1", TruckID: "truck02", EstimatedCost: 7.5},
		{TaskID: "t1", TruckID: "truck01", EstimatedCost: 4.0},
		{TaskID: "t1", TruckID: "truck03", EstimatedCost: 9.0},
	}
	w, ok := SelectWinner(bids)
	if !ok {
		t.Fatal("expected a winner")
	}
	if w.TruckID != "truck01" {
		t.Fatalf("want truck01, got %s", w.TruckID)
	}
}

func TestSelectWinnerTieBreaksOnTruckID(t *testing.T) {
	bids := []model.Bid{
		{TaskID: "t1", TruckID: "truck03", EstimatedCost: 5.0},
		{TaskID: "t1", TruckID: "truck01", EstimatedCost: 5.0},
		{TaskID: "t1", TruckID: "truck02", EstimatedCost: 5.0},
	}
	w, _ := SelectWinner(bids)
	if w.TruckID != "truck01" {
		t.Fatalf("tie should go to lowest id, got %s", w.TruckID)
	}
}

func TestSelectWinnerOrderIndependent(t *testing.T) {
	a := []model.Bid{
		{TruckID: "truck02", EstimatedCost: 3.0},
		{TruckID: "truck01", EstimatedCost: 3.0},
	}
	b := []model.Bid{a[1], a[0]}
	wa, _ := SelectWinner(a)
	wb, _ := SelectWinner(b)
	if wa.TruckID != wb.TruckID {
		t.Fatalf("winner depends on input order: %s vs %s", wa.TruckID, wb.TruckID)
	}
	// input must not be reordered
	if a[0].TruckID != "truck02" {
		t.Fatal("SelectWinner mutated its input")
	}
}

func TestSelectWinnerEmpty(t *testing.T) {
	if _, ok := SelectWinner(nil); ok {
		t.Fatal("no bids should yield no winner")
	}
}

func TestKindString(t *testing.T) {
	kinds := map[Kind]string{
		KindTick:     "tick",
		KindAnnounce: "announce",
		KindBid:      "bid",
		KindNoBid:    "no_bid",
		KindAward:    "award",
		KindReject:   "reject",
		KindArrive:   "arrive",
		KindComplete: "complete",
		KindConfirm:  "confirm",
		KindFailure:  "failure",
	}
	for k, want := range kinds {
		if got := k.String(); got != want {
			t.Fatalf("%d: want %q, got %q", k, want, got)
		}
	}
}

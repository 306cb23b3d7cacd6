package allocation

import (
	"math/rand"
	"testing"

	"github.com/WessleyAI/raffle-ledger/engine/domain"
)

func confirmed(user string, created int64, requested int) domain.Participant {
	return domain.Participant{User: user, CreatedAt: created, RequestedSpots: requested, Status: domain.StatusConfirmed, SourceCommentID: user}
}

func TestEnforce_OldestFirst(t *testing.T) {
	// newest-first: c, b, a
	ps := []domain.Participant{confirmed("c", 3, 5), confirmed("b", 2, 5), confirmed("a", 1, 5)}
	Enforcer{Cost: 200}.Enforce(ps, 12, 0)

	want := map[string]int{"a": 5, "b": 5, "c": 2}
	for _, p := range ps {
		if p.Spots != want[p.User] {
			t.Errorf("%s: got %d spots, want %d", p.User, p.Spots, want[p.User])
		}
		if p.Owed != domain.Amount(200*p.Spots) {
			t.Errorf("%s: owed %s for %d spots", p.User, p.Owed, p.Spots)
		}
	}
}

func TestEnforce_AlreadyAssigned(t *testing.T) {
	ps := []domain.Participant{confirmed("b", 2, 3), confirmed("a", 1, 3)}
	Enforcer{}.Enforce(ps, 10, 8)
	if ps[1].Spots != 2 || ps[0].Spots != 0 {
		t.Errorf("expected a=2 b=0, got a=%d b=%d", ps[1].Spots, ps[0].Spots)
	}
	if ps[0].Status != domain.StatusConfirmed {
		t.Error("status must not change when the raffle is full")
	}
}

func TestEnforce_Unlimited(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		ps := []domain.Participant{confirmed("b", 2, 40), confirmed("a", 1, 30)}
		Enforcer{}.Enforce(ps, capacity, 1000)
		if ps[0].Spots != 40 || ps[1].Spots != 30 {
			t.Errorf("capacity %d: expected no enforcement, got %+v", capacity, ps)
		}
	}
}

func TestEnforce_SkipsNonConfirmed(t *testing.T) {
	ps := []domain.Participant{
		confirmed("b", 3, 2),
		{User: "w", CreatedAt: 2, Status: domain.StatusWaitlist},
		{User: "r", CreatedAt: 1, Status: domain.StatusRemoved, RequestedSpots: 4},
	}
	Enforcer{}.Enforce(ps, 2, 0)
	if ps[0].Spots != 2 || ps[1].Spots != 0 || ps[2].Spots != 0 {
		t.Errorf("unexpected %+v", ps)
	}
}

func TestEnforce_OpenTakesRemainder(t *testing.T) {
	closer := confirmed("closer", 3, 0)
	closer.Open = true
	ps := []domain.Participant{closer, confirmed("b", 2, 4), confirmed("a", 1, 4)}
	Enforcer{}.Enforce(ps, 10, 0)
	if ps[0].Spots != 2 || ps[0].RequestedSpots != 2 {
		t.Errorf("closer should take the last 2 spots, got %+v", ps[0])
	}
}

func TestEnforce_CapacityProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 200; trial++ {
		n := rng.Intn(30)
		ps := make([]domain.Participant, n)
		for i := range ps {
			ps[i] = confirmed(string(rune('a'+i%26))+string(rune('0'+i/26)), int64(rng.Intn(50)), rng.Intn(12))
			if rng.Intn(5) == 0 {
				ps[i].Status = domain.StatusWaitlist
				ps[i].RequestedSpots = 0
			}
		}
		rng.Shuffle(len(ps), func(i, j int) { ps[i], ps[j] = ps[j], ps[i] })
		SortNewestFirst(ps)

		capacity := rng.Intn(60) + 1
		assigned := rng.Intn(capacity + 5)
		Enforcer{}.Enforce(ps, capacity, assigned)

		total := 0
		for _, p := range ps {
			if p.Spots > p.RequestedSpots {
				t.Fatalf("trial %d: spots %d > requested %d", trial, p.Spots, p.RequestedSpots)
			}
			if p.Status != domain.StatusConfirmed && p.Spots != 0 {
				t.Fatalf("trial %d: non-confirmed entry holds spots", trial)
			}
			total += p.Spots
		}
		if total > max(0, capacity-assigned) {
			t.Fatalf("trial %d: assigned %d with %d remaining", trial, total, capacity-assigned)
		}
	}
}

func TestSortNewestFirst_Deterministic(t *testing.T) {
	ps := []domain.Participant{
		{User: "a", CreatedAt: 5, SourceCommentID: "x1"},
		{User: "b", CreatedAt: 9, SourceCommentID: "x2"},
		{User: "c", CreatedAt: 5, SourceCommentID: "x3"},
		{User: "alice", CreatedAt: 5, SourceCommentID: "x3"},
	}
	SortNewestFirst(ps)
	got := ps[0].User + ps[1].User + ps[2].User + ps[3].User
	if got != "bcalicea" {
		t.Errorf("unexpected order %s", got)
	}
}

func TestValidate(t *testing.T) {
	ps := []domain.Participant{
		{User: "big", Spots: 30, RequestedSpots: 30, Status: domain.StatusConfirmed},
		{User: "neg", Spots: -2, Owed: -400, Status: domain.StatusConfirmed},
		{User: "mismatch", Spots: 2, RequestedSpots: 2, ClaimedSpots: 3, Status: domain.StatusConfirmed},
		{User: "unsure", Spots: 1, RequestedSpots: 1, NeedsReview: true, Status: domain.StatusConfirmed},
	}
	flags := Validator{}.Validate(ps, 20)

	kinds := map[FlagKind]int{}
	for _, f := range flags {
		kinds[f.Kind]++
	}
	for _, k := range []FlagKind{FlagOverAssigned, FlagHighSpotCount, FlagExceedsTotal, FlagNegativeSpots, FlagClaimMismatch, FlagNeedsReview} {
		if kinds[k] != 1 {
			t.Errorf("expected one %s flag, got %d (%+v)", k, kinds[k], flags)
		}
	}
	if ps[1].Spots != 0 || ps[1].Owed != 0 {
		t.Errorf("negative entry not clamped: %+v", ps[1])
	}
}

func TestValidate_Clean(t *testing.T) {
	ps := []domain.Participant{{User: "a", Spots: 3, RequestedSpots: 3, ClaimedSpots: 3, Status: domain.StatusConfirmed}}
	if flags := (Validator{HighWater: 10}).Validate(ps, 0); len(flags) != 0 {
		t.Errorf("expected no flags, got %+v", flags)
	}
}

func TestValidate_UnboundedClose(t *testing.T) {
	ps := []domain.Participant{{User: "a", Open: true, Status: domain.StatusConfirmed}}
	flags := Validator{}.Validate(ps, 0)
	if len(flags) != 1 || flags[0].Kind != FlagUnboundedClose {
		t.Errorf("expected unbounded close flag, got %+v", flags)
	}
}

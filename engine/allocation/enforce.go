// Package allocation applies the raffle's capacity limit to confirmed entries
// and runs the advisory sanity checks over the finished ledger.
package allocation

import (
	"log/slog"
	"sort"

	"github.com/WessleyAI/raffle-ledger/engine/domain"
)

// SortNewestFirst orders participants by creation time descending. Ties are
// broken by comment id and then user so the order is total.
func SortNewestFirst(ps []domain.Participant) {
	sort.SliceStable(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		if a.SourceCommentID != b.SourceCommentID {
			return a.SourceCommentID > b.SourceCommentID
		}
		return a.User > b.User
	})
}

// Enforcer assigns spots oldest-first against a capacity.
type Enforcer struct {
	Cost domain.Amount
	Log  *slog.Logger
}

// Enforce walks ps (newest-first) from the oldest entry, starting the running
// total at alreadyAssigned. Only confirmed entries take capacity; each gets
// its full request, the remainder, or nothing. A capacity of zero or less
// means unlimited. Open (close-out) requests take whatever is left. The
// slice is updated in place and returned.
func (e Enforcer) Enforce(ps []domain.Participant, capacity, alreadyAssigned int) []domain.Participant {
	log := e.Log
	if log == nil {
		log = slog.Default()
	}
	limited := capacity > 0
	running := alreadyAssigned

	for i := len(ps) - 1; i >= 0; i-- {
		p := &ps[i]
		if p.Status != domain.StatusConfirmed {
			p.Spots = 0
			p.Owed = 0
			continue
		}
		if p.Open {
			p.RequestedSpots = 0
			if limited {
				p.RequestedSpots = max(0, capacity-running)
			}
		}

		switch {
		case !limited:
			p.Spots = p.RequestedSpots
		case running >= capacity:
			p.Spots = 0
			log.Warn("raffle full", "user", p.User, "requested", p.RequestedSpots, "assigned", running, "capacity", capacity)
		case running+p.RequestedSpots > capacity:
			p.Spots = capacity - running
			log.Warn("partial assignment", "user", p.User, "requested", p.RequestedSpots, "got", p.Spots, "capacity", capacity)
		default:
			p.Spots = p.RequestedSpots
		}
		running += p.Spots
		p.Owed = e.Cost.Times(p.Spots)
	}
	return ps
}

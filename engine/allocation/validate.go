package allocation

import (
	"fmt"
	"log/slog"

	"github.com/WessleyAI/raffle-ledger/engine/domain"
)

// DefaultHighWater is the per-entry spot count above which an entry is
// flagged for review.
const DefaultHighWater = 25

// FlagKind names a validation finding.
type FlagKind string

const (
	FlagOverAssigned   FlagKind = "over_assigned"
	FlagHighSpotCount  FlagKind = "high_spot_count"
	FlagExceedsTotal   FlagKind = "exceeds_total"
	FlagNegativeSpots  FlagKind = "negative_spots"
	FlagClaimMismatch  FlagKind = "claim_mismatch"
	FlagUnboundedClose FlagKind = "unbounded_close"
	FlagNeedsReview    FlagKind = "needs_review"
)

// Flag is one advisory finding. Flags never block a result.
type Flag struct {
	Kind      FlagKind `json:"type"`
	User      string   `json:"user,omitempty"`
	CommentID string   `json:"commentId,omitempty"`
	Spots     int      `json:"spots,omitempty"`
	Limit     int      `json:"limit,omitempty"`
	Message   string   `json:"message"`
}

// Validator runs the sanity pass.
type Validator struct {
	HighWater int
	Log       *slog.Logger
}

// Validate checks the ledger and returns the findings. Negative spot counts
// are clamped to zero in place.
func (v Validator) Validate(ps []domain.Participant, capacity int) []Flag {
	log := v.Log
	if log == nil {
		log = slog.Default()
	}
	high := v.HighWater
	if high <= 0 {
		high = DefaultHighWater
	}

	var flags []Flag
	add := func(f Flag) {
		flags = append(flags, f)
		log.Warn("validation", "type", f.Kind, "user", f.User, "message", f.Message)
	}

	for i := range ps {
		p := &ps[i]
		if p.Spots < 0 {
			log.Error("negative spot count, clamping", "user", p.User, "comment", p.SourceCommentID, "spots", p.Spots)
			flags = append(flags, Flag{Kind: FlagNegativeSpots, User: p.User, CommentID: p.SourceCommentID, Spots: p.Spots,
				Message: fmt.Sprintf("u/%s had %d spots, set to 0", p.User, p.Spots)})
			p.Spots = 0
			p.Owed = 0
		}
	}

	total := 0
	for _, p := range ps {
		total += p.Spots
	}
	if capacity > 0 && total > capacity {
		add(Flag{Kind: FlagOverAssigned, Spots: total, Limit: capacity,
			Message: fmt.Sprintf("total assigned spots (%d) exceeds limit (%d)", total, capacity)})
	}

	for _, p := range ps {
		if p.Spots > high {
			add(Flag{Kind: FlagHighSpotCount, User: p.User, CommentID: p.SourceCommentID, Spots: p.Spots, Limit: high,
				Message: fmt.Sprintf("u/%s has %d spots (>%d): %q", p.User, p.Spots, high, truncate(p.Comment, 60))})
		}
		if capacity > 0 && p.Spots > capacity {
			add(Flag{Kind: FlagExceedsTotal, User: p.User, CommentID: p.SourceCommentID, Spots: p.Spots, Limit: capacity,
				Message: fmt.Sprintf("u/%s has %d spots but the raffle only has %d", p.User, p.Spots, capacity)})
		}
		if p.Status != domain.StatusConfirmed {
			continue
		}
		if p.Open && capacity <= 0 {
			add(Flag{Kind: FlagUnboundedClose, User: p.User, CommentID: p.SourceCommentID,
				Message: fmt.Sprintf("u/%s asked to close a raffle with no spot limit", p.User)})
		}
		if !p.Open && p.ClaimedSpots > 0 && p.ClaimedSpots != p.RequestedSpots {
			add(Flag{Kind: FlagClaimMismatch, User: p.User, CommentID: p.SourceCommentID, Spots: p.RequestedSpots, Limit: p.ClaimedSpots,
				Message: fmt.Sprintf("u/%s was confirmed for %d but asked for %d", p.User, p.RequestedSpots, p.ClaimedSpots)})
		}
		if p.NeedsReview {
			add(Flag{Kind: FlagNeedsReview, User: p.User, CommentID: p.SourceCommentID,
				Message: fmt.Sprintf("u/%s comment is ambiguous: %q", p.User, truncate(p.Comment, 60))})
		}
	}

	if len(flags) == 0 {
		log.Info("validation passed", "participants", len(ps))
	}
	return flags
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

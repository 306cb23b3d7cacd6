// Package corrections lets operators override how specific comment bodies are
// classified. A correction records the spot count a body should have produced;
// Overlay consults a Store before the wrapped classifier's answer is used.
package corrections

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/WessleyAI/raffle-ledger/engine/claim"
	"github.com/WessleyAI/raffle-ledger/engine/domain"
)

var ErrInvalidCorrection = errors.New("corrections: invalid correction")

// Correction is one recorded operator fix.
type Correction struct {
	Comment    string    `json:"comment"`
	Wrong      int       `json:"wrongParse"`
	Correct    int       `json:"correctParse"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Validate checks a correction before it is stored.
func (c Correction) Validate() error {
	if Key(c.Comment) == "" {
		return fmt.Errorf("%w: empty comment", ErrInvalidCorrection)
	}
	if c.Correct < 0 || c.Wrong < 0 {
		return fmt.Errorf("%w: negative spot count", ErrInvalidCorrection)
	}
	return nil
}

// Claim is the claim the correction stands for.
func (c Correction) Claim() domain.ParsedClaim {
	if c.Correct == 0 {
		return domain.ParsedClaim{Kind: domain.ClaimCorrected, Reason: "operator correction"}
	}
	return domain.ParsedClaim{IsClaim: true, Spots: c.Correct, Kind: domain.ClaimCorrected, Reason: "operator correction"}
}

// Key is the lookup key for a body: the classifier's normalised text.
func Key(body string) string {
	return strings.Join(strings.Fields(claim.Normalize(body)), " ")
}

// Store persists corrections.
type Store interface {
	Lookup(ctx context.Context, body string) (Correction, bool, error)
	Record(ctx context.Context, c Correction) error
}

// Overlay wraps a classifier with stored corrections.
type Overlay struct {
	Base  claim.Classifier
	Store Store
	Log   *slog.Logger
}

// Classify implements claim.Classifier. Lookup failures fall through to the
// base classifier's answer.
func (o Overlay) Classify(ctx context.Context, bodies []string) []domain.ParsedClaim {
	base := o.Base
	if base == nil {
		base = claim.Rules{}
	}
	out := base.Classify(ctx, bodies)
	if o.Store == nil || len(out) != len(bodies) {
		return out
	}
	log := o.Log
	if log == nil {
		log = slog.Default()
	}
	for i, b := range bodies {
		c, ok, err := o.Store.Lookup(ctx, b)
		if err != nil {
			log.Warn("correction lookup failed", "error", err)
			continue
		}
		if !ok {
			continue
		}
		log.Debug("correction applied", "comment", Key(b), "was", out[i].Spots, "now", c.Correct)
		out[i] = c.Claim()
	}
	return out
}

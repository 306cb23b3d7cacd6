// Package service runs raffle scans: one-off scans of a post, and syncs that
// carry a stored raffle's ledger forward from its last known state.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/WessleyAI/raffle-ledger/engine/allocation"
	"github.com/WessleyAI/raffle-ledger/engine/domain"
	"github.com/WessleyAI/raffle-ledger/engine/parse"
	"github.com/WessleyAI/raffle-ledger/engine/store"
	"github.com/WessleyAI/raffle-ledger/pkg/fn"
)

// Ledger is the persistence the sync loop needs.
type Ledger interface {
	LoadState(ctx context.Context, raffleID string) (store.State, error)
	Merge(ctx context.Context, raffleID string, ps []domain.Participant) error
	ApplyRemovals(ctx context.Context, raffleID string, users []string) (int, error)
	ActiveRaffles(ctx context.Context) ([]store.Raffle, error)
}

// Update describes what one sync changed. It is published to subscribers
// after every successful sync.
type Update struct {
	RaffleID       string               `json:"raffleId"`
	PostID         string               `json:"postId"`
	Participants   []domain.Participant `json:"participants"`
	Removed        []string             `json:"removedUsers"`
	RemovedApplied int                  `json:"removedApplied"`
	Flags          []allocation.Flag    `json:"flags,omitempty"`
	Stats          parse.Stats          `json:"stats"`
	SyncedAt       time.Time            `json:"syncedAt"`
}

// Service scans and syncs raffles.
type Service struct {
	parser *parse.Parser
	ledger Ledger
	log    *slog.Logger
	retry  fn.RetryOpts
	sync   fn.Stage[store.Raffle, *Update]
}

// New creates a Service. ledger may be nil for scan-only use.
func New(p *parse.Parser, ledger Ledger, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		parser: p,
		ledger: ledger,
		log:    log,
		retry:  fn.RetryOpts{MaxAttempts: 3, InitialWait: 200 * time.Millisecond, MaxWait: 2 * time.Second, Jitter: true},
	}
	s.sync = fn.TracedStage("raffle.sync", s.syncOnce, func(r store.Raffle) []attribute.KeyValue {
		return []attribute.KeyValue{attribute.String("raffle.id", r.ID), attribute.String("raffle.post_url", r.PostURL)}
	})
	return s
}

// Scan parses a post without touching the ledger.
func (s *Service) Scan(ctx context.Context, req parse.Request) (*parse.Result, error) {
	return s.parser.Parse(ctx, req)
}

// Sync scans a stored raffle, skipping comments already recorded, and merges
// the new entries and removals into the ledger.
func (s *Service) Sync(ctx context.Context, r store.Raffle) (*Update, error) {
	if s.ledger == nil {
		return nil, fmt.Errorf("service: sync %s: no ledger configured", r.ID)
	}
	return s.sync(ctx, r).Unwrap()
}

func (s *Service) syncOnce(ctx context.Context, r store.Raffle) fn.Result[*Update] {
	log := s.log.With("raffle", r.ID)

	st, err := fn.Retry(ctx, s.retry, func(ctx context.Context) fn.Result[store.State] {
		return fn.FromPair(s.ledger.LoadState(ctx, r.ID))
	}).Unwrap()
	if err != nil {
		return fn.Errf[*Update]("service: load %s: %w", r.ID, err)
	}

	res, err := s.parser.Parse(ctx, parse.Request{
		PostURL:       r.PostURL,
		CostPerSpot:   r.CostPerSpot,
		TotalSpots:    r.TotalSpots,
		Processed:     st.Processed,
		AssignedSpots: st.AssignedSpots,
		Pending:       st.Pending,
	})
	if err != nil {
		return fn.Err[*Update](err)
	}

	if err := s.ledger.Merge(ctx, r.ID, res.Participants); err != nil {
		return fn.Errf[*Update]("service: merge %s: %w", r.ID, err)
	}
	applied, err := s.ledger.ApplyRemovals(ctx, r.ID, res.Removed)
	if err != nil {
		return fn.Errf[*Update]("service: removals %s: %w", r.ID, err)
	}

	log.Info("raffle synced", "new_entries", len(res.Participants), "removed", applied,
		"assigned_before", st.AssignedSpots, "flags", len(res.Flags))
	return fn.Ok(&Update{
		RaffleID:       r.ID,
		PostID:         res.PostID,
		Participants:   res.Participants,
		Removed:        res.Removed,
		RemovedApplied: applied,
		Flags:          res.Flags,
		Stats:          res.Stats,
		SyncedAt:       time.Now().UTC(),
	})
}

// SyncAll syncs every active raffle with at most workers in flight. One
// raffle failing does not stop the others; results are in raffle order.
func (s *Service) SyncAll(ctx context.Context, workers int) ([]store.Raffle, []fn.Result[*Update], error) {
	if s.ledger == nil {
		return nil, nil, fmt.Errorf("service: sync all: no ledger configured")
	}
	raffles, err := s.ledger.ActiveRaffles(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("service: active raffles: %w", err)
	}
	results := fn.ParMapResult(raffles, workers, func(r store.Raffle) fn.Result[*Update] {
		return s.sync(ctx, r)
	})
	for i, r := range results {
		if _, err := r.Unwrap(); err != nil {
			s.log.Error("raffle sync failed", "raffle", raffles[i].ID, "error", err)
		}
	}
	return raffles, results, nil
}

// Package parse runs the raffle comment pipeline: fetch the thread, find
// removal announcements, classify and resolve each candidate comment, then
// enforce capacity and validate the resulting ledger.
package parse

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"time"

	"github.com/WessleyAI/raffle-ledger/engine/allocation"
	"github.com/WessleyAI/raffle-ledger/engine/claim"
	"github.com/WessleyAI/raffle-ledger/engine/domain"
	"github.com/WessleyAI/raffle-ledger/engine/hostreply"
	"github.com/WessleyAI/raffle-ledger/engine/reddit"
	"github.com/WessleyAI/raffle-ledger/pkg/metrics"
)

// Fetcher retrieves a flattened thread.
type Fetcher interface {
	Fetch(ctx context.Context, postURL string) (*reddit.Thread, error)
}

// NameMapper resolves display names for Reddit users. Missing users are
// simply absent from the returned map.
type NameMapper interface {
	DisplayNames(ctx context.Context, users []string) (map[string]string, error)
}

// Request is one parse call. Processed ids are skipped unless they are also
// listed in Pending, which the caller uses for tab requests awaiting a reply.
type Request struct {
	PostURL       string        `json:"postUrl"`
	CostPerSpot   domain.Amount `json:"costPerSpot"`
	TotalSpots    *int          `json:"totalSpots,omitempty"`
	Processed     []string      `json:"existingCommentIds,omitempty"`
	AssignedSpots int           `json:"currentAssignedSpots"`
	Pending       []string      `json:"pendingTabCommentIds,omitempty"`
}

// Validate checks request fields before any network call.
func (r Request) Validate() error {
	if r.PostURL == "" {
		return domain.NewValidationError("postUrl", r.PostURL, domain.ErrInvalidRequest)
	}
	if r.CostPerSpot < 0 {
		return domain.NewValidationError("costPerSpot", r.CostPerSpot.String(), domain.ErrInvalidRequest)
	}
	if r.AssignedSpots < 0 {
		return domain.NewValidationError("currentAssignedSpots", fmt.Sprint(r.AssignedSpots), domain.ErrInvalidRequest)
	}
	return nil
}

func (r Request) capacity() int {
	if r.TotalSpots == nil {
		return 0
	}
	return *r.TotalSpots
}

// Stats summarises one parse.
type Stats struct {
	Comments     int `json:"comments"`
	Candidates   int `json:"candidates"`
	Skipped      int `json:"skipped"`
	Claims       int `json:"claims"`
	Participants int `json:"participants"`
}

// Result is the derived ledger for one call.
type Result struct {
	PostID       string               `json:"postId"`
	Owner        string               `json:"owner"`
	Participants []domain.Participant `json:"participants"`
	Removed      []string             `json:"removedUsers"`
	Flags        []allocation.Flag    `json:"flags,omitempty"`
	Stats        Stats                `json:"stats"`
}

// Options configures a Parser.
type Options struct {
	TabGrace  time.Duration
	HighWater int
	Bots      []string
	Logger    *slog.Logger
	Metrics   *metrics.Registry
}

// Parser is safe for concurrent use; every call keeps its own state.
type Parser struct {
	fetch    Fetcher
	classify claim.Classifier
	resolver *hostreply.Resolver
	names    NameMapper
	bots     map[string]bool
	opts     Options
	log      *slog.Logger
	met      *parseMetrics
}

// New creates a Parser. A nil classifier uses the deterministic rules.
func New(fetch Fetcher, classify claim.Classifier, opts Options) *Parser {
	if classify == nil {
		classify = claim.Rules{}
	}
	if opts.Bots == nil {
		opts.Bots = DefaultBots
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Parser{
		fetch:    fetch,
		classify: classify,
		resolver: hostreply.NewResolver(opts.TabGrace),
		bots:     botSet(opts.Bots),
		opts:     opts,
		log:      log,
		met:      newParseMetrics(opts.Metrics),
	}
}

// WithNames attaches a display-name lookup.
func (p *Parser) WithNames(n NameMapper) *Parser {
	p.names = n
	return p
}

// Parse fetches the post and derives its ledger. Fetch failures are returned
// as *domain.FetchError; no partial result is ever returned.
func (p *Parser) Parse(ctx context.Context, req Request) (res *Result, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("parse panic", "post", req.PostURL, "panic", r, "stack", string(debug.Stack()))
			res, err = nil, fmt.Errorf("parse: internal error: %v", r)
		}
		p.met.observe(start, err)
	}()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	thread, err := p.fetch.Fetch(ctx, req.PostURL)
	if err != nil {
		return nil, err
	}
	return p.derive(ctx, thread, req), nil
}

// ParseThread derives the ledger from an already-fetched thread.
func (p *Parser) ParseThread(ctx context.Context, thread *reddit.Thread, req Request) (res *Result, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("parse panic", "post", req.PostURL, "panic", r, "stack", string(debug.Stack()))
			res, err = nil, fmt.Errorf("parse: internal error: %v", r)
		}
		p.met.observe(start, err)
	}()
	if thread == nil {
		return nil, domain.ErrEmptyThread
	}
	if req.CostPerSpot < 0 || req.AssignedSpots < 0 {
		return nil, domain.NewValidationError("request", req.CostPerSpot.String(), domain.ErrInvalidRequest)
	}
	return p.derive(ctx, thread, req), nil
}

type candidate struct {
	comment domain.RawComment
	cleaned string
}

func (p *Parser) derive(ctx context.Context, thread *reddit.Thread, req Request) *Result {
	log := p.log.With("post", thread.PostID)
	res := &Result{PostID: thread.PostID, Owner: thread.Owner}
	res.Stats.Comments = len(thread.Comments)
	p.met.comments.Add(int64(len(thread.Comments)))

	// Removal announcements may sit in already-processed comments.
	removed := hostreply.ScanRemovals(thread.Comments, thread.Owner, log)
	res.Removed = removed.Names()
	sort.Strings(res.Removed)

	processed := domain.NewIDSet(req.Processed...)
	pending := domain.NewIDSet(req.Pending...)

	var cands []candidate
	for _, c := range thread.Comments {
		if processed.Has(c.ID) && !pending.Has(c.ID) {
			continue
		}
		if reason := skipReason(c, p.bots); reason != "" {
			res.Stats.Skipped++
			log.Debug("comment skipped", "comment", c.ID, "author", c.Author, "reason", reason)
			continue
		}
		cleaned := CleanComment(c.Body)
		if cleaned == "" {
			res.Stats.Skipped++
			log.Debug("comment skipped", "comment", c.ID, "author", c.Author, "reason", "links only")
			continue
		}
		cands = append(cands, candidate{comment: c, cleaned: cleaned})
	}
	res.Stats.Candidates = len(cands)

	claims := p.claims(ctx, cands)

	var out []domain.Participant
	for i, cand := range cands {
		cl := claims[i]
		if cl.IsClaim {
			res.Stats.Claims++
		}
		replies := cand.comment.OwnerReplies()
		decisions := p.resolver.Resolve(cand.comment, replies)
		if len(decisions) == 1 && decisions[0].Kind == domain.Unresolved &&
			cl.Kind == domain.ClaimClose && hostreply.HasYouGot(replies) {
			decisions = []domain.HostDecision{{Kind: domain.Confirmed, Beneficiary: cand.comment.Author, Open: true}}
		}
		for _, d := range decisions {
			p.met.decision(d.Kind)
			part, ok := participant(cand, cl, d, len(decisions) == 1)
			if !ok {
				continue
			}
			if part.Status == domain.StatusConfirmed && removed.Has(part.User) {
				log.Info("removed user downgraded", "user", part.User, "comment", part.SourceCommentID)
				part.Status = domain.StatusRemoved
				part.RequestedSpots = 0
				part.Open = false
			}
			out = append(out, part)
		}
	}

	allocation.SortNewestFirst(out)
	allocation.Enforcer{Cost: req.CostPerSpot, Log: log}.Enforce(out, req.capacity(), req.AssignedSpots)
	p.fillNames(ctx, out)
	res.Flags = allocation.Validator{HighWater: p.opts.HighWater, Log: log}.Validate(out, req.capacity())

	if out == nil {
		out = []domain.Participant{}
	}
	res.Participants = out
	res.Stats.Participants = len(out)
	log.Info("parse complete", "comments", res.Stats.Comments, "candidates", res.Stats.Candidates,
		"participants", len(out), "removed", len(res.Removed), "flags", len(res.Flags))
	return res
}

func (p *Parser) claims(ctx context.Context, cands []candidate) []domain.ParsedClaim {
	bodies := make([]string, len(cands))
	for i, c := range cands {
		bodies[i] = c.comment.Body
	}
	claims := p.classify.Classify(ctx, bodies)
	if len(claims) != len(bodies) {
		p.log.Error("classifier returned wrong number of claims, using rules", "want", len(bodies), "got", len(claims))
		claims = claim.Rules{}.Classify(ctx, bodies)
	}
	return claims
}

func participant(cand candidate, cl domain.ParsedClaim, d domain.HostDecision, single bool) (domain.Participant, bool) {
	c := cand.comment
	part := domain.Participant{
		User:            c.Author,
		Comment:         cand.cleaned,
		CreatedAt:       c.CreatedAt,
		SourceCommentID: c.ID,
		NeedsReview:     cl.Ambiguous,
	}
	switch d.Kind {
	case domain.Confirmed:
		part.Status = domain.StatusConfirmed
		part.User = d.Beneficiary
		part.RequestedSpots = d.Spots
		part.Open = d.Open
		if single && d.Beneficiary == c.Author && cl.IsClaim && !cl.Unspecified {
			part.ClaimedSpots = cl.Spots
		}
	case domain.Waitlisted:
		part.Status = domain.StatusWaitlist
	case domain.Removed:
		part.Status = domain.StatusRemoved
	case domain.TabPending:
		part.Status = domain.StatusTabPending
	default:
		return domain.Participant{}, false
	}
	return part, true
}

func (p *Parser) fillNames(ctx context.Context, ps []domain.Participant) {
	if p.names == nil || len(ps) == 0 {
		return
	}
	users := make([]string, 0, len(ps))
	for _, part := range ps {
		users = append(users, part.User)
	}
	names, err := p.names.DisplayNames(ctx, users)
	if err != nil {
		p.log.Warn("name mapping failed", "error", err)
		return
	}
	for i := range ps {
		if n, ok := names[ps[i].User]; ok {
			ps[i].DisplayName = n
		}
	}
}

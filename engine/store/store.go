// Package store persists raffles and their ledger entries in Neo4j as
// (:Raffle)-[:HAS_ENTRY]->(:Entry). Entries are merged by participant key so
// that repeated scans of the same thread update rather than duplicate them.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/raffle-ledger/engine/domain"
)

var ErrRaffleNotFound = errors.New("store: raffle not found")

// result is the minimal interface needed from a neo4j result.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) Close(ctx context.Context) error { return a.sess.Close(ctx) }

// Raffle is one tracked raffle post.
type Raffle struct {
	ID          string        `json:"id"`
	PostURL     string        `json:"postUrl"`
	CostPerSpot domain.Amount `json:"costPerSpot"`
	TotalSpots  *int          `json:"totalSpots,omitempty"`
	Active      bool          `json:"active"`
}

// State is what a rescan needs to know about earlier scans.
type State struct {
	Processed     []string
	Pending       []string
	AssignedSpots int
}

// Ledger is the Neo4j-backed raffle store.
type Ledger struct {
	driver     neo4j.DriverWithContext
	database   string
	now        func() time.Time
	newSession func(ctx context.Context) runner // for testing
}

// New creates a Ledger on driver. An empty database uses the server default.
func New(driver neo4j.DriverWithContext, database string) *Ledger {
	return &Ledger{driver: driver, database: database, now: time.Now}
}

// Connect opens a driver and verifies connectivity.
func Connect(ctx context.Context, uri, user, password string) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("store: neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("store: neo4j connect %s: %w", uri, err)
	}
	return driver, nil
}

func (l *Ledger) session(ctx context.Context) runner {
	if l.newSession != nil {
		return l.newSession(ctx)
	}
	return &sessionAdapter{sess: l.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: l.database})}
}

// EnsureSchema creates the uniqueness constraints the merge queries rely on.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	sess := l.session(ctx)
	defer sess.Close(ctx)
	for _, q := range []string{
		"CREATE CONSTRAINT raffle_id IF NOT EXISTS FOR (r:Raffle) REQUIRE r.id IS UNIQUE",
		"CREATE CONSTRAINT entry_key IF NOT EXISTS FOR (e:Entry) REQUIRE e.key IS UNIQUE",
	} {
		if _, err := sess.Run(ctx, q, nil); err != nil {
			return fmt.Errorf("store: schema: %w", err)
		}
	}
	return nil
}

// UpsertRaffle creates or updates a raffle.
func (l *Ledger) UpsertRaffle(ctx context.Context, r Raffle) error {
	if r.ID == "" || r.PostURL == "" {
		return domain.NewValidationError("raffle", r.ID, domain.ErrInvalidRequest)
	}
	sess := l.session(ctx)
	defer sess.Close(ctx)

	var total any
	if r.TotalSpots != nil {
		total = int64(*r.TotalSpots)
	}
	_, err := sess.Run(ctx, `
MERGE (r:Raffle {id: $id})
SET r.post_url = $post_url, r.cost_per_spot = $cost, r.total_spots = $total,
    r.active = $active, r.updated_at = $now`,
		map[string]any{
			"id":       r.ID,
			"post_url": r.PostURL,
			"cost":     int64(r.CostPerSpot),
			"total":    total,
			"active":   r.Active,
			"now":      l.now().Unix(),
		})
	if err != nil {
		return fmt.Errorf("store: upsert raffle %s: %w", r.ID, err)
	}
	return nil
}

// ActiveRaffles lists raffles still being scanned.
func (l *Ledger) ActiveRaffles(ctx context.Context) ([]Raffle, error) {
	sess := l.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, `
MATCH (r:Raffle {active: true})
RETURN r.id AS id, r.post_url AS post_url, r.cost_per_spot AS cost, r.total_spots AS total
ORDER BY r.id`, nil)
	if err != nil {
		return nil, fmt.Errorf("store: active raffles: %w", err)
	}
	var out []Raffle
	for res.Next(ctx) {
		rec := res.Record()
		r := Raffle{
			ID:          str(rec, "id"),
			PostURL:     str(rec, "post_url"),
			CostPerSpot: domain.Amount(i64(rec, "cost")),
			Active:      true,
		}
		if v, ok := rec.Get("total"); ok && v != nil {
			n := int(i64(rec, "total"))
			r.TotalSpots = &n
		}
		out = append(out, r)
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("store: active raffles: %w", err)
	}
	return out, nil
}

// Deactivate stops a raffle from being polled.
func (l *Ledger) Deactivate(ctx context.Context, raffleID string) error {
	sess := l.session(ctx)
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, "MATCH (r:Raffle {id: $id}) SET r.active = false RETURN r.id AS id",
		map[string]any{"id": raffleID})
	if err != nil {
		return fmt.Errorf("store: deactivate %s: %w", raffleID, err)
	}
	if !res.Next(ctx) {
		return fmt.Errorf("%w: %s", ErrRaffleNotFound, raffleID)
	}
	return nil
}

// LoadState returns the comment ids already recorded for a raffle, the ones
// still waiting on a tab reply, and the confirmed spot total.
func (l *Ledger) LoadState(ctx context.Context, raffleID string) (State, error) {
	sess := l.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, `
MATCH (:Raffle {id: $id})-[:HAS_ENTRY]->(e:Entry)
RETURN e.comment_id AS comment_id, e.status AS status, e.spots AS spots`,
		map[string]any{"id": raffleID})
	if err != nil {
		return State{}, fmt.Errorf("store: load state %s: %w", raffleID, err)
	}

	var st State
	seen := make(map[string]bool)
	for res.Next(ctx) {
		rec := res.Record()
		id := str(rec, "comment_id")
		status := domain.Status(str(rec, "status"))
		if !seen[id] {
			seen[id] = true
			st.Processed = append(st.Processed, id)
		}
		switch status {
		case domain.StatusTabPending:
			st.Pending = append(st.Pending, id)
		case domain.StatusConfirmed:
			st.AssignedSpots += int(i64(rec, "spots"))
		}
	}
	if err := res.Err(); err != nil {
		return State{}, fmt.Errorf("store: load state %s: %w", raffleID, err)
	}
	return st, nil
}

// Merge writes parsed participants. Tab-pending entries for comments that now
// carry a decision are replaced. The paid flag of an existing entry is never
// overwritten.
func (l *Ledger) Merge(ctx context.Context, raffleID string, ps []domain.Participant) error {
	if len(ps) == 0 {
		return nil
	}
	for _, p := range ps {
		if err := domain.ValidateParticipant(p); err != nil {
			return fmt.Errorf("store: merge %s: entry %s: %w", raffleID, p.Key(), err)
		}
	}
	sess := l.session(ctx)
	defer sess.Close(ctx)

	rows := make([]map[string]any, 0, len(ps))
	var decided []string
	for _, p := range ps {
		rows = append(rows, l.row(raffleID, p))
		if p.Status != domain.StatusTabPending {
			decided = append(decided, p.SourceCommentID)
		}
	}

	if len(decided) > 0 {
		if _, err := sess.Run(ctx, `
MATCH (:Raffle {id: $id})-[:HAS_ENTRY]->(e:Entry {status: 'tab_pending'})
WHERE e.comment_id IN $comments
DETACH DELETE e`, map[string]any{"id": raffleID, "comments": decided}); err != nil {
			return fmt.Errorf("store: clear pending %s: %w", raffleID, err)
		}
	}

	_, err := sess.Run(ctx, `
MATCH (r:Raffle {id: $id})
UNWIND $rows AS row
MERGE (e:Entry {key: row.key})
ON CREATE SET e.id = row.id, e.paid = false, e.created_utc = row.created_utc
SET e.reddit_user = row.reddit_user, e.name = row.name, e.comment = row.comment,
    e.spots = row.spots, e.requested_spots = row.requested_spots,
    e.claimed_spots = row.claimed_spots, e.open = row.open, e.owed = row.owed,
    e.comment_id = row.comment_id, e.status = row.status,
    e.needs_review = row.needs_review, e.updated_at = row.updated_at
MERGE (r)-[:HAS_ENTRY]->(e)`, map[string]any{"id": raffleID, "rows": rows})
	if err != nil {
		return fmt.Errorf("store: merge %d entries into %s: %w", len(rows), raffleID, err)
	}
	return nil
}

func (l *Ledger) row(raffleID string, p domain.Participant) map[string]any {
	key := EntryKey(raffleID, p)
	return map[string]any{
		"key":             key,
		"id":              EntryID(key),
		"reddit_user":     p.User,
		"name":            p.DisplayName,
		"comment":         p.Comment,
		"spots":           int64(p.Spots),
		"requested_spots": int64(p.RequestedSpots),
		"claimed_spots":   int64(p.ClaimedSpots),
		"open":            p.Open,
		"owed":            int64(p.Owed),
		"created_utc":     p.CreatedAt,
		"comment_id":      p.SourceCommentID,
		"status":          string(p.Status),
		"needs_review":    p.NeedsReview,
		"updated_at":      l.now().Unix(),
	}
}

// ApplyRemovals marks the unpaid confirmed entries of the named users as
// removed and returns how many changed.
func (l *Ledger) ApplyRemovals(ctx context.Context, raffleID string, users []string) (int, error) {
	if len(users) == 0 {
		return 0, nil
	}
	lower := make([]string, len(users))
	for i, u := range users {
		lower[i] = strings.ToLower(u)
	}
	sess := l.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, `
MATCH (:Raffle {id: $id})-[:HAS_ENTRY]->(e:Entry {status: 'confirmed'})
WHERE toLower(e.reddit_user) IN $users AND coalesce(e.paid, false) = false
SET e.status = 'removed', e.spots = 0, e.requested_spots = 0, e.owed = 0, e.updated_at = $now
RETURN count(e) AS n`, map[string]any{"id": raffleID, "users": lower, "now": l.now().Unix()})
	if err != nil {
		return 0, fmt.Errorf("store: apply removals %s: %w", raffleID, err)
	}
	if !res.Next(ctx) {
		return 0, nil
	}
	return int(i64(res.Record(), "n")), nil
}

// Entries returns a raffle's ledger, newest first.
func (l *Ledger) Entries(ctx context.Context, raffleID string) ([]domain.Participant, error) {
	sess := l.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, `
MATCH (:Raffle {id: $id})-[:HAS_ENTRY]->(e:Entry)
RETURN e.reddit_user AS reddit_user, e.name AS name, e.comment AS comment,
       e.spots AS spots, e.requested_spots AS requested_spots,
       e.claimed_spots AS claimed_spots, e.open AS open, e.owed AS owed,
       e.paid AS paid, e.created_utc AS created_utc, e.comment_id AS comment_id,
       e.status AS status, e.needs_review AS needs_review
ORDER BY e.created_utc DESC, e.comment_id DESC, e.reddit_user DESC`, map[string]any{"id": raffleID})
	if err != nil {
		return nil, fmt.Errorf("store: entries %s: %w", raffleID, err)
	}
	var out []domain.Participant
	for res.Next(ctx) {
		rec := res.Record()
		out = append(out, domain.Participant{
			User:            str(rec, "reddit_user"),
			DisplayName:     str(rec, "name"),
			Comment:         str(rec, "comment"),
			Spots:           int(i64(rec, "spots")),
			RequestedSpots:  int(i64(rec, "requested_spots")),
			ClaimedSpots:    int(i64(rec, "claimed_spots")),
			Open:            boolean(rec, "open"),
			Owed:            domain.Amount(i64(rec, "owed")),
			Paid:            boolean(rec, "paid"),
			CreatedAt:       i64(rec, "created_utc"),
			SourceCommentID: str(rec, "comment_id"),
			Status:          domain.Status(str(rec, "status")),
			NeedsReview:     boolean(rec, "needs_review"),
		})
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("store: entries %s: %w", raffleID, err)
	}
	return out, nil
}

var entryNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("raffle-ledger/entries"))

// EntryKey scopes a participant key to its raffle.
func EntryKey(raffleID string, p domain.Participant) string {
	return raffleID + ":" + p.Key()
}

// EntryID is the stable entry id for a key.
func EntryID(key string) string {
	return uuid.NewSHA1(entryNamespace, []byte(key)).String()
}

func str(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	s, _ := v.(string)
	return s
}

func i64(rec *neo4j.Record, key string) int64 {
	v, _ := rec.Get(key)
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func boolean(rec *neo4j.Record, key string) bool {
	v, _ := rec.Get(key)
	b, _ := v.(bool)
	return b
}

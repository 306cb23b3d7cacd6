package parse

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/WessleyAI/raffle-ledger/engine/domain"
	"github.com/WessleyAI/raffle-ledger/engine/reddit"
	"github.com/WessleyAI/raffle-ledger/pkg/metrics"
)

type fakeFetcher struct {
	thread *reddit.Thread
	err    error
	calls  int
}

func (f *fakeFetcher) Fetch(ctx context.Context, postURL string) (*reddit.Thread, error) {
	f.calls++
	return f.thread, f.err
}

type fakeNames map[string]string

func (f fakeNames) DisplayNames(ctx context.Context, users []string) (map[string]string, error) {
	return f, nil
}

type panicClassifier struct{}

func (panicClassifier) Classify(context.Context, []string) []domain.ParsedClaim { panic("boom") }

type shortClassifier struct{}

func (shortClassifier) Classify(context.Context, []string) []domain.ParsedClaim { return nil }

const host = "RaffleHost"

func hostReply(body string) domain.RawComment {
	return domain.RawComment{Author: host, Body: body, IsSubmitter: true}
}

func comment(id, author, body string, created int64, replies ...domain.RawComment) domain.RawComment {
	return domain.RawComment{ID: id, Author: author, Body: body, CreatedAt: created, Replies: replies}
}

// sampleThread mirrors a real raffle: newest comments first.
func sampleThread() *reddit.Thread {
	base := time.Now().Add(-time.Hour).Unix()
	return &reddit.Thread{
		PostID: "p1",
		Owner:  host,
		Comments: []domain.RawComment{
			{ID: "ann", Author: host, IsSubmitter: true, CreatedAt: base + 900,
				Body:    "Attention unpaid participants: your unpaid slots have been removed due to lack of payment.",
				Replies: []domain.RawComment{hostReply("u/slow")}},
			comment("c6", "AutoModerator", "Please read the rules", base+800),
			comment("c7", "lurker", "https://i.imgur.com/abc123.png", base+700),
			comment("c8", host, "You got 4, 5", base+650),
			comment("c5", "eve", "close", base+500, hostReply("You got the rest! Thanks")),
			comment("c4", "dan", "tab 2 please", base+400),
			comment("c3", "carol", "4 spots", base+300, hostReply("Waitlist starts here")),
			comment("c2", "bob", "3 for me and 3 for u/other", base+200, hostReply("You got 1, 2, 3 u/other got 4, 5, 6")),
			comment("c1", "alice", "1-5", base+100, hostReply("You got 1, 2, 3, 4, 5")),
			comment("c0", "slow", "3 spots", base+50, hostReply("You got 7, 8, 9")),
			comment("cx", domain.DeletedAuthor, "[deleted]", base+10, hostReply("You got 10")),
		},
	}
}

func intPtr(n int) *int { return &n }

func byUser(ps []domain.Participant) map[string]domain.Participant {
	out := make(map[string]domain.Participant, len(ps))
	for _, p := range ps {
		out[p.User] = p
	}
	return out
}

func TestParse_FullThread(t *testing.T) {
	reg := metrics.New()
	p := New(&fakeFetcher{thread: sampleThread()}, nil, Options{Metrics: reg})

	res, err := p.Parse(context.Background(), Request{
		PostURL:     "https://www.reddit.com/r/x/comments/p1/",
		CostPerSpot: 200,
		TotalSpots:  intPtr(15),
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	got := byUser(res.Participants)
	want := map[string]struct {
		status domain.Status
		spots  int
	}{
		"eve":   {domain.StatusConfirmed, 4},
		"dan":   {domain.StatusTabPending, 0},
		"carol": {domain.StatusWaitlist, 0},
		"bob":   {domain.StatusConfirmed, 3},
		"other": {domain.StatusConfirmed, 3},
		"alice": {domain.StatusConfirmed, 5},
		"slow":  {domain.StatusRemoved, 0},
	}
	if len(res.Participants) != len(want) {
		t.Fatalf("expected %d participants, got %d: %+v", len(want), len(res.Participants), res.Participants)
	}
	for user, w := range want {
		g, ok := got[user]
		if !ok {
			t.Errorf("missing %s", user)
			continue
		}
		if g.Status != w.status || g.Spots != w.spots {
			t.Errorf("%s: got {%s %d}, want {%s %d}", user, g.Status, g.Spots, w.status, w.spots)
		}
		if err := domain.ValidateParticipant(g); err != nil {
			t.Errorf("%s: %v", user, err)
		}
	}

	if got["alice"].Owed != 1000 {
		t.Errorf("alice owes %s, want 10.00", got["alice"].Owed)
	}
	if got["other"].SourceCommentID != "c2" || got["bob"].SourceCommentID != "c2" {
		t.Error("dual entries must share the source comment id")
	}
	if got["bob"].Key() == got["other"].Key() {
		t.Error("dual entries must have distinct keys")
	}
	if res.Participants[0].User != "eve" {
		t.Errorf("expected newest-first order, got %s first", res.Participants[0].User)
	}
	if len(res.Removed) != 1 || res.Removed[0] != "slow" {
		t.Errorf("unexpected removal set %v", res.Removed)
	}
	if len(res.Flags) != 0 {
		t.Errorf("unexpected flags %+v", res.Flags)
	}

	rendered := reg.Render()
	if !strings.Contains(rendered, `raffle_parse_total{outcome="ok"} 1`) {
		t.Errorf("parse counter missing:\n%s", rendered)
	}
}

func TestParse_CapacityNeverExceeded(t *testing.T) {
	p := New(&fakeFetcher{thread: sampleThread()}, nil, Options{})
	res, err := p.Parse(context.Background(), Request{PostURL: "u", TotalSpots: intPtr(6), AssignedSpots: 2})
	if err != nil {
		t.Fatal(err)
	}
	total := 0
	for _, part := range res.Participants {
		total += part.Spots
	}
	if total != 4 {
		t.Errorf("expected 4 remaining spots assigned, got %d", total)
	}
	if got := byUser(res.Participants)["alice"]; got.Spots != 4 || got.RequestedSpots != 5 {
		t.Errorf("alice should be partially filled: %+v", got)
	}
}

func TestParse_SkipsProcessedButKeepsPending(t *testing.T) {
	p := New(&fakeFetcher{thread: sampleThread()}, nil, Options{})
	res, err := p.Parse(context.Background(), Request{
		PostURL:   "u",
		Processed: []string{"ann", "c1", "c3", "c4"},
		Pending:   []string{"c4"},
	})
	if err != nil {
		t.Fatal(err)
	}
	got := byUser(res.Participants)
	if _, ok := got["alice"]; ok {
		t.Error("processed comment c1 should be skipped")
	}
	if _, ok := got["carol"]; ok {
		t.Error("processed comment c3 should be skipped")
	}
	if got["dan"].Status != domain.StatusTabPending {
		t.Error("pending comment c4 should be re-examined")
	}
	if got["slow"].Status != domain.StatusRemoved {
		t.Error("removal scan must run before processed filtering")
	}
}

func TestParse_TabPendingRoundTrip(t *testing.T) {
	th := sampleThread()
	fetch := &fakeFetcher{thread: th}
	p := New(fetch, nil, Options{})

	first, err := p.Parse(context.Background(), Request{PostURL: "u"})
	if err != nil {
		t.Fatal(err)
	}
	if byUser(first.Participants)["dan"].Status != domain.StatusTabPending {
		t.Fatal("expected tab pending on first pass")
	}

	for i := range th.Comments {
		if th.Comments[i].ID == "c4" {
			th.Comments[i].Replies = []domain.RawComment{hostReply("You got 11, 12")}
		}
	}
	var processed []string
	for _, part := range first.Participants {
		processed = append(processed, part.SourceCommentID)
	}
	second, err := p.Parse(context.Background(), Request{PostURL: "u", Processed: processed, Pending: []string{"c4"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Participants) != 1 {
		t.Fatalf("expected only the re-examined entry, got %+v", second.Participants)
	}
	dan := second.Participants[0]
	if dan.User != "dan" || dan.Status != domain.StatusConfirmed || dan.Spots != 2 || dan.SourceCommentID != "c4" {
		t.Errorf("unexpected re-examined entry %+v", dan)
	}
}

func TestParse_FetchErrorPassesThrough(t *testing.T) {
	fe := &domain.FetchError{URL: "u", Attempts: 2, Last: "http 429", Err: domain.ErrIdentitiesExhausted}
	p := New(&fakeFetcher{err: fe}, nil, Options{})
	_, err := p.Parse(context.Background(), Request{PostURL: "u"})
	var got *domain.FetchError
	if !errors.As(err, &got) || got.Attempts != 2 {
		t.Fatalf("expected FetchError, got %v", err)
	}
}

func TestParse_InvalidRequest(t *testing.T) {
	fetch := &fakeFetcher{thread: sampleThread()}
	p := New(fetch, nil, Options{})
	for _, req := range []Request{{}, {PostURL: "u", CostPerSpot: -1}, {PostURL: "u", AssignedSpots: -3}} {
		if _, err := p.Parse(context.Background(), req); !errors.Is(err, domain.ErrInvalidRequest) {
			t.Errorf("%+v: expected ErrInvalidRequest, got %v", req, err)
		}
	}
	if fetch.calls != 0 {
		t.Error("invalid requests must not fetch")
	}
}

func TestParse_RecoversPanics(t *testing.T) {
	p := New(&fakeFetcher{thread: sampleThread()}, panicClassifier{}, Options{})
	res, err := p.Parse(context.Background(), Request{PostURL: "u"})
	if err == nil || res != nil {
		t.Fatalf("expected error and no result, got %v %v", res, err)
	}
	if !strings.Contains(err.Error(), "internal error") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestParse_ClassifierLengthMismatchFallsBack(t *testing.T) {
	p := New(&fakeFetcher{thread: sampleThread()}, shortClassifier{}, Options{})
	res, err := p.Parse(context.Background(), Request{PostURL: "u"})
	if err != nil {
		t.Fatal(err)
	}
	if byUser(res.Participants)["eve"].Status != domain.StatusConfirmed {
		t.Error("rules fallback should still recognise the close request")
	}
}

func TestParse_FillsNames(t *testing.T) {
	p := New(&fakeFetcher{thread: sampleThread()}, nil, Options{}).WithNames(fakeNames{"alice": "A S"})
	res, err := p.Parse(context.Background(), Request{PostURL: "u"})
	if err != nil {
		t.Fatal(err)
	}
	got := byUser(res.Participants)
	if got["alice"].DisplayName != "A S" || got["bob"].DisplayName != "" {
		t.Errorf("unexpected names alice=%q bob=%q", got["alice"].DisplayName, got["bob"].DisplayName)
	}
}

func TestParse_ClaimMismatchFlag(t *testing.T) {
	th := &reddit.Thread{PostID: "p", Owner: host, Comments: []domain.RawComment{
		comment("c1", "alice", "3 spots please", 100, hostReply("You got 1, 2")),
	}}
	p := New(&fakeFetcher{thread: th}, nil, Options{})
	res, err := p.Parse(context.Background(), Request{PostURL: "u"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Flags) != 1 || res.Flags[0].Kind != "claim_mismatch" {
		t.Errorf("expected claim mismatch flag, got %+v", res.Flags)
	}
	if res.Participants[0].Spots != 2 {
		t.Error("the host's count is authoritative")
	}
}

func TestParseThread_Nil(t *testing.T) {
	p := New(nil, nil, Options{})
	if _, err := p.ParseThread(context.Background(), nil, Request{}); !errors.Is(err, domain.ErrEmptyThread) {
		t.Errorf("expected ErrEmptyThread, got %v", err)
	}
}

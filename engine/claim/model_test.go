package claim

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/WessleyAI/raffle-ledger/engine/domain"
	"github.com/WessleyAI/raffle-ledger/pkg/ollama"
	"github.com/WessleyAI/raffle-ledger/pkg/resilience"
)

type fakeChat struct {
	reply string
	err   error
	calls int
	delay time.Duration
	users []string
}

func (f *fakeChat) Chat(ctx context.Context, model string, msgs []ollama.Message) (string, error) {
	f.calls++
	f.users = append(f.users, msgs[len(msgs)-1].Content)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.reply, f.err
}

func TestModel_UsesModelCounts(t *testing.T) {
	chat := &fakeChat{reply: "Sure!\n```json\n[2, 0, 0]\n```"}
	m := NewModel(chat, ModelOptions{Model: "llama3"})

	got := m.Classify(context.Background(), []string{"two for me, surprise", "gl all", "close"})
	if len(got) != 3 {
		t.Fatalf("expected 3 claims, got %d", len(got))
	}
	if !got[0].IsClaim || got[0].Spots != 2 || got[0].Kind != domain.ClaimModel {
		t.Errorf("unexpected first claim %+v", got[0])
	}
	if got[1].IsClaim {
		t.Errorf("chatter should not be a claim: %+v", got[1])
	}
	if !got[2].Unspecified || got[2].Kind != domain.ClaimClose {
		t.Errorf("close should survive a model zero: %+v", got[2])
	}
	if !strings.HasPrefix(chat.users[0], "1. two for me, surprise\n2. gl all\n3. close") {
		t.Errorf("unexpected payload %q", chat.users[0])
	}
}

func TestModel_FallsBack(t *testing.T) {
	tests := []struct {
		name string
		chat *fakeChat
	}{
		{"transport error", &fakeChat{err: errors.New("connection refused")}},
		{"not json", &fakeChat{reply: "I think 3 spots"}},
		{"wrong length", &fakeChat{reply: "[1]"}},
		{"negative", &fakeChat{reply: "[-1, 2]"}},
		{"floats", &fakeChat{reply: "[1.5, 2]"}},
		{"timeout", &fakeChat{reply: "[9, 9]", delay: time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fallbacks := 0
			m := NewModel(tt.chat, ModelOptions{
				Timeout:    20 * time.Millisecond,
				OnFallback: func(n int) { fallbacks += n },
			})
			got := m.Classify(context.Background(), []string{"1-5, 17-21", "37 tabbed slum"})
			if got[0].Spots != 10 || got[1].Spots != 1 {
				t.Errorf("expected rules result, got %+v", got)
			}
			if fallbacks != 2 {
				t.Errorf("expected 2 fallbacks, got %d", fallbacks)
			}
		})
	}
}

func TestModel_BreakerSkipsNetwork(t *testing.T) {
	chat := &fakeChat{err: errors.New("down")}
	b := resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 1, Timeout: time.Hour})
	m := NewModel(chat, ModelOptions{Breaker: b, BatchSize: 1})

	got := m.Classify(context.Background(), []string{"3 spots", "4 spots", "5 spots"})
	if chat.calls != 1 {
		t.Errorf("expected the breaker to stop calls after one failure, got %d calls", chat.calls)
	}
	if got[2].Spots != 5 {
		t.Errorf("unexpected fallback %+v", got[2])
	}
}

func TestModel_Batches(t *testing.T) {
	chat := &fakeChat{reply: "[1, 1]"}
	m := NewModel(chat, ModelOptions{BatchSize: 2})
	got := m.Classify(context.Background(), []string{"a", "b", "c", "d"})
	if chat.calls != 2 || len(got) != 4 {
		t.Errorf("expected 2 calls for 4 comments, got %d calls, %d claims", chat.calls, len(got))
	}
}

func TestParseCounts(t *testing.T) {
	if _, err := parseCounts("nothing here", 1); !errors.Is(err, ErrNoArray) {
		t.Errorf("expected ErrNoArray, got %v", err)
	}
	if _, err := parseCounts("[1,2,3]", 2); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("expected ErrLengthMismatch, got %v", err)
	}
	if _, err := parseCounts("[1, 9999]", 2); !errors.Is(err, ErrBadCount) {
		t.Errorf("expected ErrBadCount, got %v", err)
	}
	got, err := parseCounts("Answer: [0, 4] done", 2)
	if err != nil || got[1] != 4 {
		t.Errorf("unexpected %v %v", got, err)
	}
}

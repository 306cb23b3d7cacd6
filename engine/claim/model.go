package claim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/WessleyAI/raffle-ledger/engine/domain"
	"github.com/WessleyAI/raffle-ledger/pkg/fn"
	"github.com/WessleyAI/raffle-ledger/pkg/ollama"
	"github.com/WessleyAI/raffle-ledger/pkg/resilience"
)

// maxModelSpots bounds a single model answer; anything larger is rejected.
const maxModelSpots = 500

// Errors returned by the model output check.
var (
	ErrNoArray        = errors.New("no json array in model output")
	ErrLengthMismatch = errors.New("model output length mismatch")
	ErrBadCount       = errors.New("model output out of range")
)

// Chatter is the subset of the Ollama client the classifier needs.
type Chatter interface {
	Chat(ctx context.Context, model string, msgs []ollama.Message) (string, error)
}

// ModelOptions controls the model-backed classifier.
type ModelOptions struct {
	Model     string
	Timeout   time.Duration // per batch; default 20s
	BatchSize int           // comments per request; default 40
	Breaker   *resilience.Breaker
	Logger    *slog.Logger
	// OnFallback is called with the number of comments that were classified
	// by Rules instead of the model.
	OnFallback func(n int)
}

// Model classifies comments in batches through a chat model. Any failure
// (transport, timeout, malformed or mismatched output, open breaker) makes
// that batch fall back to Rules.
type Model struct {
	chat Chatter
	opts ModelOptions
	log  *slog.Logger
}

// NewModel creates a model-backed classifier.
func NewModel(chat Chatter, opts ModelOptions) *Model {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 40
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Breaker == nil {
		opts.Breaker = resilience.NewBreaker(resilience.BreakerOpts{
			FailThreshold: 3,
			Timeout:       time.Minute,
			OnChange: func(from, to resilience.State) {
				log.Warn("classifier breaker state changed", "from", from.String(), "to", to.String())
			},
		})
	}
	return &Model{chat: chat, opts: opts, log: log}
}

const systemPrompt = `You count raffle spot requests in Reddit comments.
For each numbered comment, answer with how many spots the commenter is requesting.
Rules:
- "N spots" or "N slots" means N.
- A range like "1-5" means every number in it (5 spots).
- A list of spot numbers means one spot per number.
- "random", "randos", "a random" mean one random spot each; "3 randoms" means 3.
- "X or Y" means one spot. A backup set after "sub" or "if not available" is not extra.
- "snipe" means 1. Chatter, thanks and questions mean 0.
Reply with only a JSON array of non-negative integers, one per comment, in order.`

// Classify implements Classifier.
func (m *Model) Classify(ctx context.Context, bodies []string) []domain.ParsedClaim {
	out := make([]domain.ParsedClaim, 0, len(bodies))
	for _, batch := range fn.Chunk(bodies, m.opts.BatchSize) {
		rules := Rules{}.Classify(ctx, batch)
		counts, err := m.batch(ctx, batch).Unwrap()
		if err != nil {
			m.log.Warn("model classification failed, using rules", "comments", len(batch), "error", err)
			if m.opts.OnFallback != nil {
				m.opts.OnFallback(len(batch))
			}
			out = append(out, rules...)
			continue
		}
		for i, n := range counts {
			out = append(out, merge(rules[i], n))
		}
	}
	return out
}

func (m *Model) batch(ctx context.Context, bodies []string) fn.Result[[]int] {
	return resilience.CallResult(m.opts.Breaker, ctx, func(ctx context.Context) fn.Result[[]int] {
		ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
		defer cancel()

		reply, err := m.chat.Chat(ctx, m.opts.Model, []ollama.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: numbered(bodies)},
		})
		if err != nil {
			return fn.Err[[]int](err)
		}
		return fn.FromPair(parseCounts(reply, len(bodies)))
	})
}

func numbered(bodies []string) string {
	var b strings.Builder
	for i, body := range bodies {
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.Join(strings.Fields(body), " "))
	}
	return b.String()
}

// parseCounts checks the output contract: a JSON array of exactly want
// non-negative integers.
func parseCounts(reply string, want int) ([]int, error) {
	raw := extractArray(reply)
	if raw == "" {
		return nil, ErrNoArray
	}
	var counts []int
	if err := json.Unmarshal([]byte(raw), &counts); err != nil {
		return nil, fmt.Errorf("model output: %w", err)
	}
	if len(counts) != want {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrLengthMismatch, len(counts), want)
	}
	for i, n := range counts {
		if n < 0 || n > maxModelSpots {
			return nil, fmt.Errorf("%w: item %d = %d", ErrBadCount, i+1, n)
		}
	}
	return counts, nil
}

// extractArray finds the first JSON array in free text, preferring a fenced
// code block, then falling back to bracket matching.
func extractArray(text string) string {
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			if s := extractArray(rest[:j]); s != "" {
				return s
			}
		}
	}
	start := strings.IndexByte(text, '[')
	if start < 0 {
		return ""
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// merge lets the model's count override the rules' count while keeping the
// rules' reading of close and drama requests, which a bare count cannot carry.
func merge(r domain.ParsedClaim, n int) domain.ParsedClaim {
	if r.Kind == domain.ClaimClose || r.Kind == domain.ClaimDrama {
		return r
	}
	c := r
	c.Spots = n
	c.IsClaim = n > 0
	switch {
	case !c.IsClaim:
		c.Kind = domain.ClaimNone
	case !r.IsClaim || r.Spots != n:
		c.Kind = domain.ClaimModel
	}
	return c
}

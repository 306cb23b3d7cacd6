// Package reddit retrieves raffle threads from Reddit's public JSON API and
// flattens their comment trees.
package reddit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/WessleyAI/raffle-ledger/engine/domain"
	"github.com/WessleyAI/raffle-ledger/pkg/fn"
)

const maxBodyBytes = 32 << 20

// Options controls fetch behavior.
type Options struct {
	Timeout time.Duration // per attempt; default 60s
	Pace    time.Duration // minimum spacing between attempts; default 1s
	Logger  *slog.Logger
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{Timeout: 60 * time.Second, Pace: time.Second}
}

// Fetcher retrieves a post's full comment tree, rotating through identities
// until one yields a usable listing.
type Fetcher struct {
	pool    IdentityProvider
	opts    Options
	limiter *rate.Limiter
	log     *slog.Logger

	mu         sync.Mutex
	transports map[string]http.RoundTripper
	transport  func(Identity) (http.RoundTripper, error)
	shuffle    func(n int, swap func(i, j int))
}

// NewFetcher creates a Fetcher over pool.
func NewFetcher(pool IdentityProvider, opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Pace <= 0 {
		opts.Pace = time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		pool:       pool,
		opts:       opts,
		limiter:    rate.NewLimiter(rate.Every(opts.Pace), 1),
		log:        log,
		transports: make(map[string]http.RoundTripper),
		transport:  newTransport,
		shuffle:    rand.Shuffle,
	}
}

// Fetch returns the flattened thread for postURL. Every failure is a
// *domain.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, postURL string) (*Thread, error) {
	ref, err := ParsePostURL(postURL)
	if err != nil {
		return nil, &domain.FetchError{URL: postURL, Err: err}
	}
	endpoint := ref.JSONURL()

	pool := append([]Identity(nil), f.pool.Identities()...)
	if len(pool) == 0 {
		return nil, &domain.FetchError{URL: endpoint, Err: domain.ErrNoIdentities}
	}
	f.shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	var (
		last    string
		lastErr error
	)
	for i, id := range pool {
		res := f.attempt(ctx, endpoint, id)
		thread, err := res.Unwrap()
		if err == nil {
			f.log.Info("thread fetched", "post", ref.ID, "identity", id.Name,
				"comments", len(thread.Comments), "attempt", i+1)
			return thread, nil
		}
		if ctx.Err() != nil {
			return nil, &domain.FetchError{URL: endpoint, Attempts: i + 1, Last: err.Error(), Err: ctx.Err()}
		}
		last, lastErr = err.Error(), err
		f.log.Warn("fetch attempt failed", "post", ref.ID, "identity", id.Name, "error", err)
	}

	cause := domain.ErrIdentitiesExhausted
	if errors.Is(lastErr, domain.ErrEmptyThread) {
		cause = domain.ErrEmptyThread
	}
	return nil, &domain.FetchError{URL: endpoint, Attempts: len(pool), Last: last, Err: cause}
}

func (f *Fetcher) attempt(ctx context.Context, endpoint string, id Identity) fn.Result[*Thread] {
	if err := f.limiter.Wait(ctx); err != nil {
		return fn.Err[*Thread](err)
	}
	rt, err := f.roundTripper(id)
	if err != nil {
		return fn.Err[*Thread](err)
	}
	client := &http.Client{Transport: rt, Timeout: f.opts.Timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fn.Err[*Thread](err)
	}
	req.Header.Set("User-Agent", id.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fn.Err[*Thread](err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return fn.Errf[*Thread]("http 403 from %s (identity blocked)", endpoint)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fn.Errf[*Thread]("http 429 from %s (rate limited)", endpoint)
	case resp.StatusCode != http.StatusOK:
		return fn.Errf[*Thread]("unexpected status %d from %s", resp.StatusCode, endpoint)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fn.Err[*Thread](fmt.Errorf("read body: %w", err))
	}
	return fn.FromPair(ParseThread(data))
}

func (f *Fetcher) roundTripper(id Identity) (http.RoundTripper, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rt, ok := f.transports[id.Name]; ok {
		return rt, nil
	}
	rt, err := f.transport(id)
	if err != nil {
		return nil, err
	}
	f.transports[id.Name] = rt
	return rt, nil
}

package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/WessleyAI/raffle-ledger/engine/claim"
	"github.com/WessleyAI/raffle-ledger/engine/corrections"
	"github.com/WessleyAI/raffle-ledger/engine/names"
	"github.com/WessleyAI/raffle-ledger/engine/parse"
	"github.com/WessleyAI/raffle-ledger/engine/reddit"
	"github.com/WessleyAI/raffle-ledger/engine/store"
	"github.com/WessleyAI/raffle-ledger/pkg/config"
	"github.com/WessleyAI/raffle-ledger/pkg/metrics"
	"github.com/WessleyAI/raffle-ledger/pkg/ollama"
)

// Components is everything built from a Config. Optional parts are nil when
// not configured.
type Components struct {
	Parser      *parse.Parser
	Classifier  claim.Classifier
	Corrections corrections.Store
	Names       *names.Mapper
	Ledger      *store.Ledger

	closers []func() error
}

// Close releases every opened connection, newest first.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// BuildParser wires the fetcher, classifier, corrections overlay and name
// mapper described by cfg. It does not connect to Neo4j.
func BuildParser(ctx context.Context, cfg *config.Config, reg *metrics.Registry, log *slog.Logger) (*Components, error) {
	if log == nil {
		log = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	c := &Components{}

	fetcher, err := buildFetcher(cfg, reg, log)
	if err != nil {
		return nil, err
	}

	classify, err := c.buildClassifier(ctx, cfg, reg, log)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Classifier = classify
	c.Parser = parse.New(fetcher, classify, parse.Options{
		TabGrace:  cfg.Parser.TabGrace,
		HighWater: cfg.Parser.HighWater,
		Bots:      cfg.Parser.Bots,
		Logger:    log,
		Metrics:   reg,
	})

	if cfg.Postgres.URL != "" {
		db, err := names.Open(ctx, cfg.Postgres.URL)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.closers = append(c.closers, db.Close)
		c.Names = names.New(db, log)
		c.Parser.WithNames(c.Names)
		log.Info("name mapping enabled")
	}
	return c, nil
}

// Build is BuildParser plus a Neo4j ledger with its schema in place.
func Build(ctx context.Context, cfg *config.Config, reg *metrics.Registry, log *slog.Logger) (*Components, error) {
	c, err := BuildParser(ctx, cfg, reg, log)
	if err != nil {
		return nil, err
	}
	driver, err := store.Connect(ctx, cfg.Neo4j.URL, cfg.Neo4j.User, cfg.Neo4j.Password)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.closers = append(c.closers, func() error { return driver.Close(context.Background()) })
	c.Ledger = store.New(driver, cfg.Neo4j.Database)
	if err := c.Ledger.EnsureSchema(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func buildFetcher(cfg *config.Config, reg *metrics.Registry, log *slog.Logger) (parse.Fetcher, error) {
	pool := reddit.DirectPool("")
	if cfg.Reddit.IdentitiesFile != "" {
		p, err := reddit.LoadIdentities(cfg.Reddit.IdentitiesFile)
		if err != nil {
			return nil, err
		}
		pool = p
		log.Info("identity pool loaded", "identities", len(p))
	}
	f := reddit.NewFetcher(pool, reddit.Options{
		Timeout: cfg.Reddit.Timeout,
		Pace:    cfg.Reddit.Pace,
		Logger:  log,
	})
	return timedFetcher{
		next:     f,
		duration: reg.Histogram("raffle_fetch_duration_seconds", "Thread fetch latency", metrics.DefaultBuckets),
		failed:   reg.Counter("raffle_fetch_errors_total", "Thread fetches that failed"),
	}, nil
}

func (c *Components) buildClassifier(ctx context.Context, cfg *config.Config, reg *metrics.Registry, log *slog.Logger) (claim.Classifier, error) {
	var base claim.Classifier = claim.Rules{}
	var client *ollama.Client
	if cfg.Classifier.Mode == "model" || cfg.Corrections.Backend == "qdrant" {
		client = ollama.New(cfg.Classifier.OllamaURL, cfg.Classifier.Timeout)
	}
	if cfg.Classifier.Mode == "model" {
		fallbacks := reg.Counter("raffle_classifier_fallback_total", "Comments classified by rules after a model failure")
		base = claim.NewModel(client, claim.ModelOptions{
			Model:      cfg.Classifier.Model,
			Timeout:    cfg.Classifier.Timeout,
			BatchSize:  cfg.Classifier.BatchSize,
			Logger:     log,
			OnFallback: func(n int) { fallbacks.Add(int64(n)) },
		})
	}

	switch cfg.Corrections.Backend {
	case "file":
		fs, err := corrections.OpenFile(cfg.Corrections.File)
		if err != nil {
			return nil, err
		}
		c.Corrections = fs
		log.Info("corrections loaded", "backend", "file", "count", fs.Len())
	case "qdrant":
		vs, err := corrections.NewVectorStore(cfg.Corrections.QdrantAddr, cfg.Corrections.Collection,
			ollama.Embedder{Client: client, Model: cfg.Corrections.EmbedModel})
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, vs.Close)
		if cfg.Corrections.MinScore > 0 {
			vs.MinScore = cfg.Corrections.MinScore
		}
		if err := vs.EnsureCollection(ctx, cfg.Corrections.Dims); err != nil {
			return nil, err
		}
		c.Corrections = vs
		log.Info("corrections enabled", "backend", "qdrant", "collection", cfg.Corrections.Collection)
	default:
		return base, nil
	}
	return &corrections.Overlay{Base: base, Store: c.Corrections, Log: log}, nil
}

type timedFetcher struct {
	next     parse.Fetcher
	duration *metrics.Histogram
	failed   *metrics.Counter
}

func (t timedFetcher) Fetch(ctx context.Context, postURL string) (*reddit.Thread, error) {
	start := time.Now()
	th, err := t.next.Fetch(ctx, postURL)
	t.duration.Since(start)
	if err != nil {
		t.failed.Inc()
	}
	return th, err
}

package main

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/robfig/cron/v3"

	"github.com/WessleyAI/raffle-ledger/engine/parse"
	"github.com/WessleyAI/raffle-ledger/engine/service"
	"github.com/WessleyAI/raffle-ledger/engine/store"
	"github.com/WessleyAI/raffle-ledger/pkg/config"
	"github.com/WessleyAI/raffle-ledger/pkg/fn"
	"github.com/WessleyAI/raffle-ledger/pkg/metrics"
	"github.com/WessleyAI/raffle-ledger/pkg/natsutil"
)

const queueGroup = "raffle-workers"

type raffleService interface {
	Scan(ctx context.Context, req parse.Request) (*parse.Result, error)
	SyncAll(ctx context.Context, workers int) ([]store.Raffle, []fn.Result[*service.Update], error)
}

type worker struct {
	svc         raffleService
	nc          *nats.Conn
	subject     string
	updates     string
	concurrency int
	log         *slog.Logger

	polls     *metrics.Counter
	failures  *metrics.Counter
	published *metrics.Counter
	lastPoll  *metrics.Gauge
}

func newWorker(svc raffleService, nc *nats.Conn, cfg *config.Config, reg *metrics.Registry, log *slog.Logger) *worker {
	return &worker{
		svc:         svc,
		nc:          nc,
		subject:     cfg.NATS.Subject,
		updates:     cfg.NATS.Updates,
		concurrency: cfg.Worker.Concurrency,
		log:         log,
		polls:       reg.Counter("raffle_worker_polls_total", "Scheduled sync rounds"),
		failures:    reg.Counter("raffle_worker_sync_failures_total", "Raffle syncs that failed"),
		published:   reg.Counter("raffle_worker_updates_published_total", "Ledger updates published"),
		lastPoll:    reg.Gauge("raffle_worker_last_poll_timestamp", "Epoch of the last sync round"),
	}
}

// serve answers scan requests on the configured subject. Workers share a
// queue group so each request is handled once.
func (w *worker) serve() (*nats.Subscription, error) {
	return natsutil.Handle(w.nc, w.subject, queueGroup, w.log, w.svc.Scan)
}

// poll syncs every active raffle and publishes the successful updates.
func (w *worker) poll(ctx context.Context) {
	w.polls.Inc()
	w.lastPoll.Set(time.Now().Unix())

	raffles, results, err := w.svc.SyncAll(ctx, w.concurrency)
	if err != nil {
		w.failures.Inc()
		w.log.Error("sync round failed", "err", err)
		return
	}
	ok := 0
	for i, r := range results {
		up, err := r.Unwrap()
		if err != nil {
			w.failures.Inc()
			continue
		}
		ok++
		if err := natsutil.Publish(ctx, w.nc, w.updates, up); err != nil {
			w.log.Error("publish update", "raffle", raffles[i].ID, "err", err)
			continue
		}
		w.published.Inc()
	}
	w.log.Info("sync round done", "raffles", len(raffles), "synced", ok)
}

// schedule registers the sync round on c and returns the job as wrapped by
// c's chain, so an immediate first round gets the same recovery and overlap
// protection as the scheduled ones.
func (w *worker) schedule(ctx context.Context, c *cron.Cron, spec string) (cron.Job, error) {
	id, err := c.AddFunc(spec, func() { w.poll(ctx) })
	if err != nil {
		return nil, err
	}
	return c.Entry(id).WrappedJob, nil
}

// recoverJob keeps a panicking sync round from taking the scheduler down.
func recoverJob(log *slog.Logger) cron.JobWrapper {
	return func(j cron.Job) cron.Job {
		return cron.FuncJob(func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("job panicked", "panic", r, "stack", string(debug.Stack()))
				}
			}()
			j.Run()
		})
	}
}

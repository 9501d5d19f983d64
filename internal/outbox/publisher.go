package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/meridian-commerce/backbone/internal/metrics"
)

// Publisher is the outbox delivery worker: polls Repository.ClaimBatch,
// publishes each event to Sink, marks it published, and runs a periodic
// recovery sweep so a crashed replica's claims are requeued.
type Publisher struct {
	repo Repository
	sink Sink
	cfg  PublisherConfig

	service string
}

// Sink delivers a claimed event downstream (typically streambus.Producer).
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// PublisherConfig controls polling cadence and batch size.
type PublisherConfig struct {
	BatchSize        int
	PollInterval     time.Duration
	EmptyBackoff     time.Duration
	ErrorBackoff     time.Duration
	ClaimTimeout     time.Duration // how long a claim is considered fresh (staleAfter)
	RecoveryInterval time.Duration
}

// NewPublisher constructs a Publisher. service names the owning process
// for the OutboxPending gauge.
func NewPublisher(service string, repo Repository, sink Sink, cfg PublisherConfig) *Publisher {
	return &Publisher{service: service, repo: repo, sink: sink, cfg: cfg}
}

// Run polls until ctx is canceled. On startup it immediately runs a
// recovery sweep so events claimed by a previous crashed run are
// requeued, then loops: claim a batch, publish each event, mark it
// published; on an empty batch sleep EmptyBackoff; on a claim error
// sleep ErrorBackoff. A ticker drives the periodic recovery sweep
// independently of the main poll cadence.
func (p *Publisher) Run(ctx context.Context) {
	if _, err := p.repo.RecoverStale(ctx, p.cfg.ClaimTimeout); err != nil {
		slog.Error("outbox startup recovery failed", "service", p.service, "error", err)
	}

	recoveryTicker := time.NewTicker(p.cfg.RecoveryInterval)
	defer recoveryTicker.Stop()

	pollTicker := time.NewTicker(p.cfg.PollInterval)
	defer pollTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-recoveryTicker.C:
			n, err := p.repo.RecoverStale(ctx, p.cfg.ClaimTimeout)
			if err != nil {
				slog.Error("outbox recovery sweep failed", "service", p.service, "error", err)
			} else if n > 0 {
				slog.Info("outbox recovery sweep reclaimed stale events", "service", p.service, "count", n)
			}
		case <-pollTicker.C:
			p.pollOnce(ctx, pollTicker)
		}
	}
}

func (p *Publisher) pollOnce(ctx context.Context, pollTicker *time.Ticker) {
	events, err := p.repo.ClaimBatch(ctx, p.cfg.BatchSize, p.cfg.ClaimTimeout)
	if err != nil {
		slog.Error("outbox claim failed", "service", p.service, "error", err)
		pollTicker.Reset(p.cfg.ErrorBackoff)
		return
	}
	if len(events) == 0 {
		pollTicker.Reset(p.cfg.EmptyBackoff)
		if n, err := p.repo.PendingCount(ctx); err == nil {
			metrics.OutboxPending.WithLabelValues(p.service).Set(float64(n))
		}
		return
	}

	for _, ev := range events {
		if err := p.sink.Publish(ctx, ev); err != nil {
			slog.Error("outbox event publish failed, will retry next sweep",
				"service", p.service, "event_id", ev.ID, "event_type", ev.EventType, "error", err)
			continue
		}
		now := time.Now()
		if err := p.repo.MarkPublished(ctx, ev.ID, now); err != nil {
			slog.Error("outbox mark-published failed", "service", p.service, "event_id", ev.ID, "error", err)
			continue
		}
		metrics.OutboxPublishedTotal.WithLabelValues(p.service, ev.EventType).Inc()
	}

	pollTicker.Reset(p.cfg.PollInterval)
	if n, err := p.repo.PendingCount(ctx); err == nil {
		metrics.OutboxPending.WithLabelValues(p.service).Set(float64(n))
	}
}

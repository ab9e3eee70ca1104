package ingress

import (
	"context"
	"log/slog"

	"vaultbot/internal/command"
	"vaultbot/internal/domain"
	"vaultbot/internal/ephemeral"
	"vaultbot/internal/metrics"
	"vaultbot/internal/recovery"
)

const defaultConcurrency = 4

// Loop is the single event-consumption worker. Cache mutations and
// ephemeral extraction run synchronously on the loop goroutine, preserving
// the transport's per-source FIFO; blocking work (downloads, sends,
// command execution) is dispatched to a semaphore-bounded worker pool so
// it never stalls ingestion.
type Loop struct {
	bus         domain.EventBus
	store       domain.MessageStore
	extractor   *ephemeral.Extractor
	composer    *recovery.Composer
	gate        *command.Gate
	concurrency int
	logger      *slog.Logger
}

// LoopConfig holds all collaborators for the ingestion loop.
type LoopConfig struct {
	Bus         domain.EventBus
	Store       domain.MessageStore
	Extractor   *ephemeral.Extractor
	Composer    *recovery.Composer
	Gate        *command.Gate
	Concurrency int
	Logger      *slog.Logger
}

// NewLoop creates the ingestion loop.
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		bus:         cfg.Bus,
		store:       cfg.Store,
		extractor:   cfg.Extractor,
		composer:    cfg.Composer,
		gate:        cfg.Gate,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
	}
}

// Run consumes events until the context is cancelled or the transport
// reports a terminal state. Only ErrTransportUnavailable crosses this
// boundary; everything else is absorbed into degrade paths.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("ingestion loop started", "concurrency", l.concurrency)

	sem := make(chan struct{}, l.concurrency)
	events := l.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("ingestion loop stopping")
			return nil
		case ev, ok := <-events:
			if !ok {
				l.logger.Info("event bus closed, ingestion loop stopping")
				return nil
			}
			if err := l.handle(ctx, ev, sem); err != nil {
				return err
			}
		}
	}
}

func (l *Loop) handle(ctx context.Context, ev domain.Event, sem chan struct{}) error {
	switch e := ev.(type) {
	case domain.MessageEvent:
		l.ingestMessage(ctx, e, sem)

	case domain.ContentUpdateEvent:
		l.extractor.OnContentUpdate(e.MessageID, e.Payload)

	case domain.DeleteEvent:
		for _, sig := range e.Signals {
			l.dispatch(sem, "deletion", func() {
				l.composer.HandleDeletion(ctx, sig)
			})
		}

	case domain.ReactionEvent:
		l.dispatch(sem, "reaction", func() {
			l.gate.HandleReaction(ctx, e)
		})

	case domain.HistorySyncEvent:
		for _, msg := range e.Messages {
			l.put(msg)
		}
		l.logger.Debug("history batch cached", "count", len(e.Messages))

	case domain.ConnStateEvent:
		l.logger.Info("transport connection state", "state", e.State)
		if e.State == domain.ConnLoggedOut {
			return domain.ErrTransportUnavailable
		}
	}
	return nil
}

// ingestMessage caches the message (snapshotting ephemeral media first,
// synchronously) and then offers it to the command gate.
func (l *Loop) ingestMessage(ctx context.Context, ev domain.MessageEvent, sem chan struct{}) {
	msg := ev.Message

	// The snapshot must exist before this function returns; the transport
	// may purge the underlying bytes at any time after delivery.
	l.extractor.OnIngress(&msg)
	l.put(msg)

	quoted := ev.Quoted
	l.dispatch(sem, "command", func() {
		l.gate.HandleText(ctx, msg, quoted)
	})
}

func (l *Loop) put(msg domain.CachedMessage) {
	l.store.Put(msg)
	metrics.MessagesCached.Inc()
	metrics.CacheEntries.Set(int64(l.store.Len()))
}

// dispatch runs fn on the bounded worker pool with panic isolation; a
// handler failure must never take down ingestion.
func (l *Loop) dispatch(sem chan struct{}, kind string, fn func()) {
	sem <- struct{}{}
	go func() {
		defer func() {
			<-sem
			if r := recover(); r != nil {
				l.logger.Error("event handler panic", "kind", kind, "panic", r)
			}
		}()
		fn()
	}()
}

// Package settlement is the single-sequencer intent settlement engine. Every
// operation runs under one lock, so each call is atomic with respect to all
// others, and every committed state change is published as an event.
package settlement

import (
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"sync"
	"time"

	xerrors "intent-settlement/internal/errors"
	"intent-settlement/internal/events"
	"intent-settlement/internal/intent"
	"intent-settlement/internal/observability/alerting"
	"intent-settlement/pkg/logger"
)

// Engine owns the nonce registry, solver registry, fill ledger and batch
// coordinator.
type Engine struct {
	mu sync.Mutex
	// publishMu is taken before mu is released so events leave in sequence order.
	publishMu sync.Mutex

	codec     *intent.Codec
	verifier  intent.Verifier
	transfers Transferer
	publisher events.Publisher
	pubWait   time.Duration
	observer  Observer
	alerter   alerting.Dispatcher
	clock     func() time.Time
	entropy   io.Reader
	logger    *slog.Logger

	params  Params
	nonces  nonceRegistry
	solvers solverRegistry
	fills   fillLedger
	batches batchCoordinator
	seq     uint64
}

// Option customises an Engine.
type Option func(*Engine)

// WithVerifier swaps the signature scheme. The default is secp256k1.
func WithVerifier(v intent.Verifier) Option {
	return func(e *Engine) {
		if v != nil {
			e.verifier = v
		}
	}
}

// WithPublisher sets where committed events go.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

// WithPublishTimeout bounds how long one operation waits for its events to be
// accepted by the publisher. Events still pending at the deadline are dropped
// with an alert.
func WithPublishTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pubWait = d
		}
	}
}

// WithObserver installs a metrics observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithAlerter routes alert-worthy failures to operators.
func WithAlerter(d alerting.Dispatcher) Option {
	return func(e *Engine) {
		e.alerter = d
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithEntropy overrides the randomness mixed into batch ids.
func WithEntropy(r io.Reader) Option {
	return func(e *Engine) {
		if r != nil {
			e.entropy = r
		}
	}
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New builds an engine and opens its first batch.
func New(codec *intent.Codec, transfers Transferer, params Params, opts ...Option) (*Engine, error) {
	if codec == nil || transfers == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "settlement engine requires a codec and a transferer")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		codec:     codec,
		verifier:  intent.Secp256k1Verifier{},
		transfers: transfers,
		publisher: events.Discard{},
		pubWait:   defaultPublishTimeout,
		observer:  nopObserver{},
		clock:     time.Now,
		entropy:   rand.Reader,
		params:    params.clone(),
		nonces:    newNonceRegistry(),
		solvers:   newSolverRegistry(),
		fills:     newFillLedger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.logger == nil {
		e.logger = logger.Named("settlement")
	}
	e.batches = newBatchCoordinator(e.entropy)
	salt, err := e.batches.draw()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "open first batch")
	}
	e.batches.open(e.clock(), salt)
	return e, nil
}

const defaultPublishTimeout = 5 * time.Second

// txn is one locked engine operation. Events emitted during it are published
// after the state change commits.
type txn struct {
	e      *Engine
	ctx    context.Context
	op     string
	now    time.Time
	start  time.Time
	events []events.Event
}

func (e *Engine) begin(ctx context.Context, op string) *txn {
	e.mu.Lock()
	return &txn{e: e, ctx: ctx, op: op, now: e.clock(), start: time.Now()}
}

func (t *txn) unix() uint64 {
	if t.now.Unix() < 0 {
		return 0
	}
	return uint64(t.now.Unix())
}

func (t *txn) emit(typ events.Type, payload any) {
	ev, err := events.New(t.e.seq+1, typ, t.now, payload)
	if err != nil {
		t.e.logger.Error("encode event failed", slog.String("type", string(typ)), slog.Any("error", err))
		return
	}
	t.e.seq++
	t.events = append(t.events, ev)
}

// end releases the lock, publishes the events and reports the outcome.
func (t *txn) end(err error) {
	e := t.e
	pending := t.events
	if len(pending) > 0 {
		e.publishMu.Lock()
	}
	e.mu.Unlock()

	ctx := context.WithoutCancel(t.ctx)
	if len(pending) > 0 {
		pubCtx, cancel := context.WithTimeout(ctx, e.pubWait)
		for _, ev := range pending {
			if pubErr := e.publisher.Publish(pubCtx, ev); pubErr != nil {
				wrapped := xerrors.Wrap(xerrors.CodePublishFailure, pubErr, "publish "+string(ev.Type))
				e.logger.Error("publish event failed",
					slog.String("event_id", ev.ID),
					slog.Uint64("sequence", ev.Sequence),
					slog.Any("error", pubErr))
				e.alert(ctx, ev.ID, wrapped)
			}
		}
		cancel()
		e.publishMu.Unlock()
	}

	e.observer.Operation(t.op, err, time.Since(t.start))
	if err != nil {
		e.logger.Debug("operation rejected", slog.String("op", t.op), slog.String("code", string(xerrors.CodeOf(err))), slog.Any("error", err))
		if xerrors.ShouldAlert(err) {
			e.alert(ctx, t.op, err)
		}
	}
}

func (e *Engine) alert(ctx context.Context, subject string, err error) {
	if e.alerter == nil {
		return
	}
	if notifyErr := e.alerter.Notify(ctx, alerting.FromError("settlement", subject, err)); notifyErr != nil {
		e.logger.Error("alert dispatch failed", slog.String("subject", subject), slog.Any("error", notifyErr))
	}
}

package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	xerrors "intent-settlement/internal/errors"
	"intent-settlement/internal/events"
	"intent-settlement/internal/observability/alerting"
	"intent-settlement/pkg/logger"
)

// Indexer 消费事件总线，并将每个事件追加到 Store。
type Indexer struct {
	store       Store
	consumer    events.Consumer
	workerCount int
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	indexed     atomic.Uint64
}

// IndexerOption 定义 Indexer 的可选配置。
type IndexerOption func(*Indexer)

func WithIndexerLogger(l *slog.Logger) IndexerOption {
	return func(ix *Indexer) {
		ix.logger = l
	}
}

// WithWorkerCount 设置消费协程数量。存储内按序号排序，多个协程并发写入也安全。
func WithWorkerCount(workers int) IndexerOption {
	return func(ix *Indexer) {
		if workers > 0 {
			ix.workerCount = workers
		}
	}
}

// WithRetry 设置追加的最大尝试次数和基础重试间隔，每次失败后间隔翻倍。
func WithRetry(attempts int, backoff time.Duration) IndexerOption {
	return func(ix *Indexer) {
		if attempts > 0 {
			ix.maxAttempts = attempts
		}
		if backoff >= 0 {
			ix.backoff = backoff
		}
	}
}

func WithAlertDispatcher(d alerting.Dispatcher) IndexerOption {
	return func(ix *Indexer) {
		ix.alerter = d
	}
}

func NewIndexer(store Store, consumer events.Consumer, opts ...IndexerOption) *Indexer {
	ix := &Indexer{
		store:       store,
		consumer:    consumer,
		workerCount: 1,
		maxAttempts: 5,
		backoff:     100 * time.Millisecond,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ix)
		}
	}
	if ix.logger == nil {
		ix.logger = logger.Named("journal")
	}
	return ix
}

// Start 阻塞消费事件，直到 ctx 被取消。
func (ix *Indexer) Start(ctx context.Context) error {
	if ix.consumer == nil || ix.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "journal indexer needs a consumer and a store")
	}
	return ix.consumer.Consume(ctx, ix.workerCount, ix.handle)
}

// Indexed 返回启动以来已追加的事件数。
func (ix *Indexer) Indexed() uint64 {
	return ix.indexed.Load()
}

func (ix *Indexer) handle(ctx context.Context, event events.Event) error {
	delay := ix.backoff
	var lastErr error
	for attempt := 1; attempt <= ix.maxAttempts; attempt++ {
		err := ix.store.Append(ctx, event)
		if err == nil {
			ix.indexed.Add(1)
			ix.logger.Debug("event indexed",
				slog.String("event_id", event.ID),
				slog.Uint64("sequence", event.Sequence),
				slog.String("type", string(event.Type)))
			return nil
		}
		if errors.Is(err, ErrConflict) {
			// 序号冲突无法通过重试解决。
			ix.emitAlert(ctx, event, err, attempt)
			return nil
		}
		lastErr = err
		ix.logger.Warn("append event failed",
			slog.String("event_id", event.ID),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
		if attempt == ix.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	wrapped := xerrors.Wrap(xerrors.CodeStorageFailure, lastErr,
		fmt.Sprintf("index event %d after %d attempts", event.Sequence, ix.maxAttempts))
	ix.emitAlert(ctx, event, wrapped, ix.maxAttempts)
	return wrapped
}

func (ix *Indexer) emitAlert(ctx context.Context, event events.Event, cause error, attempts int) {
	if ix.alerter == nil {
		return
	}
	alert := alerting.FromError("journal", event.ID, cause)
	alert.Metadata["sequence"] = strconv.FormatUint(event.Sequence, 10)
	alert.Metadata["event_type"] = string(event.Type)
	alert.Metadata["attempts"] = strconv.Itoa(attempts)
	if err := ix.alerter.Notify(ctx, alert); err != nil {
		ix.logger.Error("alert dispatch failed", slog.String("event_id", event.ID), slog.Any("error", err))
	}
}

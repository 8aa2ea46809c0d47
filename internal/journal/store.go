package journal

import (
	"context"

	xerrors "intent-settlement/internal/errors"
	"intent-settlement/internal/events"
)

// ErrConflict 表示该序号已被其他事件占用。
var ErrConflict = xerrors.New(xerrors.CodeConflict, "journal sequence already taken by another event")

// Store 以引擎序号为键持久化事件。重复追加同一事件不产生任何效果。
type Store interface {
	Append(ctx context.Context, event events.Event) error
	List(ctx context.Context, opts ...ListOption) ([]events.Event, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Stats 汇总事件日志的内容。
type Stats struct {
	Total        int                 `json:"total"`
	LastSequence uint64              `json:"last_sequence"`
	ByType       map[events.Type]int `json:"by_type"`
}

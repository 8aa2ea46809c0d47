package journal

import (
	"time"

	"intent-settlement/internal/events"
)

// SortOrder defines how listed events are ordered.
type SortOrder int

const (
	// SortBySequenceAsc replays events oldest first.
	SortBySequenceAsc SortOrder = iota
	// SortBySequenceDesc returns the most recent events first.
	SortBySequenceDesc
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ListOptions selects events from a store.
type ListOptions struct {
	Limit         int
	AfterSequence uint64
	Types         []events.Type
	Since         time.Time
	Until         time.Time
	Order         SortOrder
}

func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}
	if opts.Limit > maxListLimit {
		opts.Limit = maxListLimit
	}
	if opts.Order != SortBySequenceDesc {
		opts.Order = SortBySequenceAsc
	}
	opts.Types = normalizeTypes(opts.Types)
}

// Matches reports whether event passes the filters. Limit and order are not
// considered.
func (opts ListOptions) Matches(event events.Event) bool {
	if event.Sequence <= opts.AfterSequence {
		return false
	}
	if len(opts.Types) > 0 {
		found := false
		for _, t := range opts.Types {
			if t == event.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !opts.Since.IsZero() && event.OccurredAt.Before(opts.Since) {
		return false
	}
	if !opts.Until.IsZero() && event.OccurredAt.After(opts.Until) {
		return false
	}
	return true
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit caps the number of events returned.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithAfterSequence returns only events with a greater sequence, for paging
// and catch-up.
func WithAfterSequence(seq uint64) ListOption {
	return func(opts *ListOptions) {
		opts.AfterSequence = seq
	}
}

func WithTypes(types ...events.Type) ListOption {
	return func(opts *ListOptions) {
		opts.Types = append(opts.Types[:0], types...)
	}
}

// WithSince filters events that occurred at or after ts.
func WithSince(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		opts.Since = ts
	}
}

// WithUntil filters events that occurred at or before ts.
func WithUntil(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		opts.Until = ts
	}
}

func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) {
		opts.Order = order
	}
}

// BuildListOptions applies opts on top of the defaults.
func BuildListOptions(opts []ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func normalizeTypes(input []events.Type) []events.Type {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[events.Type]struct{}, len(input))
	out := make([]events.Type, 0, len(input))
	for _, t := range input {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

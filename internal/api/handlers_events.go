package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	xerrors "intent-settlement/internal/errors"
	"intent-settlement/internal/events"
	"intent-settlement/internal/journal"
)

// EventPage is one page of journal history.
type EventPage struct {
	Events       []events.Event `json:"events"`
	NextSequence uint64         `json:"next_sequence"`
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.journal.List(r.Context(), opts...)
	if err != nil {
		s.writeError(w, r, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list events"))
		return
	}
	page := EventPage{Events: list}
	if page.Events == nil {
		page.Events = []events.Event{}
	}
	for _, ev := range list {
		if ev.Sequence > page.NextSequence {
			page.NextSequence = ev.Sequence
		}
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleEventStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.journal.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, xerrors.Wrap(xerrors.CodeStorageFailure, err, "journal stats"))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func listOptions(q url.Values) ([]journal.ListOption, error) {
	var opts []journal.ListOption
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, badRequest("limit must be a positive integer")
		}
		opts = append(opts, journal.WithLimit(limit))
	}
	if raw := q.Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, badRequest("after must be a sequence number")
		}
		opts = append(opts, journal.WithAfterSequence(after))
	}
	if types := eventTypes(q); len(types) > 0 {
		opts = append(opts, journal.WithTypes(types...))
	}
	for _, bound := range []struct {
		key  string
		with func(time.Time) journal.ListOption
	}{
		{"since", journal.WithSince},
		{"until", journal.WithUntil},
	} {
		raw := q.Get(bound.key)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, badRequest("%s must be an RFC 3339 timestamp", bound.key)
		}
		opts = append(opts, bound.with(ts))
	}
	switch strings.ToLower(q.Get("order")) {
	case "", "asc":
	case "desc":
		opts = append(opts, journal.WithSortOrder(journal.SortBySequenceDesc))
	default:
		return nil, badRequest("order must be asc or desc")
	}
	return opts, nil
}

// eventTypes accepts repeated or comma separated type parameters.
func eventTypes(q url.Values) []events.Type {
	var out []events.Type
	for _, raw := range q["type"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, events.Type(part))
			}
		}
	}
	return out
}

package events

import (
	"context"
	"fmt"
	"sort"
	"time"

	"chatevents/pkg/models"
	"chatevents/pkg/store/search"
)

func pageSize(max int) int {
	if max > MaxEventsPerRead {
		return MaxEventsPerRead
	}
	return max
}

// FromIndex reads up to MaxEvents events starting at Start. Indices below the
// effective floor are skipped. An ascending read that starts past the newest
// event is ErrOutOfRange; a descending one starts at the newest event.
func (c *ChatEvents) FromIndex(ctx context.Context, args EventsArgs) ([]models.Event, error) {
	l, err := c.list(args.ThreadRoot)
	if err != nil {
		return nil, err
	}
	floor, err := c.floor(l, args.Viewer, args.MinVisibleEventIndex)
	if err != nil {
		return nil, err
	}
	return c.fromIndex(ctx, l, floor, args.Start, args.Ascending, args.MaxEvents)
}

func (c *ChatEvents) fromIndex(ctx context.Context, l *eventsList, floor, start models.EventIndex, ascending bool, max int) ([]models.Event, error) {
	max = pageSize(max)
	if max <= 0 {
		return nil, nil
	}
	latest, ok := l.latest()
	if !ok {
		if !ascending || start == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: start %d in empty %s", ErrOutOfRange, start, l.scope)
	}

	var lo, hi models.EventIndex
	if ascending {
		if start > latest {
			return nil, fmt.Errorf("%w: start %d > latest %d in %s", ErrOutOfRange, start, latest, l.scope)
		}
		lo = max2(start, floor)
		if lo > latest {
			return nil, nil
		}
		hi = lo + models.EventIndex(max)
	} else {
		if start > latest {
			start = latest
		}
		if start < floor {
			return nil, nil
		}
		hi = start + 1
		lo = floor
		if hi-lo > models.EventIndex(max) {
			lo = hi - models.EventIndex(max)
		}
	}

	out := make([]models.Event, 0, min(max, int(l.next()-lo)))
	err := l.scan(ctx, c.kv, lo, hi, !ascending, func(e models.Event) (bool, error) {
		out = append(out, e.View())
		return len(out) < max, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Events is FromIndex wrapped in a pagination response.
func (c *ChatEvents) Events(ctx context.Context, args EventsArgs) (EventsResponse, error) {
	l, err := c.list(args.ThreadRoot)
	if err != nil {
		return EventsResponse{}, err
	}
	floor, err := c.floor(l, args.Viewer, args.MinVisibleEventIndex)
	if err != nil {
		return EventsResponse{}, err
	}
	evs, err := c.fromIndex(ctx, l, floor, args.Start, args.Ascending, args.MaxEvents)
	if err != nil {
		return EventsResponse{}, err
	}
	return c.response(l, evs, floor)
}

func (c *ChatEvents) response(l *eventsList, evs []models.Event, floor models.EventIndex) (EventsResponse, error) {
	affected, err := c.affected(l, evs, floor)
	if err != nil {
		return EventsResponse{}, err
	}
	latest, _ := l.latest()
	return EventsResponse{Events: evs, AffectedEvents: affected, LatestEventIndex: latest}, nil
}

// Window reads up to MaxEvents events around MidPoint: half before it, the
// rest at or after it. When one side hits a log boundary the other side
// gets the remainder.
func (c *ChatEvents) Window(ctx context.Context, args WindowArgs) (EventsResponse, error) {
	l, err := c.list(args.ThreadRoot)
	if err != nil {
		return EventsResponse{}, err
	}
	floor, err := c.floor(l, args.Viewer, args.MinVisibleEventIndex)
	if err != nil {
		return EventsResponse{}, err
	}
	mid := args.MidPoint
	if args.MidPointMessage != nil {
		idx, ok := l.byMessage[*args.MidPointMessage]
		if !ok || idx < floor {
			return EventsResponse{}, fmt.Errorf("%w: message %d in %s", ErrNotFound, *args.MidPointMessage, l.scope)
		}
		mid = idx
	}
	latest, ok := l.latest()
	if !ok {
		if mid == 0 {
			return EventsResponse{}, nil
		}
		return EventsResponse{}, fmt.Errorf("%w: midpoint %d in empty %s", ErrOutOfRange, mid, l.scope)
	}
	if mid > latest {
		return EventsResponse{}, fmt.Errorf("%w: midpoint %d > latest %d in %s", ErrOutOfRange, mid, latest, l.scope)
	}
	if mid < floor {
		mid = floor
	}
	max := pageSize(args.MaxEvents)
	if max <= 0 || mid > latest {
		// Everything is below the floor.
		return c.response(l, nil, floor)
	}

	before := int(mid - floor)
	after := int(latest - mid + 1)
	nb := min(before, max/2)
	na := min(after, max-nb)
	nb = min(before, max-na)

	lo := mid - models.EventIndex(nb)
	hi := mid + models.EventIndex(na)
	evs := make([]models.Event, 0, nb+na)
	err = l.scan(ctx, c.kv, lo, hi, false, func(e models.Event) (bool, error) {
		evs = append(evs, e.View())
		return true, nil
	})
	if err != nil {
		return EventsResponse{}, err
	}
	return c.response(l, evs, floor)
}

// AffectedEvents returns the current view of every message targeted by an
// update event in evs, excluding events already in evs and events below floor.
func (c *ChatEvents) AffectedEvents(threadRoot *models.MessageIndex, evs []models.Event, viewer models.UserID, requested models.EventIndex) ([]models.Event, error) {
	l, err := c.list(threadRoot)
	if err != nil {
		return nil, err
	}
	floor, err := c.floor(l, viewer, requested)
	if err != nil {
		return nil, err
	}
	return c.affected(l, evs, floor)
}

func (c *ChatEvents) affected(l *eventsList, evs []models.Event, floor models.EventIndex) ([]models.Event, error) {
	present := make(map[models.EventIndex]struct{}, len(evs))
	for _, e := range evs {
		present[e.Index] = struct{}{}
	}
	want := make(map[models.EventIndex]struct{})
	for _, e := range evs {
		r, ok := models.Target(e.Payload)
		if !ok {
			continue
		}
		var idx models.EventIndex
		if _, isCreated := e.Payload.(models.ThreadCreated); isCreated {
			idx, ok = l.byMessage[r.MessageIndex]
		} else {
			idx, ok = l.byID[r.MessageID]
		}
		if !ok || idx < floor {
			continue
		}
		if _, dup := present[idx]; dup {
			continue
		}
		want[idx] = struct{}{}
	}
	if len(want) == 0 {
		return nil, nil
	}
	order := make([]models.EventIndex, 0, len(want))
	for idx := range want {
		order = append(order, idx)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]models.Event, 0, len(order))
	for _, idx := range order {
		e, err := l.get(c.kv, idx)
		if err != nil {
			return nil, err
		}
		out = append(out, e.View())
	}
	return out, nil
}

// EventsByIndex loads specific events. Indices that are out of range or below
// the floor are skipped; the result keeps the request order.
func (c *ChatEvents) EventsByIndex(args EventsByIndexArgs) (EventsResponse, error) {
	l, err := c.list(args.ThreadRoot)
	if err != nil {
		return EventsResponse{}, err
	}
	floor, err := c.floor(l, args.Viewer, args.MinVisibleEventIndex)
	if err != nil {
		return EventsResponse{}, err
	}
	idxs := args.Indices
	if len(idxs) > MaxEventsPerRead {
		idxs = idxs[:MaxEventsPerRead]
	}
	evs := make([]models.Event, 0, len(idxs))
	for _, idx := range idxs {
		if idx < floor || idx >= l.next() {
			continue
		}
		e, err := l.get(c.kv, idx)
		if err != nil {
			return EventsResponse{}, err
		}
		evs = append(evs, e.View())
	}
	return c.response(l, evs, floor)
}

// MessageByID returns the reader view of a visible message and its event.
func (c *ChatEvents) MessageByID(args MessageArgs) (models.Event, error) {
	l, err := c.list(args.ThreadRoot)
	if err != nil {
		return models.Event{}, err
	}
	floor, err := c.floor(l, args.Viewer, args.MinVisibleEventIndex)
	if err != nil {
		return models.Event{}, err
	}
	idx, ok := l.messageEvent(args.MessageID)
	if !ok || idx < floor {
		return models.Event{}, fmt.Errorf("%w: message %s in %s", ErrNotFound, args.MessageID, l.scope)
	}
	e, err := l.get(c.kv, idx)
	if err != nil {
		return models.Event{}, err
	}
	return e.View(), nil
}

// MessageByIndex is MessageByID keyed by message index.
func (c *ChatEvents) MessageByIndex(threadRoot *models.MessageIndex, viewer models.UserID, msg models.MessageIndex) (models.Event, error) {
	l, err := c.list(threadRoot)
	if err != nil {
		return models.Event{}, err
	}
	floor, err := c.floor(l, viewer, 0)
	if err != nil {
		return models.Event{}, err
	}
	idx, ok := l.byMessage[msg]
	if !ok || idx < floor {
		return models.Event{}, fmt.Errorf("%w: message %d in %s", ErrNotFound, msg, l.scope)
	}
	e, err := l.get(c.kv, idx)
	if err != nil {
		return models.Event{}, err
	}
	return e.View(), nil
}

// SearchMessages scans the main log newest first for messages containing
// every query token. Deleted and below-floor messages never match.
func (c *ChatEvents) SearchMessages(ctx context.Context, args SearchArgs) ([]Match, error) {
	q := search.ParseQuery(args.Query, args.Senders)
	if q.Empty() || args.MaxResults <= 0 {
		return nil, nil
	}
	defer func(start time.Time) { c.observer.SearchCompleted(time.Since(start)) }(time.Now())
	l := c.main
	floor, err := c.floor(l, args.Viewer, args.MinVisibleEventIndex)
	if err != nil {
		return nil, err
	}
	var out []Match
	err = l.scan(ctx, c.kv, floor, l.next(), true, func(e models.Event) (bool, error) {
		m, ok := e.AsMessage()
		if !ok {
			return true, nil
		}
		fields := m.SearchFields()
		if !q.Matches(m.Sender, fields) {
			return true, nil
		}
		out = append(out, Match{
			EventIndex:   e.Index,
			MessageIndex: m.MessageIndex,
			MessageID:    m.MessageID,
			Sender:       m.Sender,
			Timestamp:    e.Timestamp,
			Score:        q.Score(fields),
		})
		return len(out) < args.MaxResults, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func max2(a, b models.EventIndex) models.EventIndex {
	if a > b {
		return a
	}
	return b
}

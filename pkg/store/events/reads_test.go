package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatevents/pkg/models"
)

func indices(evs []models.Event) []models.EventIndex {
	out := make([]models.EventIndex, len(evs))
	for i, e := range evs {
		out[i] = e.Index
	}
	return out
}

func seq(lo, hi models.EventIndex) []models.EventIndex {
	var out []models.EventIndex
	for i := lo; i < hi; i++ {
		out = append(out, i)
	}
	return out
}

func TestFromIndexBounds(t *testing.T) {
	ctx := context.Background()
	c, _ := newChat(t)

	evs, err := c.FromIndex(ctx, EventsArgs{Ascending: true, MaxEvents: 10})
	require.NoError(t, err)
	assert.Empty(t, evs)

	for n := uint64(1); n <= 20; n++ {
		push(t, c, n, "alice", "m")
	}

	_, err = c.FromIndex(ctx, EventsArgs{Start: 20, Ascending: true, MaxEvents: 10})
	require.ErrorIs(t, err, ErrOutOfRange)

	evs, err = c.FromIndex(ctx, EventsArgs{Start: 500, Ascending: false, MaxEvents: 3})
	require.NoError(t, err)
	assert.Equal(t, []models.EventIndex{19, 18, 17}, indices(evs))

	evs, err = c.FromIndex(ctx, EventsArgs{Start: 15, Ascending: true, MaxEvents: 10})
	require.NoError(t, err)
	assert.Equal(t, seq(15, 20), indices(evs))

	evs, err = c.FromIndex(ctx, EventsArgs{Start: 4, Ascending: false, MaxEvents: 10, MinVisibleEventIndex: 2})
	require.NoError(t, err)
	assert.Equal(t, []models.EventIndex{4, 3, 2}, indices(evs))

	evs, err = c.FromIndex(ctx, EventsArgs{Start: 1, Ascending: false, MaxEvents: 10, MinVisibleEventIndex: 2})
	require.NoError(t, err)
	assert.Empty(t, evs)

	evs, err = c.FromIndex(ctx, EventsArgs{Ascending: true, MaxEvents: 0})
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestFromIndexAcrossTiers(t *testing.T) {
	ctx := context.Background()
	c, _ := newChat(t)
	for n := uint64(1); n <= 30; n++ {
		push(t, c, n, "alice", "m")
	}
	_, _, err := c.MigrateNextBatch(ctx, 12)
	require.NoError(t, err)

	evs, err := c.FromIndex(ctx, EventsArgs{Start: 5, Ascending: true, MaxEvents: 15})
	require.NoError(t, err)
	assert.Equal(t, seq(5, 20), indices(evs))

	evs, err = c.FromIndex(ctx, EventsArgs{Start: 15, Ascending: false, MaxEvents: 6})
	require.NoError(t, err)
	assert.Equal(t, []models.EventIndex{15, 14, 13, 12, 11, 10}, indices(evs))
}

func TestWindowSplit(t *testing.T) {
	ctx := context.Background()
	c, _ := newChat(t)
	for n := uint64(1); n <= 100; n++ {
		push(t, c, n, "alice", "m")
	}
	_, _, err := c.MigrateNextBatch(ctx, 48)
	require.NoError(t, err)

	tests := []struct {
		name  string
		mid   models.EventIndex
		max   int
		floor models.EventIndex
		want  []models.EventIndex
	}{
		{"middle", 50, 10, 0, seq(45, 55)},
		{"odd size", 50, 9, 0, seq(46, 55)},
		{"near start", 2, 10, 0, seq(0, 10)},
		{"near end", 98, 10, 0, seq(90, 100)},
		{"floor", 50, 10, 48, seq(48, 58)},
		{"mid below floor", 10, 4, 30, seq(30, 34)},
		{"larger than log", 50, 500, 0, seq(0, 100)},
		{"floor above latest", 50, 10, 150, []models.EventIndex{}},
		{"floor just past latest", 99, 10, 100, []models.EventIndex{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := c.Window(ctx, WindowArgs{MidPoint: tt.mid, MaxEvents: tt.max, MinVisibleEventIndex: tt.floor})
			require.NoError(t, err)
			assert.Equal(t, tt.want, indices(resp.Events))
			assert.LessOrEqual(t, len(resp.Events), tt.max)
			assert.Equal(t, models.EventIndex(99), resp.LatestEventIndex)
		})
	}

	_, err = c.Window(ctx, WindowArgs{MidPoint: 100, MaxEvents: 10})
	require.ErrorIs(t, err, ErrOutOfRange)

	resp, err := c.Window(ctx, WindowArgs{MidPointMessage: mi(70), MaxEvents: 4})
	require.NoError(t, err)
	assert.Equal(t, seq(68, 72), indices(resp.Events))
}

func TestViewerFloorAboveTail(t *testing.T) {
	ctx := context.Background()
	c, _ := newChat(t)
	for n := uint64(1); n <= 10; n++ {
		push(t, c, n, "alice", "hello")
	}
	raised, err := c.RaiseVisibilityFloor("bob", 15)
	require.NoError(t, err)
	require.True(t, raised)

	resp, err := c.Window(ctx, WindowArgs{Viewer: "bob", MidPoint: 5, MaxEvents: 10})
	require.NoError(t, err)
	assert.Empty(t, resp.Events)
	assert.Equal(t, models.EventIndex(9), resp.LatestEventIndex)

	resp, err = c.Window(ctx, WindowArgs{MidPoint: 5, MaxEvents: 10, MinVisibleEventIndex: 15})
	require.NoError(t, err)
	assert.Empty(t, resp.Events)

	evs, err := c.FromIndex(ctx, EventsArgs{Viewer: "bob", Start: 3, Ascending: true, MaxEvents: 10})
	require.NoError(t, err)
	assert.Empty(t, evs)

	evs, err = c.FromIndex(ctx, EventsArgs{Viewer: "bob", Start: 9, Ascending: false, MaxEvents: 10})
	require.NoError(t, err)
	assert.Empty(t, evs)

	evs, err = c.FromIndex(ctx, EventsArgs{Start: 0, Ascending: true, MaxEvents: 10, MinVisibleEventIndex: 12})
	require.NoError(t, err)
	assert.Empty(t, evs)

	matches, err := c.SearchMessages(ctx, SearchArgs{Query: "hello", MaxResults: 5, Viewer: "bob"})
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, err = c.SearchMessages(ctx, SearchArgs{Query: "hello", MaxResults: 5, Viewer: "alice"})
	require.NoError(t, err)
	assert.Len(t, matches, 5)
}

func TestAffectedEvents(t *testing.T) {
	ctx := context.Background()
	c, _ := newChat(t)
	push(t, c, 1, "alice", "a")
	push(t, c, 2, "alice", "b")
	_, err := c.AddReaction(ReactionArgs{User: "bob", MessageID: id(1), Reaction: "x"})
	require.NoError(t, err)
	_, err = c.EditMessage(EditMessageArgs{Sender: "alice", MessageID: id(2), Content: text("b2")})
	require.NoError(t, err)

	resp, err := c.Events(ctx, EventsArgs{Start: 2, Ascending: true, MaxEvents: 10})
	require.NoError(t, err)
	assert.Equal(t, []models.EventIndex{2, 3}, indices(resp.Events))
	require.Equal(t, []models.EventIndex{0, 1}, indices(resp.AffectedEvents))
	m, _ := resp.AffectedEvents[1].AsMessage()
	assert.Equal(t, text("b2"), m.Content)

	// targets already in the page are not repeated
	resp, err = c.Events(ctx, EventsArgs{Start: 1, Ascending: true, MaxEvents: 10})
	require.NoError(t, err)
	assert.Equal(t, []models.EventIndex{0}, indices(resp.AffectedEvents))

	// targets below the floor are not exposed
	affected, err := c.AffectedEvents(nil, resp.Events, "", 1)
	require.NoError(t, err)
	assert.Empty(t, affected)
}

func TestEventsByIndexAndMessageByIndex(t *testing.T) {
	c, _ := newChat(t)
	for n := uint64(1); n <= 5; n++ {
		push(t, c, n, "alice", "m")
	}
	resp, err := c.EventsByIndex(EventsByIndexArgs{Indices: []models.EventIndex{4, 0, 9, 2}, MinVisibleEventIndex: 1})
	require.NoError(t, err)
	assert.Equal(t, []models.EventIndex{4, 2}, indices(resp.Events))

	e, err := c.MessageByIndex(nil, "", 3)
	require.NoError(t, err)
	assert.Equal(t, models.EventIndex(3), e.Index)
	_, err = c.MessageByIndex(nil, "", 30)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSearchMessages(t *testing.T) {
	ctx := context.Background()
	c, _ := newChat(t)
	push(t, c, 1, "alice", "abc 123 xyz")
	push(t, c, 2, "bob", "abcxyz")
	push(t, c, 3, "carol", "abc")
	push(t, c, 4, "alice", "ABC and XYZ again")
	_, err := c.DeleteMessage(DeleteMessageArgs{Caller: "alice", MessageID: id(4)})
	require.NoError(t, err)
	_, err = c.PushMessage(PushMessageArgs{Sender: "dave", MessageID: id(5), Content: models.FileContent{Name: "xyz-abc.pdf", MimeType: "application/pdf"}})
	require.NoError(t, err)
	_, _, err = c.MigrateNextBatch(ctx, 2)
	require.NoError(t, err)

	search := func(q string, senders ...models.UserID) []models.MessageID {
		matches, err := c.SearchMessages(ctx, SearchArgs{Query: q, Senders: senders, MaxResults: 10})
		require.NoError(t, err)
		var out []models.MessageID
		for _, m := range matches {
			out = append(out, m.MessageID)
		}
		return out
	}

	assert.Equal(t, []models.MessageID{id(5), id(2), id(1)}, search("abc xyz"))
	assert.Equal(t, []models.MessageID{id(2)}, search("cxy"))
	assert.Empty(t, search("abcd"), "substring, not prefix")
	assert.Empty(t, search("   "))
	assert.Equal(t, []models.MessageID{id(1)}, search("xyz abc", "alice"))

	matches, err := c.SearchMessages(ctx, SearchArgs{Query: "abc", MaxResults: 2})
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	matches, err = c.SearchMessages(ctx, SearchArgs{Query: "abc", MaxResults: 10, MinVisibleEventIndex: 2})
	require.NoError(t, err)
	for _, m := range matches {
		assert.GreaterOrEqual(t, m.EventIndex, models.EventIndex(2))
	}
}

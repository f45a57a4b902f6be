package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatevents/pkg/models"
	"chatevents/pkg/store/db"
	"chatevents/pkg/store/db/pebbledb"
)

const t0 = models.TimestampMillis(1_700_000_000_000)

func newKV(t *testing.T) db.KV {
	t.Helper()
	kv, err := pebbledb.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func newChat(t *testing.T) (*ChatEvents, db.KV) {
	t.Helper()
	kv := newKV(t)
	c, err := New(models.GroupChat(7), kv, Options{})
	require.NoError(t, err)
	return c, kv
}

func text(s string) models.TextContent { return models.TextContent{Text: s} }

func id(n uint64) models.MessageID { return models.MessageIDFromUint64(n) }

func push(t *testing.T, c *ChatEvents, n uint64, sender models.UserID, body string) PushResult {
	t.Helper()
	res, err := c.PushMessage(PushMessageArgs{Sender: sender, MessageID: id(n), Content: text(body), Now: t0 + models.TimestampMillis(n)})
	require.NoError(t, err)
	return res
}

func mi(v models.MessageIndex) *models.MessageIndex { return &v }

func all(t *testing.T, c *ChatEvents, root *models.MessageIndex) []models.Event {
	t.Helper()
	evs, err := c.FromIndex(context.Background(), EventsArgs{ThreadRoot: root, Ascending: true, MaxEvents: MaxEventsPerRead})
	require.NoError(t, err)
	return evs
}

func messageAt(t *testing.T, c *ChatEvents, msgID models.MessageID) *models.Message {
	t.Helper()
	e, err := c.MessageByID(MessageArgs{MessageID: msgID})
	require.NoError(t, err)
	m, ok := e.AsMessage()
	require.True(t, ok)
	return m
}

func TestPushThousandMessages(t *testing.T) {
	c, _ := newChat(t)
	for n := uint64(1); n <= 1000; n++ {
		res := push(t, c, n, "alice", "hello")
		require.Equal(t, models.EventIndex(n-1), res.EventIndex)
		require.Equal(t, models.MessageIndex(n-1), res.MessageIndex)
	}
	latest, ok, err := c.LatestEventIndex(nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.EventIndex(999), latest)

	evs, err := c.FromIndex(context.Background(), EventsArgs{Start: 0, Ascending: true, MaxEvents: 1000})
	require.NoError(t, err)
	require.Len(t, evs, 1000)
	for i, e := range evs {
		assert.Equal(t, models.EventIndex(i), e.Index)
		assert.Equal(t, t0+models.TimestampMillis(i+1), e.Timestamp)
	}
}

func TestPushValidation(t *testing.T) {
	c, _ := newChat(t)
	push(t, c, 1, "alice", "a")

	tests := []struct {
		name string
		args PushMessageArgs
		want error
	}{
		{"duplicate id", PushMessageArgs{Sender: "bob", MessageID: id(1), Content: text("b")}, ErrDuplicateMessageID},
		{"zero id", PushMessageArgs{Sender: "bob", Content: text("b")}, ErrInvalidArgument},
		{"no sender", PushMessageArgs{MessageID: id(2), Content: text("b")}, ErrInvalidArgument},
		{"nil content", PushMessageArgs{Sender: "bob", MessageID: id(2)}, ErrInvalidArgument},
		{"reply to future", PushMessageArgs{Sender: "bob", MessageID: id(2), Content: text("b"), RepliesTo: ptrIdx(5)}, ErrNotFound},
		{"unknown thread", PushMessageArgs{Sender: "bob", MessageID: id(2), Content: text("b"), ThreadRoot: mi(9)}, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.PushMessage(tt.args)
			require.ErrorIs(t, err, tt.want)
		})
	}
	latest, _, _ := c.LatestEventIndex(nil)
	assert.Equal(t, models.EventIndex(0), latest, "failed pushes must not append")
}

func ptrIdx(v models.EventIndex) *models.EventIndex { return &v }

func TestTimestampsNeverDecrease(t *testing.T) {
	c, _ := newChat(t)
	_, err := c.PushMessage(PushMessageArgs{Sender: "a", MessageID: id(1), Content: text("x"), Now: 500})
	require.NoError(t, err)
	res, err := c.PushMessage(PushMessageArgs{Sender: "a", MessageID: id(2), Content: text("y"), Now: 100})
	require.NoError(t, err)
	assert.Equal(t, models.TimestampMillis(500), res.Timestamp)
}

func TestEditMessage(t *testing.T) {
	c, _ := newChat(t)
	orig := push(t, c, 1, "alice", "first")

	_, err := c.EditMessage(EditMessageArgs{Sender: "bob", MessageID: id(1), Content: text("nope")})
	require.ErrorIs(t, err, ErrNotAuthorized)

	for _, body := range []string{"second", "third"} {
		_, err := c.EditMessage(EditMessageArgs{Sender: "alice", MessageID: id(1), Content: text(body), Now: t0 + 10})
		require.NoError(t, err)
	}
	m := messageAt(t, c, id(1))
	assert.Equal(t, text("third"), m.Content)
	assert.True(t, m.Edited)
	assert.Equal(t, orig.MessageIndex, m.MessageIndex)
	assert.Equal(t, id(1), m.MessageID)

	_, err = c.EditMessage(EditMessageArgs{Sender: "bob", OverrideSender: true, MessageID: id(1), Content: text("mod")})
	require.NoError(t, err)

	_, err = c.EditMessage(EditMessageArgs{Sender: "alice", MessageID: id(1), Content: models.FileContent{Name: "f", MimeType: "text/plain"}})
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = c.EditMessage(EditMessageArgs{Sender: "alice", MessageID: id(42), Content: text("x")})
	require.ErrorIs(t, err, ErrNotFound)

	evs := all(t, c, nil)
	require.Len(t, evs, 4)
	assert.Equal(t, models.KindMessageEdited, evs[3].Payload.Kind())
}

func TestDeleteAndUndelete(t *testing.T) {
	c, _ := newChat(t)
	orig := push(t, c, 1, "alice", "secret")

	_, err := c.DeleteMessage(DeleteMessageArgs{Caller: "bob", MessageID: id(1)})
	require.ErrorIs(t, err, ErrNotAuthorized)

	res, err := c.DeleteMessage(DeleteMessageArgs{Caller: "alice", MessageID: id(1), Now: t0 + 5})
	require.NoError(t, err)
	assert.False(t, res.AlreadyDeleted)

	again, err := c.DeleteMessage(DeleteMessageArgs{Caller: "alice", MessageID: id(1)})
	require.NoError(t, err)
	assert.True(t, again.AlreadyDeleted)

	m := messageAt(t, c, id(1))
	assert.Equal(t, models.DeletedContent{DeletedBy: "alice", Timestamp: t0 + 5}, m.Content)
	assert.Nil(t, m.SearchFields())

	restored, err := c.UndeleteMessages(UndeleteMessagesArgs{Caller: "bob", MessageIDs: []models.MessageID{id(1)}})
	require.NoError(t, err)
	assert.Empty(t, restored, "deleted by someone else")

	restored, err = c.UndeleteMessages(UndeleteMessagesArgs{Caller: "alice", MessageIDs: []models.MessageID{id(1), id(1), id(99)}})
	require.NoError(t, err)
	require.Len(t, restored, 1)
	assert.Equal(t, text("secret"), restored[0].Content)
	assert.Equal(t, orig.MessageIndex, restored[0].MessageIndex)

	e, err := c.MessageByID(MessageArgs{MessageID: id(1)})
	require.NoError(t, err)
	assert.Equal(t, orig.EventIndex, e.Index)

	kinds := []models.EventKind{}
	for _, e := range all(t, c, nil) {
		kinds = append(kinds, e.Payload.Kind())
	}
	assert.Equal(t, []models.EventKind{models.KindMessage, models.KindMessageDeleted, models.KindMessageUndeleted}, kinds)
}

func TestModeratorDelete(t *testing.T) {
	c, _ := newChat(t)
	push(t, c, 1, "alice", "spam")
	_, err := c.DeleteMessage(DeleteMessageArgs{Caller: "mod", AsModerator: true, MessageID: id(1)})
	require.NoError(t, err)
	restored, err := c.UndeleteMessages(UndeleteMessagesArgs{Caller: "alice", MessageIDs: []models.MessageID{id(1)}})
	require.NoError(t, err)
	assert.Empty(t, restored)
	restored, err = c.UndeleteMessages(UndeleteMessagesArgs{Caller: "mod2", AsModerator: true, MessageIDs: []models.MessageID{id(1)}})
	require.NoError(t, err)
	assert.Len(t, restored, 1)
}

func TestReactionsAreIdempotent(t *testing.T) {
	c, _ := newChat(t)
	push(t, c, 1, "alice", "hi")
	args := ReactionArgs{User: "bob", MessageID: id(1), Reaction: "👍"}

	r, err := c.AddReaction(args)
	require.NoError(t, err)
	assert.True(t, r.Changed)
	r, err = c.AddReaction(args)
	require.NoError(t, err)
	assert.False(t, r.Changed)

	m := messageAt(t, c, id(1))
	assert.Equal(t, []models.Reaction{{Reaction: "👍", Users: []models.UserID{"bob"}}}, m.Reactions)

	r, err = c.RemoveReaction(args)
	require.NoError(t, err)
	assert.True(t, r.Changed)
	r, err = c.RemoveReaction(args)
	require.NoError(t, err)
	assert.False(t, r.Changed)
	assert.Empty(t, messageAt(t, c, id(1)).Reactions)

	assert.Len(t, all(t, c, nil), 3)

	_, err = c.AddReaction(ReactionArgs{User: "bob", MessageID: id(1)})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func pushProposal(t *testing.T, c *ChatEvents, n uint64, deadline models.TimestampMillis) {
	t.Helper()
	_, err := c.PushMessage(PushMessageArgs{
		Sender:    "gov",
		MessageID: id(n),
		Content:   models.ProposalContent{ProposalID: n, Title: "raise limits", Status: models.ProposalOpen, Deadline: deadline},
		Now:       t0,
	})
	require.NoError(t, err)
}

func TestProposalVotes(t *testing.T) {
	c, _ := newChat(t)
	pushProposal(t, c, 1, t0+1000)
	push(t, c, 2, "alice", "not a proposal")

	res, err := c.RegisterProposalVote(ProposalVoteArgs{Voter: "alice", MessageID: id(1), Adopt: true, Now: t0 + 1})
	require.NoError(t, err)
	assert.Equal(t, VoteRecorded, res.Outcome)
	assert.Equal(t, models.ProposalTally{Yes: 1}, res.Tally)

	res, err = c.RecordProposalVote(ProposalVoteArgs{Voter: "neuron-9", MessageID: id(1), Adopt: false, Weight: 40, Now: t0 + 2})
	require.NoError(t, err)
	assert.Equal(t, models.ProposalTally{Yes: 1, No: 40}, res.Tally)

	res, err = c.RegisterProposalVote(ProposalVoteArgs{Voter: "alice", MessageID: id(1), Adopt: false, Now: t0 + 3})
	require.NoError(t, err)
	assert.Equal(t, VoteAlreadyRegistered, res.Outcome)
	assert.Equal(t, models.ProposalTally{Yes: 1, No: 40}, res.Tally)

	_, err = c.RecordProposalVote(ProposalVoteArgs{Voter: "x", MessageID: id(1), Now: t0 + 3})
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = c.RegisterProposalVote(ProposalVoteArgs{Voter: "bob", MessageID: id(1), Now: t0 + 1000})
	require.ErrorIs(t, err, ErrProposalClosed)

	_, err = c.RegisterProposalVote(ProposalVoteArgs{Voter: "bob", MessageID: id(2), Now: t0 + 4})
	require.ErrorIs(t, err, ErrNotProposal)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = c.EditMessage(EditMessageArgs{Sender: "gov", MessageID: id(1), Content: models.ProposalContent{Title: "x", Status: models.ProposalOpen}})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestVideoCallPresence(t *testing.T) {
	c, _ := newChat(t)
	_, err := c.PushMessage(PushMessageArgs{Sender: "alice", MessageID: id(1), Content: models.VideoCallContent{}, Now: t0})
	require.NoError(t, err)
	push(t, c, 2, "alice", "text")

	args := VideoCallPresenceArgs{User: "bob", MessageID: id(1), Presence: models.PresenceDefault, Now: t0 + 1}
	r, err := c.SetVideoCallPresence(args)
	require.NoError(t, err)
	assert.True(t, r.Changed)
	r, err = c.SetVideoCallPresence(args)
	require.NoError(t, err)
	assert.False(t, r.Changed)

	args.Presence = models.PresenceHidden
	r, err = c.SetVideoCallPresence(args)
	require.NoError(t, err)
	assert.True(t, r.Changed)
	call := messageAt(t, c, id(1)).Content.(models.VideoCallContent)
	assert.Equal(t, models.PresenceHidden, call.Participants["bob"])

	_, err = c.SetVideoCallPresence(VideoCallPresenceArgs{User: "bob", MessageID: id(2), Presence: models.PresenceDefault})
	require.ErrorIs(t, err, ErrNotVideoCall)
	_, err = c.SetVideoCallPresence(VideoCallPresenceArgs{User: "bob", MessageID: id(1), Presence: "loud"})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPushMainEvent(t *testing.T) {
	c, _ := newChat(t)
	idx, err := c.PushMainEvent(models.MemberJoined{UserID: "alice"}, 3, t0)
	require.NoError(t, err)
	assert.Equal(t, models.EventIndex(0), idx)

	_, err = c.PushMainEvent(&models.Message{}, 0, t0)
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = c.PushMainEvent(models.ReactionAdded{}, 0, t0)
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = c.PushMainEvent(nil, 0, t0)
	require.ErrorIs(t, err, ErrInvalidArgument)

	evs := all(t, c, nil)
	require.Len(t, evs, 1)
	assert.Equal(t, uint64(3), evs[0].CorrelationID)
}

func TestThreads(t *testing.T) {
	c, _ := newChat(t)
	root := push(t, c, 1, "alice", "root")
	push(t, c, 2, "bob", "other")

	r1, err := c.PushMessage(PushMessageArgs{Sender: "bob", ThreadRoot: mi(root.MessageIndex), MessageID: id(10), Content: text("reply"), Now: t0 + 20})
	require.NoError(t, err)
	assert.Equal(t, models.EventIndex(0), r1.EventIndex)
	assert.True(t, r1.ThreadCreated)
	assert.Equal(t, models.EventIndex(2), r1.ThreadCreatedIndex)

	r2, err := c.PushMessage(PushMessageArgs{Sender: "carol", ThreadRoot: mi(root.MessageIndex), MessageID: id(11), Content: text("reply 2"), Now: t0 + 21})
	require.NoError(t, err)
	assert.False(t, r2.ThreadCreated)
	assert.Equal(t, models.MessageIndex(1), r2.MessageIndex)

	// message ids are unique per log, not per chat
	_, err = c.PushMessage(PushMessageArgs{Sender: "bob", ThreadRoot: mi(root.MessageIndex), MessageID: id(2), Content: text("same id as main")})
	require.NoError(t, err)

	ts := messageAt(t, c, id(1)).ThreadSummary
	require.NotNil(t, ts)
	assert.Equal(t, uint32(3), ts.ReplyCount)
	assert.Equal(t, []models.UserID{"bob", "carol"}, ts.Participants)
	assert.Equal(t, models.EventIndex(2), ts.LatestEventIndex)

	assert.Equal(t, []models.MessageIndex{0}, c.ThreadRoots())
	assert.Len(t, all(t, c, mi(0)), 3)
	assert.Len(t, all(t, c, nil), 3)

	_, err = c.DeleteMessage(DeleteMessageArgs{Caller: "alice", MessageID: id(1)})
	require.NoError(t, err)
	_, err = c.PushMessage(PushMessageArgs{Sender: "bob", ThreadRoot: mi(0), MessageID: id(12), Content: text("late")})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestVisibilityFloors(t *testing.T) {
	c, _ := newChat(t)
	for n := uint64(1); n <= 10; n++ {
		push(t, c, n, "alice", "m")
	}
	_, err := c.PushMessage(PushMessageArgs{Sender: "bob", ThreadRoot: mi(2), MessageID: id(100), Content: text("t")})
	require.NoError(t, err)

	changed, err := c.RaiseVisibilityFloor("late", 5)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = c.RaiseVisibilityFloor("late", 3)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, models.EventIndex(5), c.VisibilityFloor("late"))

	evs, err := c.FromIndex(context.Background(), EventsArgs{Viewer: "late", Ascending: true, MaxEvents: 100})
	require.NoError(t, err)
	require.NotEmpty(t, evs)
	assert.Equal(t, models.EventIndex(5), evs[0].Index)

	_, err = c.EditMessage(EditMessageArgs{Sender: "late", OverrideSender: true, MessageID: id(1), Content: text("x")})
	require.ErrorIs(t, err, ErrNotFound)

	// the thread rooted below the floor is unreachable for this viewer
	_, err = c.FromIndex(context.Background(), EventsArgs{ThreadRoot: mi(2), Viewer: "late", Ascending: true, MaxEvents: 10})
	require.ErrorIs(t, err, ErrNotFound)
	evs, err = c.FromIndex(context.Background(), EventsArgs{ThreadRoot: mi(2), Viewer: "alice", Ascending: true, MaxEvents: 10, MinVisibleEventIndex: 2})
	require.NoError(t, err)
	assert.Len(t, evs, 1, "threads expose their full history")
}

func TestStats(t *testing.T) {
	c, _ := newChat(t)
	push(t, c, 1, "alice", "a")
	_, err := c.PushMessage(PushMessageArgs{Sender: "bob", ThreadRoot: mi(0), MessageID: id(2), Content: text("b")})
	require.NoError(t, err)
	s := c.Stats()
	assert.Equal(t, 1, s.Threads)
	assert.Equal(t, uint64(3), s.Events)
	assert.Equal(t, 3, s.EphemeralEvents)
	assert.True(t, c.HasEphemeralEvents())
}

// failingKV fails every single-key write while armed.
type failingKV struct {
	db.KV
	armed bool
}

var errWriteFailed = errors.New("write failed")

func (f *failingKV) Set(key, value []byte) error {
	if f.armed {
		return errWriteFailed
	}
	return f.KV.Set(key, value)
}

func TestFailedWriteAppendsNothing(t *testing.T) {
	ctx := context.Background()
	kv := &failingKV{KV: newKV(t)}
	c, err := New(models.GroupChat(7), kv, Options{})
	require.NoError(t, err)
	push(t, c, 1, "alice", "before")
	pushProposal(t, c, 2, t0+1000)
	_, finished, err := c.MigrateNextBatch(ctx, 10)
	require.NoError(t, err)
	require.True(t, finished)

	kv.armed = true
	_, err = c.EditMessage(EditMessageArgs{Sender: "alice", MessageID: id(1), Content: text("after"), Now: t0 + 10})
	require.ErrorIs(t, err, errWriteFailed)
	_, err = c.DeleteMessage(DeleteMessageArgs{Caller: "alice", MessageID: id(1), Now: t0 + 11})
	require.ErrorIs(t, err, errWriteFailed)
	_, err = c.AddReaction(ReactionArgs{User: "bob", MessageID: id(1), Reaction: "x", Now: t0 + 12})
	require.ErrorIs(t, err, errWriteFailed)
	_, err = c.RegisterProposalVote(ProposalVoteArgs{Voter: "bob", MessageID: id(2), Adopt: true, Now: t0 + 13})
	require.ErrorIs(t, err, errWriteFailed)

	latest, _, err := c.LatestEventIndex(nil)
	require.NoError(t, err)
	assert.Equal(t, models.EventIndex(1), latest)
	assert.False(t, c.HasEphemeralEvents())

	kv.armed = false
	res, err := c.RegisterProposalVote(ProposalVoteArgs{Voter: "bob", MessageID: id(2), Adopt: true, Now: t0 + 14})
	require.NoError(t, err)
	assert.Equal(t, VoteRecorded, res.Outcome)
	assert.Equal(t, models.EventIndex(2), res.EventIndex)
	assert.Equal(t, models.ProposalTally{Yes: 1}, res.Tally)

	e, err := c.MessageByID(MessageArgs{Viewer: "alice", MessageID: id(1)})
	require.NoError(t, err)
	m, _ := e.AsMessage()
	assert.Equal(t, text("before"), m.Content)
	assert.Nil(t, m.Deleted)
	assert.Empty(t, m.Reactions)
}

package events

import (
	"chatevents/pkg/models"
)

type PushMessageArgs struct {
	Sender models.UserID
	// ThreadRoot selects the thread of that main log message; nil pushes to the main log.
	ThreadRoot    *models.MessageIndex
	MessageID     models.MessageID
	Content       models.MessageContent
	RepliesTo     *models.EventIndex
	Mentioned     []models.UserID
	Forwarded     bool
	CorrelationID uint64
	Now           models.TimestampMillis
}

type PushResult struct {
	EventIndex   models.EventIndex
	MessageIndex models.MessageIndex
	Timestamp    models.TimestampMillis
	Message      *models.Message
	// ThreadCreated is set when this was the first reply to ThreadRoot; the
	// ThreadCreated event landed in the main log at ThreadCreatedIndex.
	ThreadCreated      bool
	ThreadCreatedIndex models.EventIndex
}

type EditMessageArgs struct {
	Sender               models.UserID
	MinVisibleEventIndex models.EventIndex
	ThreadRoot           *models.MessageIndex
	MessageID            models.MessageID
	Content              models.MessageContent
	// OverrideSender is a capability granted by the caller to edit others' messages.
	OverrideSender bool
	CorrelationID  uint64
	Now            models.TimestampMillis
}

type EditResult struct {
	EventIndex models.EventIndex
	Message    *models.Message
}

type DeleteMessageArgs struct {
	Caller               models.UserID
	MinVisibleEventIndex models.EventIndex
	ThreadRoot           *models.MessageIndex
	MessageID            models.MessageID
	// AsModerator allows deleting other senders' messages.
	AsModerator   bool
	CorrelationID uint64
	Now           models.TimestampMillis
}

type DeleteResult struct {
	// EventIndex of the MessageDeleted event; zero when AlreadyDeleted.
	EventIndex     models.EventIndex
	AlreadyDeleted bool
}

type UndeleteMessagesArgs struct {
	Caller               models.UserID
	MinVisibleEventIndex models.EventIndex
	ThreadRoot           *models.MessageIndex
	MessageIDs           []models.MessageID
	// AsModerator allows restoring messages deleted by someone else.
	AsModerator   bool
	CorrelationID uint64
	Now           models.TimestampMillis
}

type ReactionArgs struct {
	User                 models.UserID
	MinVisibleEventIndex models.EventIndex
	ThreadRoot           *models.MessageIndex
	MessageID            models.MessageID
	Reaction             string
	CorrelationID        uint64
	Now                  models.TimestampMillis
}

type ReactionResult struct {
	// Changed is false for redundant calls, which append nothing.
	Changed    bool
	EventIndex models.EventIndex
}

type ProposalVoteArgs struct {
	Voter                models.UserID
	MinVisibleEventIndex models.EventIndex
	ThreadRoot           *models.MessageIndex
	MessageID            models.MessageID
	Adopt                bool
	// Weight is used by RecordProposalVote; RegisterProposalVote always counts 1.
	Weight        uint64
	CorrelationID uint64
	Now           models.TimestampMillis
}

type VoteOutcome int

const (
	VoteRecorded VoteOutcome = iota
	VoteAlreadyRegistered
)

func (o VoteOutcome) String() string {
	if o == VoteAlreadyRegistered {
		return "already_registered"
	}
	return "recorded"
}

type ProposalVoteResult struct {
	Outcome    VoteOutcome
	EventIndex models.EventIndex
	Tally      models.ProposalTally
}

type VideoCallPresenceArgs struct {
	User          models.UserID
	ThreadRoot    *models.MessageIndex
	MessageID     models.MessageID
	Presence      models.CallPresence
	CorrelationID uint64
	Now           models.TimestampMillis
}

type VideoCallPresenceResult struct {
	Changed    bool
	EventIndex models.EventIndex
}

type DeleteHistoryArgs struct {
	Caller models.UserID
	// Before purges every main log event with a timestamp strictly below it.
	Before        models.TimestampMillis
	CorrelationID uint64
	Now           models.TimestampMillis
}

type DeleteHistoryResult struct {
	Purged uint32
	// Floor is the new retention floor: the first surviving event.
	Floor models.EventIndex
	// EventIndex of the HistoryDeleted event; zero when nothing was purged.
	EventIndex models.EventIndex
	// ThreadPrefixes are durable prefixes of dropped thread logs; each has a
	// pending GC marker.
	ThreadPrefixes [][]byte
}

type EventsArgs struct {
	ThreadRoot           *models.MessageIndex
	Viewer               models.UserID
	Start                models.EventIndex
	Ascending            bool
	MaxEvents            int
	MinVisibleEventIndex models.EventIndex
}

type WindowArgs struct {
	ThreadRoot *models.MessageIndex
	Viewer     models.UserID
	MidPoint   models.EventIndex
	// MidPointMessage, when set, replaces MidPoint with that message's event.
	MidPointMessage      *models.MessageIndex
	MaxEvents            int
	MinVisibleEventIndex models.EventIndex
}

type EventsByIndexArgs struct {
	ThreadRoot           *models.MessageIndex
	Viewer               models.UserID
	Indices              []models.EventIndex
	MinVisibleEventIndex models.EventIndex
}

type MessageArgs struct {
	ThreadRoot           *models.MessageIndex
	Viewer               models.UserID
	MessageID            models.MessageID
	MinVisibleEventIndex models.EventIndex
}

// EventsResponse is one page of a log.
type EventsResponse struct {
	Events           []models.Event
	AffectedEvents   []models.Event
	LatestEventIndex models.EventIndex
}

type SearchArgs struct {
	Viewer               models.UserID
	Query                string
	Senders              []models.UserID
	MaxResults           int
	MinVisibleEventIndex models.EventIndex
}

type Match struct {
	EventIndex   models.EventIndex
	MessageIndex models.MessageIndex
	MessageID    models.MessageID
	Sender       models.UserID
	Timestamp    models.TimestampMillis
	Score        int
}

package models

import (
	"encoding/json"
	"fmt"
)

// EventKind tags a Payload variant in storage.
type EventKind string

const (
	KindMessage                  EventKind = "message"
	KindMemberJoined             EventKind = "member_joined"
	KindMemberLeft               EventKind = "member_left"
	KindRoleChanged              EventKind = "role_changed"
	KindReactionAdded            EventKind = "reaction_added"
	KindReactionRemoved          EventKind = "reaction_removed"
	KindMessageEdited            EventKind = "message_edited"
	KindMessageDeleted           EventKind = "message_deleted"
	KindMessageUndeleted         EventKind = "message_undeleted"
	KindHistoryDeleted           EventKind = "history_deleted"
	KindProposalVoteRecorded     EventKind = "proposal_vote_recorded"
	KindVideoCallPresenceChanged EventKind = "video_call_presence_changed"
	KindThreadCreated            EventKind = "thread_created"
	KindChatFrozen               EventKind = "chat_frozen"
	KindChatUnfrozen             EventKind = "chat_unfrozen"
	KindNameChanged              EventKind = "name_changed"
	KindPurged                   EventKind = "purged"
)

// Event is one indexed entry of a log.
type Event struct {
	Index         EventIndex
	Timestamp     TimestampMillis
	CorrelationID uint64
	Payload       Payload
}

// Payload is the closed set of event variants.
type Payload interface {
	Kind() EventKind
	isPayload()
}

// MessageRef identifies the message an update event applies to.
type MessageRef struct {
	MessageIndex MessageIndex `json:"message_index"`
	MessageID    MessageID    `json:"message_id"`
}

type MemberJoined struct {
	UserID    UserID `json:"user_id"`
	InvitedBy UserID `json:"invited_by,omitempty"`
}

type MemberLeft struct {
	UserID UserID `json:"user_id"`
}

type RoleChanged struct {
	UserIDs   []UserID `json:"user_ids"`
	ChangedBy UserID   `json:"changed_by"`
	OldRole   string   `json:"old_role"`
	NewRole   string   `json:"new_role"`
}

type ReactionAdded struct {
	Ref      MessageRef `json:"ref"`
	UserID   UserID     `json:"user_id"`
	Reaction string     `json:"reaction"`
}

type ReactionRemoved struct {
	Ref      MessageRef `json:"ref"`
	UserID   UserID     `json:"user_id"`
	Reaction string     `json:"reaction"`
}

type MessageEdited struct {
	Ref       MessageRef `json:"ref"`
	UpdatedBy UserID     `json:"updated_by"`
}

type MessageDeleted struct {
	Ref       MessageRef `json:"ref"`
	DeletedBy UserID     `json:"deleted_by"`
}

type MessageUndeleted struct {
	Ref         MessageRef `json:"ref"`
	UndeletedBy UserID     `json:"undeleted_by"`
}

// HistoryDeleted records a purge of every main log event older than Before.
type HistoryDeleted struct {
	DeletedBy UserID          `json:"deleted_by"`
	Before    TimestampMillis `json:"before"`
	Purged    uint32          `json:"purged"`
}

type ProposalVoteRecorded struct {
	Ref    MessageRef `json:"ref"`
	Voter  UserID     `json:"voter"`
	Adopt  bool       `json:"adopt"`
	Weight uint64     `json:"weight"`
}

type VideoCallPresenceChanged struct {
	Ref      MessageRef   `json:"ref"`
	UserID   UserID       `json:"user_id"`
	Presence CallPresence `json:"presence"`
}

// ThreadCreated is appended to the main log when a message gets its first reply.
type ThreadCreated struct {
	Ref MessageRef `json:"ref"`
}

type ChatFrozen struct {
	FrozenBy UserID `json:"frozen_by"`
	Reason   string `json:"reason,omitempty"`
}

type ChatUnfrozen struct {
	UnfrozenBy UserID `json:"unfrozen_by"`
}

type NameChanged struct {
	ChangedBy UserID `json:"changed_by"`
	OldName   string `json:"old_name"`
	NewName   string `json:"new_name"`
}

// Purged fills the slot of an event removed by history deletion. Message is
// set when the slot held a message so its index is never handed out again.
type Purged struct {
	Message *MessageIndex `json:"message_index,omitempty"`
}

func (*Message) Kind() EventKind                 { return KindMessage }
func (MemberJoined) Kind() EventKind             { return KindMemberJoined }
func (MemberLeft) Kind() EventKind               { return KindMemberLeft }
func (RoleChanged) Kind() EventKind              { return KindRoleChanged }
func (ReactionAdded) Kind() EventKind            { return KindReactionAdded }
func (ReactionRemoved) Kind() EventKind          { return KindReactionRemoved }
func (MessageEdited) Kind() EventKind            { return KindMessageEdited }
func (MessageDeleted) Kind() EventKind           { return KindMessageDeleted }
func (MessageUndeleted) Kind() EventKind         { return KindMessageUndeleted }
func (HistoryDeleted) Kind() EventKind           { return KindHistoryDeleted }
func (ProposalVoteRecorded) Kind() EventKind     { return KindProposalVoteRecorded }
func (VideoCallPresenceChanged) Kind() EventKind { return KindVideoCallPresenceChanged }
func (ThreadCreated) Kind() EventKind            { return KindThreadCreated }
func (ChatFrozen) Kind() EventKind               { return KindChatFrozen }
func (ChatUnfrozen) Kind() EventKind             { return KindChatUnfrozen }
func (NameChanged) Kind() EventKind              { return KindNameChanged }
func (Purged) Kind() EventKind                   { return KindPurged }

func (*Message) isPayload()                 {}
func (MemberJoined) isPayload()             {}
func (MemberLeft) isPayload()               {}
func (RoleChanged) isPayload()              {}
func (ReactionAdded) isPayload()            {}
func (ReactionRemoved) isPayload()          {}
func (MessageEdited) isPayload()            {}
func (MessageDeleted) isPayload()           {}
func (MessageUndeleted) isPayload()         {}
func (HistoryDeleted) isPayload()           {}
func (ProposalVoteRecorded) isPayload()     {}
func (VideoCallPresenceChanged) isPayload() {}
func (ThreadCreated) isPayload()            {}
func (ChatFrozen) isPayload()               {}
func (ChatUnfrozen) isPayload()             {}
func (NameChanged) isPayload()              {}
func (Purged) isPayload()                   {}

// Target returns the message an update event applies to.
func Target(p Payload) (MessageRef, bool) {
	switch v := p.(type) {
	case ReactionAdded:
		return v.Ref, true
	case ReactionRemoved:
		return v.Ref, true
	case MessageEdited:
		return v.Ref, true
	case MessageDeleted:
		return v.Ref, true
	case MessageUndeleted:
		return v.Ref, true
	case ProposalVoteRecorded:
		return v.Ref, true
	case VideoCallPresenceChanged:
		return v.Ref, true
	case ThreadCreated:
		return v.Ref, true
	default:
		return MessageRef{}, false
	}
}

// IsAdministrative reports whether p may be appended without message semantics.
func IsAdministrative(p Payload) bool {
	switch p.(type) {
	case MemberJoined, MemberLeft, RoleChanged, ChatFrozen, ChatUnfrozen, NameChanged, HistoryDeleted:
		return true
	default:
		return false
	}
}

// AsMessage returns the message carried by e, if any.
func (e Event) AsMessage() (*Message, bool) {
	m, ok := e.Payload.(*Message)
	return m, ok && m != nil
}

// Clone deep-copies message payloads; other payloads are immutable values.
func (e Event) Clone() Event {
	if m, ok := e.AsMessage(); ok {
		e.Payload = m.Clone()
	}
	return e
}

// View is Clone with deleted message content replaced by its tombstone.
func (e Event) View() Event {
	if m, ok := e.AsMessage(); ok {
		e.Payload = m.View()
	}
	return e
}

type eventJSON struct {
	Index         EventIndex      `json:"index"`
	Timestamp     TimestampMillis `json:"ts"`
	CorrelationID uint64          `json:"correlation_id,omitempty"`
	Kind          EventKind       `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("event %d has no payload", e.Index)
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.Payload.Kind(), err)
	}
	return json.Marshal(eventJSON{
		Index:         e.Index,
		Timestamp:     e.Timestamp,
		CorrelationID: e.CorrelationID,
		Kind:          e.Payload.Kind(),
		Payload:       payload,
	})
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	p, err := decodePayload(raw.Kind, raw.Payload)
	if err != nil {
		return err
	}
	*e = Event{Index: raw.Index, Timestamp: raw.Timestamp, CorrelationID: raw.CorrelationID, Payload: p}
	return nil
}

func decodeInto[T Payload](raw json.RawMessage) (Payload, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodePayload(kind EventKind, raw json.RawMessage) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindMessage:
		m := &Message{}
		err = json.Unmarshal(raw, m)
		p = m
	case KindMemberJoined:
		p, err = decodeInto[MemberJoined](raw)
	case KindMemberLeft:
		p, err = decodeInto[MemberLeft](raw)
	case KindRoleChanged:
		p, err = decodeInto[RoleChanged](raw)
	case KindReactionAdded:
		p, err = decodeInto[ReactionAdded](raw)
	case KindReactionRemoved:
		p, err = decodeInto[ReactionRemoved](raw)
	case KindMessageEdited:
		p, err = decodeInto[MessageEdited](raw)
	case KindMessageDeleted:
		p, err = decodeInto[MessageDeleted](raw)
	case KindMessageUndeleted:
		p, err = decodeInto[MessageUndeleted](raw)
	case KindHistoryDeleted:
		p, err = decodeInto[HistoryDeleted](raw)
	case KindProposalVoteRecorded:
		p, err = decodeInto[ProposalVoteRecorded](raw)
	case KindVideoCallPresenceChanged:
		p, err = decodeInto[VideoCallPresenceChanged](raw)
	case KindThreadCreated:
		p, err = decodeInto[ThreadCreated](raw)
	case KindChatFrozen:
		p, err = decodeInto[ChatFrozen](raw)
	case KindChatUnfrozen:
		p, err = decodeInto[ChatUnfrozen](raw)
	case KindNameChanged:
		p, err = decodeInto[NameChanged](raw)
	case KindPurged:
		p, err = decodeInto[Purged](raw)
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}

// EncodeEvent is the durable encoding of an event.
func EncodeEvent(e Event) ([]byte, error) { return json.Marshal(e) }

// DecodeEvent reverses EncodeEvent.
func DecodeEvent(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}

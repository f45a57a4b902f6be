package models

import (
	"encoding/json"
	"sort"
)

// Reaction is one reaction and the users who added it, sorted.
type Reaction struct {
	Reaction string   `json:"reaction"`
	Users    []UserID `json:"users"`
}

// ReplyContext points at the event a message replies to, within the same log.
type ReplyContext struct {
	EventIndex EventIndex `json:"event_index"`
}

// ThreadSummary is kept on a thread's root message in the main log.
type ThreadSummary struct {
	LatestEventIndex     EventIndex      `json:"latest_event_index"`
	LatestMessageIndex   MessageIndex    `json:"latest_message_index"`
	LatestEventTimestamp TimestampMillis `json:"latest_event_timestamp"`
	ReplyCount           uint32          `json:"reply_count"`
	Participants         []UserID        `json:"participants,omitempty"`
}

type Tombstone struct {
	DeletedBy UserID          `json:"deleted_by"`
	Timestamp TimestampMillis `json:"timestamp"`
}

// Message is the current view of a message. Content keeps the original
// content while Deleted is set so that undelete can restore it; readers get
// the result of View.
type Message struct {
	MessageIndex  MessageIndex    `json:"message_index"`
	MessageID     MessageID       `json:"message_id"`
	Sender        UserID          `json:"sender"`
	Content       MessageContent  `json:"content"`
	RepliesTo     *ReplyContext   `json:"replies_to,omitempty"`
	Mentioned     []UserID        `json:"mentioned,omitempty"`
	Forwarded     bool            `json:"forwarded,omitempty"`
	Reactions     []Reaction      `json:"reactions,omitempty"`
	ThreadSummary *ThreadSummary  `json:"thread_summary,omitempty"`
	Edited        bool            `json:"edited,omitempty"`
	Deleted       *Tombstone      `json:"deleted,omitempty"`
	LastUpdated   TimestampMillis `json:"last_updated,omitempty"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	type alias Message
	content, err := encodeContent(m.Content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		alias
		Content json.RawMessage `json:"content"`
	}{alias: alias(m), Content: content})
}

func (m *Message) UnmarshalJSON(b []byte) error {
	type alias Message
	aux := struct {
		*alias
		Content json.RawMessage `json:"content"`
	}{alias: (*alias)(m)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	content, err := decodeContent(aux.Content)
	if err != nil {
		return err
	}
	m.Content = content
	return nil
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Content = CloneContent(m.Content)
	if m.RepliesTo != nil {
		r := *m.RepliesTo
		c.RepliesTo = &r
	}
	c.Mentioned = append([]UserID(nil), m.Mentioned...)
	if len(c.Mentioned) == 0 {
		c.Mentioned = nil
	}
	if len(m.Reactions) > 0 {
		c.Reactions = make([]Reaction, len(m.Reactions))
		for i, r := range m.Reactions {
			c.Reactions[i] = Reaction{Reaction: r.Reaction, Users: append([]UserID(nil), r.Users...)}
		}
	} else {
		c.Reactions = nil
	}
	if m.ThreadSummary != nil {
		ts := *m.ThreadSummary
		ts.Participants = append([]UserID(nil), m.ThreadSummary.Participants...)
		if len(ts.Participants) == 0 {
			ts.Participants = nil
		}
		c.ThreadSummary = &ts
	}
	if m.Deleted != nil {
		d := *m.Deleted
		c.Deleted = &d
	}
	return &c
}

// View returns a copy fit for readers: deleted messages expose DeletedContent.
func (m *Message) View() *Message {
	c := m.Clone()
	if c != nil && c.Deleted != nil {
		c.Content = DeletedContent{DeletedBy: c.Deleted.DeletedBy, Timestamp: c.Deleted.Timestamp}
	}
	return c
}

// AddReaction adds user to reaction. It reports false if already present.
func (m *Message) AddReaction(reaction string, user UserID) bool {
	for i := range m.Reactions {
		r := &m.Reactions[i]
		if r.Reaction != reaction {
			continue
		}
		j := sort.Search(len(r.Users), func(k int) bool { return r.Users[k] >= user })
		if j < len(r.Users) && r.Users[j] == user {
			return false
		}
		r.Users = append(r.Users, "")
		copy(r.Users[j+1:], r.Users[j:])
		r.Users[j] = user
		return true
	}
	m.Reactions = append(m.Reactions, Reaction{Reaction: reaction, Users: []UserID{user}})
	return true
}

// RemoveReaction removes user from reaction. It reports false if absent.
func (m *Message) RemoveReaction(reaction string, user UserID) bool {
	for i := range m.Reactions {
		r := &m.Reactions[i]
		if r.Reaction != reaction {
			continue
		}
		j := sort.Search(len(r.Users), func(k int) bool { return r.Users[k] >= user })
		if j == len(r.Users) || r.Users[j] != user {
			return false
		}
		r.Users = append(r.Users[:j], r.Users[j+1:]...)
		if len(r.Users) == 0 {
			m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
			if len(m.Reactions) == 0 {
				m.Reactions = nil
			}
		}
		return true
	}
	return false
}

// AddThreadParticipant records a reply in the summary.
func (ts *ThreadSummary) AddThreadParticipant(user UserID) {
	j := sort.Search(len(ts.Participants), func(k int) bool { return ts.Participants[k] >= user })
	if j < len(ts.Participants) && ts.Participants[j] == user {
		return
	}
	ts.Participants = append(ts.Participants, "")
	copy(ts.Participants[j+1:], ts.Participants[j:])
	ts.Participants[j] = user
}

// SearchFields returns the content's text fields. Deleted messages have none.
func (m *Message) SearchFields() []string {
	if m.Deleted != nil || m.Content == nil {
		return nil
	}
	return m.Content.SearchFields()
}

// NormalizeMentions returns a sorted, deduplicated copy.
func NormalizeMentions(users []UserID) []UserID {
	if len(users) == 0 {
		return nil
	}
	s := sortedUsers(users)
	out := s[:1]
	for _, u := range s[1:] {
		if u != out[len(out)-1] {
			out = append(out, u)
		}
	}
	return out
}

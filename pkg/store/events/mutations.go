package events

import (
	"fmt"

	"chatevents/pkg/models"
)

// PushMessage appends a new message to the main log or to a thread.
func (c *ChatEvents) PushMessage(args PushMessageArgs) (PushResult, error) {
	if args.Sender == "" {
		return PushResult{}, fmt.Errorf("%w: sender is required", ErrInvalidArgument)
	}
	if args.MessageID.IsZero() {
		return PushResult{}, fmt.Errorf("%w: message id is required", ErrInvalidArgument)
	}
	if err := models.ValidateContent(args.Content); err != nil {
		return PushResult{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	var (
		l         *eventsList
		rootEvent models.EventIndex
		newThread bool
	)
	if args.ThreadRoot == nil {
		l = c.main
	} else {
		root := *args.ThreadRoot
		idx, ok := c.main.byMessage[root]
		if !ok || idx < c.floors.Retention() {
			return PushResult{}, fmt.Errorf("%w: thread root %d in %s", ErrNotFound, root, c.chat)
		}
		e, err := c.main.get(c.kv, idx)
		if err != nil {
			return PushResult{}, err
		}
		m, ok := e.AsMessage()
		if !ok || m.Deleted != nil {
			return PushResult{}, fmt.Errorf("%w: thread root %d in %s", ErrNotFound, root, c.chat)
		}
		rootEvent = idx
		if l = c.threads[root]; l == nil {
			l = newList(models.ThreadLog(c.chat, root))
			// a previous incarnation of this thread may still be awaiting GC
			if err := finishPendingGC(c.kv, l.prefix); err != nil {
				return PushResult{}, err
			}
			newThread = true
		}
	}

	if _, dup := l.byID[args.MessageID]; dup {
		return PushResult{}, fmt.Errorf("%w: %s in %s", ErrDuplicateMessageID, args.MessageID, l.scope)
	}
	var replyTo *models.ReplyContext
	if args.RepliesTo != nil {
		if *args.RepliesTo >= l.next() {
			return PushResult{}, fmt.Errorf("%w: replied-to event %d in %s", ErrNotFound, *args.RepliesTo, l.scope)
		}
		replyTo = &models.ReplyContext{EventIndex: *args.RepliesTo}
	}

	msg := &models.Message{
		MessageIndex: l.nextMessage,
		MessageID:    args.MessageID,
		Sender:       args.Sender,
		Content:      models.CloneContent(args.Content),
		RepliesTo:    replyTo,
		Mentioned:    models.NormalizeMentions(args.Mentioned),
		Forwarded:    args.Forwarded,
	}
	if newThread {
		c.threads[*args.ThreadRoot] = l
	}
	e := c.append(l, msg, args.CorrelationID, args.Now)
	res := PushResult{
		EventIndex:   e.Index,
		MessageIndex: msg.MessageIndex,
		Timestamp:    e.Timestamp,
		Message:      msg.View(),
	}

	if args.ThreadRoot != nil {
		root := *args.ThreadRoot
		_, err := c.mutateMessage(c.main, rootEvent, func(m *models.Message) error {
			ts := m.ThreadSummary
			if ts == nil {
				ts = &models.ThreadSummary{}
				m.ThreadSummary = ts
			}
			ts.LatestEventIndex = e.Index
			ts.LatestMessageIndex = msg.MessageIndex
			ts.LatestEventTimestamp = e.Timestamp
			ts.ReplyCount++
			ts.AddThreadParticipant(args.Sender)
			m.LastUpdated = e.Timestamp
			return nil
		})
		if err != nil {
			return res, fmt.Errorf("update thread summary of %d: %w", root, err)
		}
		if newThread {
			rootMsgID, _ := c.rootMessageID(rootEvent)
			tc := c.append(c.main, models.ThreadCreated{Ref: models.MessageRef{MessageIndex: root, MessageID: rootMsgID}}, args.CorrelationID, args.Now)
			res.ThreadCreated = true
			res.ThreadCreatedIndex = tc.Index
		}
	}
	return res, nil
}

func (c *ChatEvents) rootMessageID(idx models.EventIndex) (models.MessageID, error) {
	e, err := c.main.get(c.kv, idx)
	if err != nil {
		return models.MessageID{}, err
	}
	m, ok := e.AsMessage()
	if !ok {
		return models.MessageID{}, fmt.Errorf("event %d is not a message", idx)
	}
	return m.MessageID, nil
}

// resolve finds a live message visible to viewer.
func (c *ChatEvents) resolve(root *models.MessageIndex, viewer models.UserID, requested models.EventIndex, id models.MessageID) (*eventsList, models.EventIndex, *models.Message, error) {
	l, err := c.list(root)
	if err != nil {
		return nil, 0, nil, err
	}
	floor, err := c.floor(l, viewer, requested)
	if err != nil {
		return nil, 0, nil, err
	}
	idx, m, err := c.message(l, id, floor)
	if err != nil {
		return nil, 0, nil, err
	}
	return l, idx, m, nil
}

func ref(m *models.Message) models.MessageRef {
	return models.MessageRef{MessageIndex: m.MessageIndex, MessageID: m.MessageID}
}

// EditMessage replaces the content of a live message.
func (c *ChatEvents) EditMessage(args EditMessageArgs) (EditResult, error) {
	if err := models.ValidateContent(args.Content); err != nil {
		return EditResult{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	l, idx, m, err := c.resolve(args.ThreadRoot, args.Sender, args.MinVisibleEventIndex, args.MessageID)
	if err != nil {
		return EditResult{}, err
	}
	if m.Deleted != nil {
		return EditResult{}, fmt.Errorf("%w: message %s is deleted", ErrNotFound, args.MessageID)
	}
	if m.Sender != args.Sender && !args.OverrideSender {
		return EditResult{}, fmt.Errorf("%w: %s cannot edit a message sent by %s", ErrNotAuthorized, args.Sender, m.Sender)
	}
	switch m.Content.(type) {
	case models.ProposalContent, models.VideoCallContent:
		return EditResult{}, fmt.Errorf("%w: %s messages cannot be edited", ErrInvalidArgument, m.Content.ContentKind())
	}
	if args.Content.ContentKind() != m.Content.ContentKind() {
		return EditResult{}, fmt.Errorf("%w: cannot change %s content to %s", ErrInvalidArgument, m.Content.ContentKind(), args.Content.ContentKind())
	}

	ts := l.stamp(args.Now)
	updated, err := c.mutateMessage(l, idx, func(m *models.Message) error {
		m.Content = models.CloneContent(args.Content)
		m.Edited = true
		m.LastUpdated = ts
		return nil
	})
	if err != nil {
		return EditResult{}, err
	}
	ev := c.append(l, models.MessageEdited{Ref: ref(m), UpdatedBy: args.Sender}, args.CorrelationID, ts)
	return EditResult{EventIndex: ev.Index, Message: updated.View()}, nil
}

// DeleteMessage tombstones a message. Deleting an already deleted message is
// a successful no-op.
func (c *ChatEvents) DeleteMessage(args DeleteMessageArgs) (DeleteResult, error) {
	l, idx, m, err := c.resolve(args.ThreadRoot, args.Caller, args.MinVisibleEventIndex, args.MessageID)
	if err != nil {
		return DeleteResult{}, err
	}
	if m.Sender != args.Caller && !args.AsModerator {
		return DeleteResult{}, fmt.Errorf("%w: %s cannot delete a message sent by %s", ErrNotAuthorized, args.Caller, m.Sender)
	}
	if m.Deleted != nil {
		return DeleteResult{AlreadyDeleted: true}, nil
	}
	ts := l.stamp(args.Now)
	_, err = c.mutateMessage(l, idx, func(m *models.Message) error {
		m.Deleted = &models.Tombstone{DeletedBy: args.Caller, Timestamp: ts}
		m.LastUpdated = ts
		return nil
	})
	if err != nil {
		return DeleteResult{}, err
	}
	ev := c.append(l, models.MessageDeleted{Ref: ref(m), DeletedBy: args.Caller}, args.CorrelationID, ts)
	return DeleteResult{EventIndex: ev.Index}, nil
}

// UndeleteMessages restores tombstoned messages and returns the restored
// views. Ids that are absent, not deleted, or deleted by someone else without
// the moderator capability are skipped.
func (c *ChatEvents) UndeleteMessages(args UndeleteMessagesArgs) ([]*models.Message, error) {
	l, err := c.list(args.ThreadRoot)
	if err != nil {
		return nil, err
	}
	floor, err := c.floor(l, args.Caller, args.MinVisibleEventIndex)
	if err != nil {
		return nil, err
	}
	var restored []*models.Message
	seen := make(map[models.MessageID]struct{}, len(args.MessageIDs))
	for _, id := range args.MessageIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		idx, m, err := c.message(l, id, floor)
		if err != nil {
			continue
		}
		if m.Deleted == nil {
			continue
		}
		if m.Deleted.DeletedBy != args.Caller && !args.AsModerator {
			continue
		}
		ts := l.stamp(args.Now)
		updated, err := c.mutateMessage(l, idx, func(m *models.Message) error {
			m.Deleted = nil
			m.LastUpdated = ts
			return nil
		})
		if err != nil {
			return restored, err
		}
		c.append(l, models.MessageUndeleted{Ref: ref(m), UndeletedBy: args.Caller}, args.CorrelationID, ts)
		restored = append(restored, updated.View())
	}
	return restored, nil
}

// AddReaction adds (user, reaction) to a message. Redundant calls report
// Changed == false and append nothing.
func (c *ChatEvents) AddReaction(args ReactionArgs) (ReactionResult, error) {
	return c.toggleReaction(args, true)
}

// RemoveReaction removes (user, reaction) from a message. Removing an absent
// reaction reports Changed == false.
func (c *ChatEvents) RemoveReaction(args ReactionArgs) (ReactionResult, error) {
	return c.toggleReaction(args, false)
}

func (c *ChatEvents) toggleReaction(args ReactionArgs, add bool) (ReactionResult, error) {
	if args.User == "" || args.Reaction == "" {
		return ReactionResult{}, fmt.Errorf("%w: user and reaction are required", ErrInvalidArgument)
	}
	l, idx, m, err := c.resolve(args.ThreadRoot, args.User, args.MinVisibleEventIndex, args.MessageID)
	if err != nil {
		return ReactionResult{}, err
	}
	if m.Deleted != nil {
		return ReactionResult{}, fmt.Errorf("%w: message %s is deleted", ErrNotFound, args.MessageID)
	}
	next := m.Clone()
	var changed bool
	if add {
		changed = next.AddReaction(args.Reaction, args.User)
	} else {
		changed = next.RemoveReaction(args.Reaction, args.User)
	}
	if !changed {
		return ReactionResult{}, nil
	}

	var payload models.Payload = models.ReactionAdded{Ref: ref(m), UserID: args.User, Reaction: args.Reaction}
	if !add {
		payload = models.ReactionRemoved{Ref: ref(m), UserID: args.User, Reaction: args.Reaction}
	}
	ts := l.stamp(args.Now)
	_, err = c.mutateMessage(l, idx, func(m *models.Message) error {
		if add {
			m.AddReaction(args.Reaction, args.User)
		} else {
			m.RemoveReaction(args.Reaction, args.User)
		}
		m.LastUpdated = ts
		return nil
	})
	if err != nil {
		return ReactionResult{}, err
	}
	ev := c.append(l, payload, args.CorrelationID, ts)
	return ReactionResult{Changed: true, EventIndex: ev.Index}, nil
}

// RegisterProposalVote records a chat member's vote with weight 1.
func (c *ChatEvents) RegisterProposalVote(args ProposalVoteArgs) (ProposalVoteResult, error) {
	args.Weight = 1
	return c.vote(args)
}

// RecordProposalVote records an externally reported vote with its voting weight.
func (c *ChatEvents) RecordProposalVote(args ProposalVoteArgs) (ProposalVoteResult, error) {
	if args.Weight == 0 {
		return ProposalVoteResult{}, fmt.Errorf("%w: vote weight is required", ErrInvalidArgument)
	}
	return c.vote(args)
}

func (c *ChatEvents) vote(args ProposalVoteArgs) (ProposalVoteResult, error) {
	if args.Voter == "" {
		return ProposalVoteResult{}, fmt.Errorf("%w: voter is required", ErrInvalidArgument)
	}
	l, idx, m, err := c.resolve(args.ThreadRoot, args.Voter, args.MinVisibleEventIndex, args.MessageID)
	if err != nil {
		return ProposalVoteResult{}, err
	}
	if m.Deleted != nil {
		return ProposalVoteResult{}, fmt.Errorf("%w: message %s is deleted", ErrNotFound, args.MessageID)
	}
	p, ok := m.Content.(models.ProposalContent)
	if !ok {
		return ProposalVoteResult{}, fmt.Errorf("%w: %s", ErrNotProposal, args.MessageID)
	}
	if !p.IsOpen(args.Now) {
		return ProposalVoteResult{}, fmt.Errorf("%w: proposal %d is %s", ErrProposalClosed, p.ProposalID, p.Status)
	}
	if _, voted := p.Votes[args.Voter]; voted {
		return ProposalVoteResult{Outcome: VoteAlreadyRegistered, Tally: p.Tally}, nil
	}

	ts := l.stamp(args.Now)
	updated, err := c.mutateMessage(l, idx, func(m *models.Message) error {
		p := m.Content.(models.ProposalContent)
		if p.Votes == nil {
			p.Votes = make(map[models.UserID]models.ProposalVote)
		}
		p.Votes[args.Voter] = models.ProposalVote{Adopt: args.Adopt, Weight: args.Weight}
		if args.Adopt {
			p.Tally.Yes += args.Weight
		} else {
			p.Tally.No += args.Weight
		}
		m.Content = p
		m.LastUpdated = ts
		return nil
	})
	if err != nil {
		return ProposalVoteResult{}, err
	}
	ev := c.append(l, models.ProposalVoteRecorded{Ref: ref(m), Voter: args.Voter, Adopt: args.Adopt, Weight: args.Weight}, args.CorrelationID, ts)
	return ProposalVoteResult{Outcome: VoteRecorded, EventIndex: ev.Index, Tally: updated.Content.(models.ProposalContent).Tally}, nil
}

// SetVideoCallPresence records how a user takes part in a call. Setting the
// current presence again is a no-op.
func (c *ChatEvents) SetVideoCallPresence(args VideoCallPresenceArgs) (VideoCallPresenceResult, error) {
	if args.User == "" {
		return VideoCallPresenceResult{}, fmt.Errorf("%w: user is required", ErrInvalidArgument)
	}
	switch args.Presence {
	case models.PresenceDefault, models.PresenceOwner, models.PresenceHidden:
	default:
		return VideoCallPresenceResult{}, fmt.Errorf("%w: unknown presence %q", ErrInvalidArgument, args.Presence)
	}
	l, idx, m, err := c.resolve(args.ThreadRoot, args.User, 0, args.MessageID)
	if err != nil {
		return VideoCallPresenceResult{}, err
	}
	call, ok := m.Content.(models.VideoCallContent)
	if !ok || m.Deleted != nil {
		return VideoCallPresenceResult{}, fmt.Errorf("%w: %s", ErrNotVideoCall, args.MessageID)
	}
	if call.Ended != 0 {
		return VideoCallPresenceResult{}, fmt.Errorf("%w: %s", ErrCallEnded, args.MessageID)
	}
	if cur, ok := call.Participants[args.User]; ok && cur == args.Presence {
		return VideoCallPresenceResult{}, nil
	}
	ts := l.stamp(args.Now)
	_, err = c.mutateMessage(l, idx, func(m *models.Message) error {
		call := m.Content.(models.VideoCallContent)
		if call.Participants == nil {
			call.Participants = make(map[models.UserID]models.CallPresence)
		}
		call.Participants[args.User] = args.Presence
		m.Content = call
		m.LastUpdated = ts
		return nil
	})
	if err != nil {
		return VideoCallPresenceResult{}, err
	}
	ev := c.append(l, models.VideoCallPresenceChanged{Ref: ref(m), UserID: args.User, Presence: args.Presence}, args.CorrelationID, ts)
	return VideoCallPresenceResult{Changed: true, EventIndex: ev.Index}, nil
}

// PushMainEvent appends an administrative event to the main log.
func (c *ChatEvents) PushMainEvent(payload models.Payload, correlationID uint64, now models.TimestampMillis) (models.EventIndex, error) {
	if payload == nil || !models.IsAdministrative(payload) {
		kind := models.EventKind("<nil>")
		if payload != nil {
			kind = payload.Kind()
		}
		return 0, fmt.Errorf("%w: %s is not an administrative event", ErrInvalidArgument, kind)
	}
	return c.append(c.main, payload, correlationID, now).Index, nil
}

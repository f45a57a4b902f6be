package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ContentKind tags a MessageContent variant in storage.
type ContentKind string

const (
	ContentText      ContentKind = "text"
	ContentImage     ContentKind = "image"
	ContentFile      ContentKind = "file"
	ContentProposal  ContentKind = "proposal"
	ContentVideoCall ContentKind = "video_call"
	ContentDeleted   ContentKind = "deleted"
)

// MessageContent is a closed set of content variants. Every variant reports
// the text fields search matches against.
type MessageContent interface {
	ContentKind() ContentKind
	SearchFields() []string
	isContent()
}

type TextContent struct {
	Text string `json:"text"`
}

type ImageContent struct {
	Caption  string `json:"caption,omitempty"`
	MimeType string `json:"mime_type"`
	BlobID   string `json:"blob_id,omitempty"`
	Width    uint32 `json:"width,omitempty"`
	Height   uint32 `json:"height,omitempty"`
}

type FileContent struct {
	Name     string `json:"name"`
	Caption  string `json:"caption,omitempty"`
	MimeType string `json:"mime_type"`
	Size     uint64 `json:"size"`
	BlobID   string `json:"blob_id,omitempty"`
}

type ProposalStatus string

const (
	ProposalOpen      ProposalStatus = "open"
	ProposalAdopted   ProposalStatus = "adopted"
	ProposalRejected  ProposalStatus = "rejected"
	ProposalCancelled ProposalStatus = "cancelled"
)

type ProposalTally struct {
	Yes uint64 `json:"yes"`
	No  uint64 `json:"no"`
}

type ProposalVote struct {
	Adopt  bool   `json:"adopt"`
	Weight uint64 `json:"weight"`
}

type ProposalContent struct {
	ProposalID uint64                  `json:"proposal_id"`
	Title      string                  `json:"title"`
	Summary    string                  `json:"summary,omitempty"`
	Status     ProposalStatus          `json:"status"`
	Deadline   TimestampMillis         `json:"deadline"`
	Tally      ProposalTally           `json:"tally"`
	Votes      map[UserID]ProposalVote `json:"votes,omitempty"`
}

// IsOpen reports whether votes are still accepted at now.
func (p ProposalContent) IsOpen(now TimestampMillis) bool {
	return p.Status == ProposalOpen && (p.Deadline == 0 || now < p.Deadline)
}

type CallPresence string

const (
	PresenceDefault CallPresence = "default"
	PresenceOwner   CallPresence = "owner"
	PresenceHidden  CallPresence = "hidden"
)

type VideoCallContent struct {
	Participants map[UserID]CallPresence `json:"participants,omitempty"`
	Ended        TimestampMillis         `json:"ended,omitempty"`
}

// DeletedContent is what readers see in place of a deleted message's content.
// It is never stored.
type DeletedContent struct {
	DeletedBy UserID          `json:"deleted_by"`
	Timestamp TimestampMillis `json:"timestamp"`
}

func (TextContent) ContentKind() ContentKind      { return ContentText }
func (ImageContent) ContentKind() ContentKind     { return ContentImage }
func (FileContent) ContentKind() ContentKind      { return ContentFile }
func (ProposalContent) ContentKind() ContentKind  { return ContentProposal }
func (VideoCallContent) ContentKind() ContentKind { return ContentVideoCall }
func (DeletedContent) ContentKind() ContentKind   { return ContentDeleted }

func (c TextContent) SearchFields() []string  { return nonEmpty(c.Text) }
func (c ImageContent) SearchFields() []string { return nonEmpty(c.Caption) }
func (c FileContent) SearchFields() []string  { return nonEmpty(c.Name, c.Caption) }
func (c ProposalContent) SearchFields() []string {
	return nonEmpty(c.Title, c.Summary)
}
func (VideoCallContent) SearchFields() []string { return nil }
func (DeletedContent) SearchFields() []string   { return nil }

func (TextContent) isContent()      {}
func (ImageContent) isContent()     {}
func (FileContent) isContent()      {}
func (ProposalContent) isContent()  {}
func (VideoCallContent) isContent() {}
func (DeletedContent) isContent()   {}

func nonEmpty(fields ...string) []string {
	out := fields[:0:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// ValidateContent rejects nil content, pointer variants and the read-only
// deleted presentation.
func ValidateContent(c MessageContent) error {
	switch v := c.(type) {
	case TextContent, ImageContent, FileContent, VideoCallContent:
		return nil
	case ProposalContent:
		if v.Status == "" {
			return fmt.Errorf("proposal %d has no status", v.ProposalID)
		}
		return nil
	case DeletedContent:
		return fmt.Errorf("deleted content cannot be written")
	case nil:
		return fmt.Errorf("content is required")
	default:
		return fmt.Errorf("unsupported content type %T", c)
	}
}

// CloneContent deep-copies the map-bearing variants.
func CloneContent(c MessageContent) MessageContent {
	switch v := c.(type) {
	case ProposalContent:
		if v.Votes != nil {
			votes := make(map[UserID]ProposalVote, len(v.Votes))
			for k, vote := range v.Votes {
				votes[k] = vote
			}
			v.Votes = votes
		}
		return v
	case VideoCallContent:
		if v.Participants != nil {
			p := make(map[UserID]CallPresence, len(v.Participants))
			for k, pr := range v.Participants {
				p[k] = pr
			}
			v.Participants = p
		}
		return v
	default:
		return c
	}
}

type contentJSON struct {
	Kind ContentKind     `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func encodeContent(c MessageContent) (json.RawMessage, error) {
	if c == nil {
		return json.RawMessage("null"), nil
	}
	switch c.(type) {
	case TextContent, ImageContent, FileContent, ProposalContent, VideoCallContent, DeletedContent:
	default:
		return nil, fmt.Errorf("unsupported content type %T", c)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return json.Marshal(contentJSON{Kind: c.ContentKind(), Data: data})
}

func decodeContent(raw json.RawMessage) (MessageContent, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var env contentJSON
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode content envelope: %w", err)
	}
	var out MessageContent
	var err error
	switch env.Kind {
	case ContentText:
		var v TextContent
		err = json.Unmarshal(env.Data, &v)
		out = v
	case ContentImage:
		var v ImageContent
		err = json.Unmarshal(env.Data, &v)
		out = v
	case ContentFile:
		var v FileContent
		err = json.Unmarshal(env.Data, &v)
		out = v
	case ContentProposal:
		var v ProposalContent
		err = json.Unmarshal(env.Data, &v)
		out = v
	case ContentVideoCall:
		var v VideoCallContent
		err = json.Unmarshal(env.Data, &v)
		out = v
	case ContentDeleted:
		var v DeletedContent
		err = json.Unmarshal(env.Data, &v)
		out = v
	default:
		return nil, fmt.Errorf("unknown content kind %q", env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s content: %w", env.Kind, err)
	}
	return out, nil
}

// sortedUsers returns a sorted copy of users.
func sortedUsers(users []UserID) []UserID {
	out := append([]UserID(nil), users...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

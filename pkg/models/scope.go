package models

import (
	"fmt"
	"strconv"
	"strings"
)

// ChatKind tags which kind of conversation a scope addresses. The values are
// the leading byte of durable keys, so they must never change.
type ChatKind byte

const (
	ChatDirect  ChatKind = 'd'
	ChatGroup   ChatKind = 'g'
	ChatChannel ChatKind = 'c'
)

func (k ChatKind) String() string {
	switch k {
	case ChatDirect:
		return "direct"
	case ChatGroup:
		return "group"
	case ChatChannel:
		return "channel"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// ChatScope identifies one conversation. ChannelID is only meaningful for channels,
// where ChatID is the owning community.
type ChatScope struct {
	Kind      ChatKind `json:"kind"`
	ChatID    uint64   `json:"chat_id"`
	ChannelID uint64   `json:"channel_id,omitempty"`
}

func DirectChat(id uint64) ChatScope { return ChatScope{Kind: ChatDirect, ChatID: id} }

func GroupChat(id uint64) ChatScope { return ChatScope{Kind: ChatGroup, ChatID: id} }

func Channel(community, channel uint64) ChatScope {
	return ChatScope{Kind: ChatChannel, ChatID: community, ChannelID: channel}
}

// Validate checks that the scope is addressable.
func (s ChatScope) Validate() error {
	switch s.Kind {
	case ChatDirect, ChatGroup:
		if s.ChannelID != 0 {
			return fmt.Errorf("%s chat %d must not carry a channel id", s.Kind, s.ChatID)
		}
		return nil
	case ChatChannel:
		return nil
	default:
		return fmt.Errorf("unknown chat kind %d", byte(s.Kind))
	}
}

// String renders "group:12", "direct:4" or "channel:3/7".
func (s ChatScope) String() string {
	if s.Kind == ChatChannel {
		return fmt.Sprintf("%s:%d/%d", s.Kind, s.ChatID, s.ChannelID)
	}
	return fmt.Sprintf("%s:%d", s.Kind, s.ChatID)
}

// ParseChatScope parses the form produced by ChatScope.String.
func ParseChatScope(v string) (ChatScope, error) {
	kind, rest, ok := strings.Cut(v, ":")
	if !ok {
		return ChatScope{}, fmt.Errorf("invalid chat scope %q", v)
	}
	var s ChatScope
	switch kind {
	case "direct":
		s.Kind = ChatDirect
	case "group":
		s.Kind = ChatGroup
	case "channel":
		s.Kind = ChatChannel
		community, channel, ok := strings.Cut(rest, "/")
		if !ok {
			return ChatScope{}, fmt.Errorf("invalid channel scope %q: want channel:<community>/<channel>", v)
		}
		ch, err := strconv.ParseUint(channel, 10, 64)
		if err != nil {
			return ChatScope{}, fmt.Errorf("invalid channel id in %q: %w", v, err)
		}
		s.ChannelID = ch
		rest = community
	default:
		return ChatScope{}, fmt.Errorf("invalid chat kind in %q", v)
	}
	id, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return ChatScope{}, fmt.Errorf("invalid chat id in %q: %w", v, err)
	}
	s.ChatID = id
	return s, nil
}

// LogScope selects the main log of a chat (ThreadRoot nil) or one of its thread logs.
type LogScope struct {
	Chat       ChatScope     `json:"chat"`
	ThreadRoot *MessageIndex `json:"thread_root,omitempty"`
}

func MainLog(chat ChatScope) LogScope { return LogScope{Chat: chat} }

func ThreadLog(chat ChatScope, root MessageIndex) LogScope {
	return LogScope{Chat: chat, ThreadRoot: &root}
}

func (l LogScope) IsThread() bool { return l.ThreadRoot != nil }

func (l LogScope) String() string {
	if l.ThreadRoot == nil {
		return l.Chat.String()
	}
	return fmt.Sprintf("%s#%d", l.Chat, *l.ThreadRoot)
}

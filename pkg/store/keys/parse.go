package keys

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"chatevents/pkg/models"
)

var ErrInvalidKey = errors.New("invalid key")

func parseChat(b []byte) (models.ChatScope, []byte, error) {
	if len(b) < 1+chatIDWidth {
		return models.ChatScope{}, nil, fmt.Errorf("%w: short chat segment", ErrInvalidKey)
	}
	chat := models.ChatScope{Kind: models.ChatKind(b[0]), ChatID: binary.BigEndian.Uint64(b[1:])}
	b = b[1+chatIDWidth:]
	switch chat.Kind {
	case models.ChatDirect, models.ChatGroup:
	case models.ChatChannel:
		if len(b) < chatIDWidth {
			return models.ChatScope{}, nil, fmt.Errorf("%w: short channel segment", ErrInvalidKey)
		}
		chat.ChannelID = binary.BigEndian.Uint64(b)
		b = b[chatIDWidth:]
	default:
		return models.ChatScope{}, nil, fmt.Errorf("%w: unknown chat kind %d", ErrInvalidKey, chat.Kind)
	}
	return chat, b, nil
}

// ParseEventKey reverses EventKey.
func ParseEventKey(k []byte) (models.LogScope, models.EventIndex, error) {
	if len(k) == 0 || k[0] != TagEvent {
		return models.LogScope{}, 0, fmt.Errorf("%w: not an event key", ErrInvalidKey)
	}
	chat, rest, err := parseChat(k[1:])
	if err != nil {
		return models.LogScope{}, 0, err
	}
	if len(rest) == 0 {
		return models.LogScope{}, 0, fmt.Errorf("%w: missing log tag", ErrInvalidKey)
	}
	log := models.MainLog(chat)
	switch rest[0] {
	case LogMain:
		rest = rest[1:]
	case LogThread:
		if len(rest) < 1+rootWidth {
			return models.LogScope{}, 0, fmt.Errorf("%w: short thread root", ErrInvalidKey)
		}
		log = models.ThreadLog(chat, models.MessageIndex(binary.BigEndian.Uint32(rest[1:])))
		rest = rest[1+rootWidth:]
	default:
		return models.LogScope{}, 0, fmt.Errorf("%w: unknown log tag %d", ErrInvalidKey, rest[0])
	}
	if len(rest) != eventIndexWidth {
		return models.LogScope{}, 0, fmt.Errorf("%w: event index is %d bytes", ErrInvalidKey, len(rest))
	}
	return log, models.EventIndex(binary.BigEndian.Uint64(rest)), nil
}

// ParseSnapshotKey reverses SnapshotKey.
func ParseSnapshotKey(k []byte) (models.ChatScope, error) {
	if len(k) == 0 || k[0] != TagSnapshot {
		return models.ChatScope{}, fmt.Errorf("%w: not a snapshot key", ErrInvalidKey)
	}
	chat, rest, err := parseChat(k[1:])
	if err != nil {
		return models.ChatScope{}, err
	}
	if len(rest) != 0 {
		return models.ChatScope{}, fmt.Errorf("%w: trailing bytes in snapshot key", ErrInvalidKey)
	}
	return chat, nil
}

// ParseGCMarkerKey returns the prefix a marker refers to.
func ParseGCMarkerKey(k []byte) ([]byte, error) {
	if len(k) < 2 || k[0] != TagGCMarker {
		return nil, fmt.Errorf("%w: not a gc marker", ErrInvalidKey)
	}
	return append([]byte(nil), k[1:]...), nil
}

// Format renders a key for logs and the inspect command.
func Format(k []byte) string {
	if len(k) == 0 {
		return "<empty>"
	}
	switch k[0] {
	case TagEvent:
		if log, idx, err := ParseEventKey(k); err == nil {
			return fmt.Sprintf("e:%s:%d", log, idx)
		}
		if chat, rest, err := parseChat(k[1:]); err == nil {
			return formatPrefix(chat, rest)
		}
	case TagSnapshot:
		if chat, err := ParseSnapshotKey(k); err == nil {
			return "s:" + chat.String()
		}
	case TagFloors:
		if chat, rest, err := parseChat(k[1:]); err == nil && len(rest) == 0 {
			return "f:" + chat.String()
		}
	case TagGCMarker:
		if len(k) > 1 {
			return "g:" + Format(k[1:])
		}
	case TagSystem:
		return "v:" + string(k[1:])
	}
	return fmt.Sprintf("%x", k)
}

func formatPrefix(chat models.ChatScope, rest []byte) string {
	var sb strings.Builder
	sb.WriteString("e:")
	sb.WriteString(chat.String())
	switch {
	case len(rest) == 0:
		sb.WriteString(":*")
	case rest[0] == LogMain && len(rest) == 1:
		sb.WriteString(":main")
	case rest[0] == LogThread && len(rest) == 1:
		sb.WriteString("#*")
	case rest[0] == LogThread && len(rest) == 1+rootWidth:
		fmt.Fprintf(&sb, "#%d", binary.BigEndian.Uint32(rest[1:]))
	default:
		fmt.Fprintf(&sb, ":%x", rest)
	}
	return sb.String()
}

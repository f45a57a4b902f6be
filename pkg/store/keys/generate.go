package keys

import (
	"encoding/binary"

	"chatevents/pkg/models"
)

func appendChat(b []byte, chat models.ChatScope) []byte {
	b = append(b, byte(chat.Kind))
	b = binary.BigEndian.AppendUint64(b, chat.ChatID)
	if chat.Kind == models.ChatChannel {
		b = binary.BigEndian.AppendUint64(b, chat.ChannelID)
	}
	return b
}

// ChatPrefix covers every event of a chat, main log and threads.
func ChatPrefix(chat models.ChatScope) []byte {
	b := make([]byte, 0, 2+2*chatIDWidth)
	b = append(b, TagEvent)
	return appendChat(b, chat)
}

// LogPrefix covers every event of one log.
func LogPrefix(log models.LogScope) []byte {
	b := make([]byte, 0, 3+2*chatIDWidth+rootWidth+eventIndexWidth)
	b = append(b, TagEvent)
	b = appendChat(b, log.Chat)
	if log.ThreadRoot == nil {
		return append(b, LogMain)
	}
	b = append(b, LogThread)
	return binary.BigEndian.AppendUint32(b, uint32(*log.ThreadRoot))
}

// ThreadsPrefix covers every thread log of a chat.
func ThreadsPrefix(chat models.ChatScope) []byte {
	return append(ChatPrefix(chat), LogThread)
}

// EventKey is the durable key of one event.
func EventKey(log models.LogScope, idx models.EventIndex) []byte {
	return binary.BigEndian.AppendUint64(LogPrefix(log), uint64(idx))
}

// SnapshotKey holds the in-memory state of a chat between restarts.
func SnapshotKey(chat models.ChatScope) []byte {
	b := make([]byte, 0, 2+2*chatIDWidth)
	b = append(b, TagSnapshot)
	return appendChat(b, chat)
}

// FloorsKey holds a chat's visibility floors, written through on every raise.
func FloorsKey(chat models.ChatScope) []byte {
	b := make([]byte, 0, 2+2*chatIDWidth)
	b = append(b, TagFloors)
	return appendChat(b, chat)
}

// SnapshotPrefix covers every chat snapshot.
func SnapshotPrefix() []byte { return []byte{TagSnapshot} }

// GCMarkerKey records that everything under prefix is pending deletion.
func GCMarkerKey(prefix []byte) []byte {
	b := make([]byte, 0, 1+len(prefix))
	b = append(b, TagGCMarker)
	return append(b, prefix...)
}

// GCMarkerPrefix covers every pending deletion marker.
func GCMarkerPrefix() []byte { return []byte{TagGCMarker} }

// SystemKey names a store-wide record such as the format version.
func SystemKey(name string) []byte {
	return append([]byte{TagSystem}, name...)
}

// PrefixUpperBound returns the smallest key greater than every key with the
// given prefix, or nil when no such key exists (all 0xff).
func PrefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

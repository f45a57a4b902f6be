package models

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// EventIndex is the gapless position of an event within one log.
type EventIndex uint64

// MessageIndex counts messages (not events) within one log.
type MessageIndex uint32

// TimestampMillis is a unix timestamp in milliseconds.
type TimestampMillis uint64

// UserID is an opaque caller identity.
type UserID string

// MessageID is a caller supplied 128-bit message identifier, unique per log.
type MessageID [16]byte

// MessageIDFromUint64 builds an id whose low 64 bits are v.
func MessageIDFromUint64(v uint64) MessageID {
	var id MessageID
	binary.BigEndian.PutUint64(id[8:], v)
	return id
}

// NewMessageID returns a random id.
func NewMessageID() MessageID {
	return MessageID(uuid.New())
}

// ParseMessageID parses the 32 hex digit form produced by String.
func ParseMessageID(s string) (MessageID, error) {
	var id MessageID
	if len(s) != 32 {
		return id, fmt.Errorf("invalid message id %q: want 32 hex digits", s)
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("invalid message id %q: %w", s, err)
	}
	return id, nil
}

func (id MessageID) String() string { return hex.EncodeToString(id[:]) }

func (id MessageID) IsZero() bool { return id == MessageID{} }

func (id MessageID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *MessageID) UnmarshalText(b []byte) error {
	v, err := ParseMessageID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

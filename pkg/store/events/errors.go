package events

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers absent messages, threads and proposals, and anything
	// below the caller's visibility floor.
	ErrNotFound = errors.New("not found")
	// ErrNotAuthorized is a sender or capability mismatch.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrDuplicateMessageID rejects a message id already used in the log.
	ErrDuplicateMessageID = errors.New("duplicate message id")
	// ErrOutOfRange is a requested index beyond the current log bounds.
	ErrOutOfRange = errors.New("event index out of range")
	// ErrInvalidArgument is malformed input.
	ErrInvalidArgument = errors.New("invalid argument")

	ErrNotProposal    = fmt.Errorf("%w: message is not a proposal", ErrNotFound)
	ErrProposalClosed = errors.New("proposal is closed")
	ErrNotVideoCall   = fmt.Errorf("%w: message is not a video call", ErrNotFound)
	ErrCallEnded      = errors.New("video call has ended")
)

package service

import "errors"

var (
	// ErrUnknownReply marks a callback or control request for a reply
	// this process does not know.
	ErrUnknownReply = errors.New("unknown reply")

	// ErrSpawnFailed marks a send whose agent process could not start.
	ErrSpawnFailed = errors.New("failed to spawn agent")

	// ErrNotOwner marks an interrupt from a user who does not own the
	// reply.
	ErrNotOwner = errors.New("reply owned by another user")
)

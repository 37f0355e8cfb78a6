package common

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewULID returns a 26-char, lexicographically time-ordered id. ulid.Make is
// monotonic within the process, so ids minted in the same millisecond still sort
// in creation order.
func NewULID() (string, error) {
	return ulid.Make().String(), nil
}

// NewUUID returns a random v4 id for ephemeral handles.
func NewUUID() string {
	return uuid.NewString()
}

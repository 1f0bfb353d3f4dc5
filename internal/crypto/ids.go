package crypto

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewUUIDv7 generates a time-ordered UUID v7 string. Notification ids use it
// so that ids sort the same way as creation times.
func NewUUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewULID generates a lexically sortable id for client-side names
// (widget open cycles, voice message files).
func NewULID() string {
	return ulid.Make().String()
}

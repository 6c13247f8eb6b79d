package types

import (
	"time"

	"github.com/google/uuid"
)

// NewEventID generates a UUIDv7 event identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewEventID() EventID {
	return EventID(uuid.Must(uuid.NewV7()).String())
}

// ParseEventID accepts any UUID in canonical or urn form and normalizes it to
// the lowercase hyphenated form.
func ParseEventID(s string) (EventID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return EventID(u.String()), nil
}

// EventIDTime extracts the timestamp embedded in a UUIDv7 ID.
// Returns zero time for invalid or non-v7 UUIDs; caller should check IsZero().
func EventIDTime(id EventID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil || u.Version() != 7 {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}

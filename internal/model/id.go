package model

import "github.com/oklog/ulid/v2"

// NewID generates a new task id. ULIDs sort by creation time, so ids from
// one process order the same way as submissions.
func NewID() string {
	return ulid.Make().String()
}

// ValidID reports whether id is a well-formed task id.
func ValidID(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}

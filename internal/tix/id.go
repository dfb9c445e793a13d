package tix

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NewID generates a ticket id of the form {prefix}-{8 lowercase hex}
// (§3). uuid.New() is used elsewhere for session identifiers but does
// not produce this shape, so ticket ids are generated directly.
func NewID(t Type) (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", NewError(ErrIO, "new_id", err)
	}
	return fmt.Sprintf("%s-%s", t.Prefix(), hex.EncodeToString(buf[:])), nil
}

// TypeFromID infers the ticket type from its id prefix.
func TypeFromID(id string) (Type, bool) {
	if len(id) < 2 || id[1] != '-' {
		return "", false
	}
	switch id[0] {
	case 't':
		return TypeTask, true
	case 'i':
		return TypeIssue, true
	case 'n':
		return TypeNote, true
	default:
		return "", false
	}
}

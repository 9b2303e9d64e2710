package tunnel

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ConnectionID identifies one client TCP connection end-to-end: from the
// front's accept, through the control channel dispatch, to the back's
// /connect dial. It is generated once per accepted TCP connection and
// travels the wire in canonical hyphenated form.
type ConnectionID uuid.UUID

// NewConnectionID generates a fresh, random ConnectionID.
func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.New())
}

// String returns the canonical hyphenated encoding used on the wire.
func (id ConnectionID) String() string {
	return uuid.UUID(id).String()
}

// ParseConnectionID parses the canonical hyphenated form back into an ID.
// Leading/trailing whitespace is tolerated since frame bodies occasionally
// carry it.
func ParseConnectionID(s string) (ConnectionID, error) {
	u, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return ConnectionID{}, fmt.Errorf("parsing connection id %q: %w", s, err)
	}
	return ConnectionID(u), nil
}

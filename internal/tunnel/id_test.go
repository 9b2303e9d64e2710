package tunnel

import "testing"

func TestNewConnectionIDUnique(t *testing.T) {
	a := NewConnectionID()
	b := NewConnectionID()
	if a == b {
		t.Fatal("two freshly generated ids collided")
	}
}

func TestConnectionIDRoundTrip(t *testing.T) {
	id := NewConnectionID()
	parsed, err := ParseConnectionID(id.String())
	if err != nil {
		t.Fatalf("ParseConnectionID: %v", err)
	}
	if parsed != id {
		t.Errorf("round-trip mismatch: got %s, want %s", parsed, id)
	}
}

func TestParseConnectionIDTrimsWhitespace(t *testing.T) {
	id := NewConnectionID()
	parsed, err := ParseConnectionID("  " + id.String() + "\n")
	if err != nil {
		t.Fatalf("ParseConnectionID: %v", err)
	}
	if parsed != id {
		t.Errorf("whitespace-trimmed parse mismatch: got %s, want %s", parsed, id)
	}
}

func TestParseConnectionIDRejectsGarbage(t *testing.T) {
	if _, err := ParseConnectionID("not-a-uuid"); err == nil {
		t.Fatal("expected error parsing malformed id")
	}
}

func TestParseConnectionIDCanonicalForm(t *testing.T) {
	const literal = "11111111-1111-1111-1111-111111111111"
	id, err := ParseConnectionID(literal)
	if err != nil {
		t.Fatalf("ParseConnectionID: %v", err)
	}
	if id.String() != literal {
		t.Errorf("String() = %q, want %q", id.String(), literal)
	}
}

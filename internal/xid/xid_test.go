package xid

import (
	"testing"

	"github.com/google/uuid"
)

func TestNewReturnsDistinctUUIDs(t *testing.T) {
	a, b := New(), New()
	if a == b {
		t.Fatalf("expected distinct ids, got %s twice", a)
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Fatalf("expected uuid, got %q: %v", a, err)
	}
}

func TestCodePadsSequence(t *testing.T) {
	if got := Code("BR", 7); got != "BR007" {
		t.Fatalf("expected BR007, got %s", got)
	}
	if got := Code("BR", 1234); got != "BR1234" {
		t.Fatalf("expected BR1234, got %s", got)
	}
}

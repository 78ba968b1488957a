package xid

import (
	"fmt"

	"github.com/google/uuid"
)

func New() string {
	return uuid.NewString()
}

// Code renders a human-facing label such as BR007 from an allocated
// sequence number. Uniqueness comes from the sequence, not the label.
func Code(prefix string, seq int64) string {
	return fmt.Sprintf("%s%03d", prefix, seq)
}

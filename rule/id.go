package rule

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique rule identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces time-sortable RFC 9562 UUIDs.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Sequence returns a Generator producing prefix-1, prefix-2, ... Useful for
// deterministic fixtures.
func Sequence(prefix string) Generator {
	var n atomic.Int64
	return func() string {
		return prefix + "-" + strconv.FormatInt(n.Add(1), 10)
	}
}

// DefaultGenerator is used when no generator is supplied.
var DefaultGenerator Generator = UUIDv7()

// Package rid generates ULID-based identifiers for client connections and
// sessions — sortable by creation time, useful for log correlation and
// ordering without a separate sequence counter.
package rid

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a new ULID string seeded from the current time. IDs
// generated within the same millisecond sort monotonically since every
// call shares one entropy source, matching ulid.Monotonic's contract.
// Empty string is returned only if the entropy source itself fails, which
// math/rand never does; callers may treat a non-empty result as
// infallible.
func New() string {
	mu.Lock()
	defer mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return ""
	}
	return id.String()
}

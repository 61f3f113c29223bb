package ledger

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	refEntropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	refEntropyMu sync.Mutex
)

// NewReference returns a unique, time-ordered reference such as
// "dep-01J9ZK7Q8W3XH5N4C2B1A0VEMD".
func NewReference(prefix string) string {
	refEntropyMu.Lock()
	defer refEntropyMu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), refEntropy).String()
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}

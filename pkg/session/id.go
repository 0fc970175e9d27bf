package session

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const idPrefix = "sess"

var (
	entropy   io.Reader
	entropyMu sync.Mutex
	once      sync.Once
)

// NewID returns a lexicographically sortable session identifier
// ("sess_<ulid>"), so per-session artifact directories list in start order.
func NewID() string {
	once.Do(func() {
		entropy = ulid.Monotonic(rand.Reader, 0)
	})

	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	entropyMu.Unlock()

	return idPrefix + "_" + id.String()
}

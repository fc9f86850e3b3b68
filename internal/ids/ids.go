package ids

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier used for principals, projects and tasks.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Valid reports whether raw looks like an identifier produced by New.
// Path parameters are checked with it before they reach a store.
func Valid(raw string) bool {
	raw = strings.TrimSpace(raw)
	if len(raw) != ulid.EncodedSize {
		return false
	}
	_, err := ulid.ParseStrict(raw)
	return err == nil
}

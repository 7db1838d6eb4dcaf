// Package clock provides injectable time and identifier sources so that
// deadline and cooldown arithmetic is deterministic under test.
package clock

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// IDGen mints fresh opaque identifiers.
type IDGen interface {
	NewID() string
}

// System is the production clock backed by time.Now.
type System struct{}

// Now returns the current wall-clock time in UTC.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// UUIDGen mints random UUIDv4 identifiers.
type UUIDGen struct{}

// NewID returns a fresh UUID string.
func (UUIDGen) NewID() string {
	return uuid.NewString()
}

// Fake is a controllable clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a fake clock frozen at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

// Now returns the frozen instant.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set moves the fake clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// SeqGen mints sequential identifiers ("id-1", "id-2", ...) for tests.
type SeqGen struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSeqGen creates a sequential id generator with the given prefix.
func NewSeqGen(prefix string) *SeqGen {
	return &SeqGen{prefix: prefix}
}

// NewID returns the next identifier in the sequence.
func (g *SeqGen) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return g.prefix + "-" + itoa(g.n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

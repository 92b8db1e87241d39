package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator hands out ULIDs stamped with a caller-supplied time.
//
// Live sessions stamp ids with the wall clock; replay sessions stamp them
// with the replay cursor and a fixed seed so two runs over the same data
// produce the same ids.
type Generator struct {
	mu   sync.Mutex
	mono io.Reader
}

// NewGenerator returns a generator whose entropy is derived from seed.
func NewGenerator(seed int64) *Generator {
	return &Generator{mono: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)}
}

// NewAt returns a ULID string whose timestamp component is t.
func (g *Generator) NewAt(t time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t.UTC()), g.mono)
	if err != nil {
		// Only happens when t is before the epoch or the entropy source fails.
		panic(err)
	}
	return id.String()
}

var std *Generator

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	std = NewGenerator(seed)
}

// New returns a ULID string for the current wall-clock time.
func New() string {
	return std.NewAt(time.Now())
}

// Time extracts the timestamp encoded in a ULID string.
func Time(s string) (time.Time, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()).UTC(), nil
}

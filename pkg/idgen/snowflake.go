package idgen

import (
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// Snowflake ID generator
// ============================================================================
//
// Outbox events need an id that consumers can de-duplicate on. Ledger row ids
// are not enough: one operation emits one event per row and a replayed
// message must be recognisable as the same event.
//
// Layout, 64 bits:
//
//   0 - 41 bit timestamp - 10 bit worker id - 12 bit sequence
//   |   |                  |                  |
//   |   |                  |                  +-- per-millisecond counter (0-4095)
//   |   |                  +-- worker id (0-1023), one per process
//   |   +-- milliseconds since epoch (about 69 years)
//   +-- sign bit, always 0
//
// When the sequence wraps inside one millisecond the generator spins until
// the clock moves on. A clock that steps backwards is clamped to the last
// timestamp seen, so ids never decrease within a process.
//
// ============================================================================

// 41 bits of milliseconds since epoch, 10 bits of worker id, 12 bits of
// sequence.
const (
	epoch          = int64(1704067200000) // 2024-01-01T00:00:00Z
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

func New(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("idgen: worker id must be within 0-%d, got %d", maxWorkerID, workerID)
	}
	return &Snowflake{workerID: workerID}, nil
}

// Init sets the worker id of the package-level generator. Only the first call
// has an effect.
func Init(workerID int64) error {
	var err error
	once.Do(func() {
		defaultGenerator, err = New(workerID)
	})
	return err
}

// NextID falls back to worker 1 when Init was never called.
func NextID() int64 {
	_ = Init(1)
	return defaultGenerator.Generate()
}

func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < s.timestamp {
		// clock moved backwards; keep ids monotonic
		now = s.timestamp
	}

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// GenerateEventID returns an outbox event id such as EVT20240115143052_0012345678.
func GenerateEventID() string {
	id := NextID()
	return fmt.Sprintf("EVT%s_%010d", time.Now().UTC().Format("20060102150405"), id%10000000000)
}

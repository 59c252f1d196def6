package redis

import "sync"

type kind string

const (
	kindIndicators kind = "indicators"
	kindOrder      kind = "order"
	kindPosition   kind = "position"
)

type write struct {
	kind kind
	key  string
	data []byte
}

// coalesces reports whether only the newest write per key matters.
func (k kind) coalesces() bool { return k != kindOrder }

// buffer holds writes made while the breaker is open. Indicator and
// position writes keep only the latest per key; order transitions are
// kept in full, dropping the oldest when the buffer is full.
type buffer struct {
	mu     sync.Mutex
	writes []write
	max    int
}

func newBuffer(max int) *buffer {
	return &buffer{writes: make([]write, 0, 256), max: max}
}

func (b *buffer) add(w write) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if w.kind.coalesces() {
		for i := range b.writes {
			if b.writes[i].kind == w.kind && b.writes[i].key == w.key {
				b.writes = append(b.writes[:i], b.writes[i+1:]...)
				break
			}
		}
	}
	if len(b.writes) >= b.max {
		b.writes = b.writes[1:]
	}
	b.writes = append(b.writes, w)
}

func (b *buffer) take() []write {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.writes
	b.writes = make([]write, 0, 256)
	return out
}

// requeue puts unflushed writes back ahead of anything buffered since.
func (b *buffer) requeue(ws []write) {
	b.mu.Lock()
	defer b.mu.Unlock()
	merged := make([]write, 0, len(ws)+len(b.writes))
	merged = append(merged, ws...)
	merged = append(merged, b.writes...)
	if len(merged) > b.max {
		merged = merged[len(merged)-b.max:]
	}
	b.writes = merged
}

func (b *buffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.writes)
}

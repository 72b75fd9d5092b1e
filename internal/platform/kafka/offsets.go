package kafka

import (
	"sync"

	kgo "github.com/segmentio/kafka-go"
)

// offsetTracker tracks fetched messages per partition and reports the
// highest offset that can be committed without skipping an unsettled message.
type offsetTracker struct {
	mu         sync.Mutex
	partitions map[int]*partitionOffsets
}

type partitionOffsets struct {
	pending []int64
	done    map[int64]kgo.Message
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[int]*partitionOffsets)}
}

// track registers a fetched message. Messages of one partition must be
// tracked in offset order, which is how a reader returns them.
func (t *offsetTracker) track(msg kgo.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.partitions[msg.Partition]
	if !ok {
		p = &partitionOffsets{done: make(map[int64]kgo.Message)}
		t.partitions[msg.Partition] = p
	}
	p.pending = append(p.pending, msg.Offset)
}

// settle marks msg as finished. When this completes a contiguous run from
// the oldest pending offset, the last message of that run is returned and
// should be committed.
func (t *offsetTracker) settle(msg kgo.Message) (kgo.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.partitions[msg.Partition]
	if !ok {
		return kgo.Message{}, false
	}
	p.done[msg.Offset] = msg

	var (
		commit kgo.Message
		moved  bool
	)
	for len(p.pending) > 0 {
		head := p.pending[0]
		m, ok := p.done[head]
		if !ok {
			break
		}
		delete(p.done, head)
		p.pending = p.pending[1:]
		commit, moved = m, true
	}
	return commit, moved
}

// outstanding reports how many tracked messages are not yet committable.
func (t *offsetTracker) outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, p := range t.partitions {
		n += len(p.pending)
	}
	return n
}

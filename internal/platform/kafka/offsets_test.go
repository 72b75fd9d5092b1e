package kafka

import (
	"testing"

	kgo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msgAt(partition int, offset int64) kgo.Message {
	return kgo.Message{Topic: "tasks", Partition: partition, Offset: offset}
}

func TestOffsetTracker_CommitsOnlyContiguousRuns(t *testing.T) {
	t.Parallel()

	tr := newOffsetTracker()
	for off := int64(10); off < 13; off++ {
		tr.track(msgAt(0, off))
	}

	_, ok := tr.settle(msgAt(0, 12))
	assert.False(t, ok, "offset 12 cannot be committed before 10 and 11")

	_, ok = tr.settle(msgAt(0, 11))
	assert.False(t, ok)

	commit, ok := tr.settle(msgAt(0, 10))
	require.True(t, ok)
	assert.Equal(t, int64(12), commit.Offset)
	assert.Equal(t, 0, tr.outstanding())
}

func TestOffsetTracker_PartitionsAreIndependent(t *testing.T) {
	t.Parallel()

	tr := newOffsetTracker()
	tr.track(msgAt(0, 1))
	tr.track(msgAt(1, 7))
	tr.track(msgAt(0, 2))

	commit, ok := tr.settle(msgAt(1, 7))
	require.True(t, ok)
	assert.Equal(t, 1, commit.Partition)
	assert.Equal(t, int64(7), commit.Offset)

	commit, ok = tr.settle(msgAt(0, 1))
	require.True(t, ok)
	assert.Equal(t, int64(1), commit.Offset)
	assert.Equal(t, 1, tr.outstanding())
}

func TestOffsetTracker_UnknownPartition(t *testing.T) {
	t.Parallel()

	_, ok := newOffsetTracker().settle(msgAt(3, 0))
	assert.False(t, ok)
}

package kafkaoffset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDrainCommits_OutOfOrderProcessing(t *testing.T) {
	tr := New()
	tp := TopicPartition{Topic: "ALS", Partition: 0}

	tr.Add(tp, 1)
	tr.Add(tp, 2)
	tr.Add(tp, 3)

	// Mark 3 before 1 and 2: no contiguous prefix yet.
	tr.MarkProcessed(tp, 3)
	commits := tr.DrainCommits()
	assert.Empty(t, commits)

	tr.MarkProcessed(tp, 1)
	commits = tr.DrainCommits()
	assert.Equal(t, int64(1), commits[tp])

	tr.MarkProcessed(tp, 2)
	commits = tr.DrainCommits()
	assert.Equal(t, int64(3), commits[tp])
}

func TestDrainCommits_Monotonic(t *testing.T) {
	tr := New()
	tp := TopicPartition{Topic: "ALS", Partition: 0}

	var lastWatermark int64 = -1
	for i := int64(0); i < 10; i++ {
		tr.Add(tp, i)
		tr.MarkProcessed(tp, i)
		commits := tr.DrainCommits()
		if wm, ok := commits[tp]; ok {
			assert.GreaterOrEqual(t, wm, lastWatermark)
			lastWatermark = wm
		}
	}
}

func TestAdd_Idempotent(t *testing.T) {
	tr := New()
	tp := TopicPartition{Topic: "ALS", Partition: 0}

	tr.Add(tp, 5)
	tr.MarkProcessed(tp, 5)
	tr.Add(tp, 5) // should not reset processed state

	commits := tr.DrainCommits()
	assert.Equal(t, int64(5), commits[tp])
}

func TestMarkTopicProcessed(t *testing.T) {
	tr := New()
	tp0 := TopicPartition{Topic: "logs", Partition: 0}
	tp1 := TopicPartition{Topic: "logs", Partition: 1}

	tr.Add(tp0, 1)
	tr.Add(tp1, 7)
	tr.MarkTopicProcessed("logs")

	commits := tr.DrainCommits()
	assert.Equal(t, int64(1), commits[tp0])
	assert.Equal(t, int64(7), commits[tp1])
}

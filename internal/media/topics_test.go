package media

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

func segmentsOf(n int) []Segment {
	segs := make([]Segment, n)
	for i := range segs {
		segs[i] = Segment{Start: float64(i * 10), End: float64(i*10 + 10), Text: fmt.Sprintf("Segment %d", i+1)}
	}
	return segs
}

func TestGroupTopics(t *testing.T) {
	topics := GroupTopics(segmentsOf(6), 5)

	require.Len(t, topics, 2)
	assert.Equal(t, domain.TimestampSegment{
		Start: 0, End: 50,
		Text: "Segment 1 Segment 2 Segment 3 Segment 4 Segment 5",
	}, topics[0])
	assert.Equal(t, domain.TimestampSegment{Start: 50, End: 60, Text: "Segment 6"}, topics[1])
}

func TestGroupTopics_ExactWindows(t *testing.T) {
	topics := GroupTopics(segmentsOf(10), 5)
	require.Len(t, topics, 2)
	assert.Equal(t, 50.0, topics[1].Start)
	assert.Equal(t, 100.0, topics[1].End)
}

func TestGroupTopics_Empty(t *testing.T) {
	topics := GroupTopics(nil, 5)
	assert.NotNil(t, topics)
	assert.Empty(t, topics)
}

func TestGroupTopics_TrailingEmptyDropped(t *testing.T) {
	segs := segmentsOf(5)
	segs = append(segs, Segment{Start: 50, End: 51, Text: ""})

	topics := GroupTopics(segs, 5)
	assert.Len(t, topics, 1)
}

func TestGroupTopics_DefaultWindow(t *testing.T) {
	assert.Len(t, GroupTopics(segmentsOf(11), 0), 3)
}

package media

import "docqa/internal/domain"

const DefaultTopicWindow = 5

// GroupTopics merges consecutive transcript segments into windows of the
// given size. A window spans from its first segment's start to its last
// segment's end; the trailing window is kept only if it has text.
func GroupTopics(segments []Segment, window int) []domain.TimestampSegment {
	topics := []domain.TimestampSegment{}
	if len(segments) == 0 {
		return topics
	}
	if window <= 0 {
		window = DefaultTopicWindow
	}

	current := domain.TimestampSegment{Start: segments[0].Start, End: segments[0].End, Text: segments[0].Text}
	for i := 1; i < len(segments); i++ {
		seg := segments[i]
		if i%window == 0 {
			topics = append(topics, current)
			current = domain.TimestampSegment{Start: seg.Start, End: seg.End, Text: seg.Text}
			continue
		}
		current.End = seg.End
		current.Text += " " + seg.Text
	}
	if current.Text != "" {
		topics = append(topics, current)
	}
	return topics
}

package notify

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedKeepsRecentEntries(t *testing.T) {
	t.Parallel()

	feed := NewFeed(3)
	for i := 0; i < 5; i++ {
		feed.Notify(fmt.Sprintf("event %d", i), SeverityInfo)
	}

	recent := feed.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, "event 2", recent[0].Message)
	assert.Equal(t, "event 4", recent[2].Message)
	for _, n := range recent {
		assert.False(t, n.At.IsZero())
	}
}

func TestFeedDefaultLimit(t *testing.T) {
	t.Parallel()

	feed := NewFeed(0)
	feed.Notify("hello", SeverityWarning)

	recent := feed.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, SeverityWarning, recent[0].Severity)
}

func TestMultiFansOut(t *testing.T) {
	t.Parallel()

	first := NewFeed(10)
	second := NewFeed(10)
	sink := Multi{first, second}

	sink.Notify("vllm stopped", SeverityError)

	require.Len(t, first.Recent(), 1)
	require.Len(t, second.Recent(), 1)
	assert.Equal(t, "vllm stopped", second.Recent()[0].Message)
}

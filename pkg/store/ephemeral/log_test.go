package ephemeral

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatevents/pkg/models"
)

func ev(i models.EventIndex) models.Event {
	return models.Event{Index: i, Timestamp: models.TimestampMillis(i), Payload: models.MemberJoined{UserID: "u"}}
}

func TestAppendIsContiguous(t *testing.T) {
	l := New(5)
	assert.True(t, l.Empty())
	assert.Equal(t, models.EventIndex(5), l.Next())
	require.False(t, l.Append(ev(4)))
	require.True(t, l.Append(ev(5)))
	require.False(t, l.Append(ev(7)))
	require.True(t, l.Append(ev(6)))
	assert.Equal(t, 2, l.Len())
	assert.True(t, l.Contains(6))
	assert.False(t, l.Contains(7))
}

func TestPopOldest(t *testing.T) {
	l := New(0)
	for i := models.EventIndex(0); i < 10; i++ {
		require.True(t, l.Append(ev(i)))
	}
	head := l.Oldest(3)
	require.Len(t, head, 3)
	assert.Equal(t, models.EventIndex(0), head[0].Index)

	l.PopOldest(3)
	assert.Equal(t, models.EventIndex(3), l.First())
	assert.Equal(t, 7, l.Len())
	_, ok := l.Get(2)
	assert.False(t, ok)
	e, ok := l.Get(3)
	require.True(t, ok)
	assert.Equal(t, models.EventIndex(3), e.Index)

	l.PopOldest(100)
	assert.True(t, l.Empty())
	assert.Equal(t, models.EventIndex(10), l.First())
	assert.Equal(t, models.EventIndex(10), l.Next())
	assert.Empty(t, l.Oldest(5))
}

func TestGetMutatesInPlace(t *testing.T) {
	l := New(0)
	require.True(t, l.Append(ev(0)))
	e, _ := l.Get(0)
	e.CorrelationID = 9
	again, _ := l.Get(0)
	assert.Equal(t, uint64(9), again.CorrelationID)
}

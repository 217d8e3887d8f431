package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat/internal/chat"
)

func TestStore_AppendAndQuery(t *testing.T) {
	ctx := context.Background()
	s := New()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, content := range []string{"one", "two", "three"} {
		require.NoError(t, s.Append(ctx, chat.Message{
			ID:        content,
			Room:      chat.Lounge,
			Content:   content,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.Append(ctx, chat.Message{ID: "other", Room: "general", CreatedAt: base}))

	all, err := s.QueryRoom(ctx, chat.Lounge, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "one", all[0].Content)
	assert.Equal(t, "three", all[2].Content)

	since := base
	later, err := s.QueryRoom(ctx, chat.Lounge, &since)
	require.NoError(t, err)
	require.Len(t, later, 2)
	assert.Equal(t, "two", later[0].Content)

	empty, err := s.QueryRoom(ctx, "nobody-here", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_OrdersByCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := New()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	appends := []struct {
		id string
		at time.Duration
	}{
		{"b", 2 * time.Millisecond},
		{"a", time.Millisecond},
		{"c", 3 * time.Millisecond},
		{"b2", 2 * time.Millisecond},
	}
	for _, m := range appends {
		require.NoError(t, s.Append(ctx, chat.Message{ID: m.id, Room: chat.Lounge, CreatedAt: base.Add(m.at)}))
	}

	got, err := s.QueryRoom(ctx, chat.Lounge, nil)
	require.NoError(t, err)

	ids := make([]string, 0, len(got))
	for _, msg := range got {
		ids = append(ids, msg.ID)
	}
	assert.Equal(t, []string{"a", "b", "b2", "c"}, ids, "equal timestamps keep append order")
}

func TestStore_QueryReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Append(ctx, chat.Message{ID: "1", Room: chat.Lounge, Content: "hi"}))

	got, err := s.QueryRoom(ctx, chat.Lounge, nil)
	require.NoError(t, err)
	got[0].Content = "changed"

	again, err := s.QueryRoom(ctx, chat.Lounge, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", again[0].Content)
}

func TestStore_Closed(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())
	assert.Error(t, s.Append(context.Background(), chat.Message{Room: chat.Lounge}))
}

func TestStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New()
	assert.ErrorIs(t, s.Append(ctx, chat.Message{Room: chat.Lounge}), context.Canceled)
	_, err := s.QueryRoom(ctx, chat.Lounge, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

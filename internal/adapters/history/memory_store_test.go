package history

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryStoreUnknownSender(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	defer store.Close()

	history, err := store.GetHistory(context.Background(), "nobody@example.net")
	require.NoError(t, err)
	assert.Nil(t, history)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	defer store.Close()

	ctx := context.Background()
	first := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	second := first.Add(24 * time.Hour)

	require.NoError(t, store.Record(ctx, "Alice@Example.net", "Alice", "", first))
	require.NoError(t, store.Record(ctx, "alice@example.net", "Alice J", "alice.j@example.net", second))

	history, err := store.GetHistory(ctx, "ALICE@example.net")
	require.NoError(t, err)
	require.NotNil(t, history)

	assert.Equal(t, 2, history.MessageCount)
	assert.Equal(t, first, history.FirstSeen)
	assert.Equal(t, second, history.LastSeen)
	assert.ElementsMatch(t, []string{"Alice", "Alice J"}, history.DisplayNames)
	assert.Equal(t, []string{"alice.j@example.net"}, history.ReplyTos)
}

func TestMemoryStoreFirstSeenNeverMovesForward(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	defer store.Close()

	ctx := context.Background()
	later := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	earlier := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Record(ctx, "a@b.example", "", "", later))
	require.NoError(t, store.Record(ctx, "a@b.example", "", "", earlier))

	history, err := store.GetHistory(ctx, "a@b.example")
	require.NoError(t, err)
	assert.Equal(t, earlier, history.FirstSeen)
	assert.Equal(t, later, history.LastSeen)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Record(ctx, "a@b.example", "Name", "", time.Now()))

	history, err := store.GetHistory(ctx, "a@b.example")
	require.NoError(t, err)
	history.DisplayNames[0] = "mutated"
	history.MessageCount = 99

	fresh, err := store.GetHistory(ctx, "a@b.example")
	require.NoError(t, err)
	assert.Equal(t, []string{"Name"}, fresh.DisplayNames)
	assert.Equal(t, 1, fresh.MessageCount)
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	defer store.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Record(ctx, "burst@example.net", "Sender", "", time.Now())
			_, _ = store.GetHistory(ctx, "burst@example.net")
		}()
	}
	wg.Wait()

	history, err := store.GetHistory(ctx, "burst@example.net")
	require.NoError(t, err)
	assert.Equal(t, 50, history.MessageCount)
}

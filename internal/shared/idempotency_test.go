package shared

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryRecords struct {
	records map[string]IdempotencyRecord
}

func newMemoryRecords() *memoryRecords {
	return &memoryRecords{records: make(map[string]IdempotencyRecord)}
}

func (m *memoryRecords) key(orgID int64, key string) string {
	return fmt.Sprintf("%d:%s", orgID, key)
}

func (m *memoryRecords) Get(ctx context.Context, orgID int64, key string) (IdempotencyRecord, error) {
	rec, ok := m.records[m.key(orgID, key)]
	if !ok {
		return IdempotencyRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *memoryRecords) Insert(ctx context.Context, rec IdempotencyRecord) error {
	k := m.key(rec.OrgID, rec.Key)
	if _, ok := m.records[k]; ok {
		return ErrConflict
	}
	m.records[k] = rec
	return nil
}

type payload struct {
	Amount string `json:"amount"`
}

func TestGuardReplaysStoredResponse(t *testing.T) {
	guard := NewIdempotencyGuard(newMemoryRecords())
	ctx := context.Background()
	calls := 0
	op := func(context.Context) (GuardedResponse, error) {
		calls++
		return GuardedResponse{StatusCode: 201, Body: []byte(`{"id":1}`)}, nil
	}

	first, err := guard.Do(ctx, 1, "post", "key-1", 9, payload{Amount: "10"}, op)
	require.NoError(t, err)
	require.False(t, first.Replayed)

	second, err := guard.Do(ctx, 1, "post", "key-1", 9, payload{Amount: "10"}, op)
	require.NoError(t, err)
	require.True(t, second.Replayed)
	require.Equal(t, first.Body, second.Body)
	require.Equal(t, first.StatusCode, second.StatusCode)
	require.Equal(t, 1, calls)
}

func TestGuardRejectsHashMismatch(t *testing.T) {
	guard := NewIdempotencyGuard(newMemoryRecords())
	ctx := context.Background()
	op := func(context.Context) (GuardedResponse, error) {
		return GuardedResponse{StatusCode: 201, Body: []byte(`{}`)}, nil
	}

	_, err := guard.Do(ctx, 1, "post", "key-1", 9, payload{Amount: "10"}, op)
	require.NoError(t, err)

	_, err = guard.Do(ctx, 1, "post", "key-1", 9, payload{Amount: "99"}, op)
	require.ErrorIs(t, err, ErrIdempotencyConflict)
	require.ErrorIs(t, err, ErrConflict)
}

func TestGuardFailedAttemptIsRetryable(t *testing.T) {
	guard := NewIdempotencyGuard(newMemoryRecords())
	ctx := context.Background()
	calls := 0
	op := func(context.Context) (GuardedResponse, error) {
		calls++
		if calls == 1 {
			return GuardedResponse{}, errors.New("storage down")
		}
		return GuardedResponse{StatusCode: 201, Body: []byte(`{}`)}, nil
	}

	_, err := guard.Do(ctx, 1, "post", "key-1", 9, payload{}, op)
	require.Error(t, err)

	// Nothing was persisted, so the same key retries cleanly.
	resp, err := guard.Do(ctx, 1, "post", "key-1", 9, payload{}, op)
	require.NoError(t, err)
	require.False(t, resp.Replayed)
	require.Equal(t, 2, calls)
}

func TestGuardMarksConcurrentJoinersReplayed(t *testing.T) {
	guard := NewIdempotencyGuard(newMemoryRecords())
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	op := func(context.Context) (GuardedResponse, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return GuardedResponse{StatusCode: 201, Body: []byte(`{"id":1}`)}, nil
	}

	var first, second GuardedResponse
	var firstErr, secondErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		first, firstErr = guard.Do(ctx, 1, "post", "key-1", 9, payload{}, op)
	}()
	<-entered
	go func() {
		defer wg.Done()
		second, secondErr = guard.Do(ctx, 1, "post", "key-1", 9, payload{}, op)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, firstErr)
	require.NoError(t, secondErr)
	require.Equal(t, int32(1), calls.Load())
	require.False(t, first.Replayed)

	// The joiner never executed op; its response must read as a replay so
	// callers take their decode path instead of trusting local state.
	require.True(t, second.Replayed)
	require.Equal(t, first.Body, second.Body)
	require.Equal(t, first.StatusCode, second.StatusCode)
}

func TestGuardEmptyKeyBypasses(t *testing.T) {
	guard := NewIdempotencyGuard(newMemoryRecords())
	ctx := context.Background()
	calls := 0
	op := func(context.Context) (GuardedResponse, error) {
		calls++
		return GuardedResponse{StatusCode: 200}, nil
	}

	for i := 0; i < 3; i++ {
		_, err := guard.Do(ctx, 1, "post", "", 9, payload{}, op)
		require.NoError(t, err)
	}
	require.Equal(t, 3, calls)
}

func TestGuardScopesKeysByOrg(t *testing.T) {
	guard := NewIdempotencyGuard(newMemoryRecords())
	ctx := context.Background()
	calls := 0
	op := func(context.Context) (GuardedResponse, error) {
		calls++
		return GuardedResponse{StatusCode: 201}, nil
	}

	_, err := guard.Do(ctx, 1, "post", "key-1", 9, payload{}, op)
	require.NoError(t, err)
	_, err = guard.Do(ctx, 2, "post", "key-1", 9, payload{}, op)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestRequestHashIsStable(t *testing.T) {
	a, err := RequestHash("post", 9, payload{Amount: "10"})
	require.NoError(t, err)
	b, err := RequestHash("post", 9, payload{Amount: "10"})
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := RequestHash("void", 9, payload{Amount: "10"})
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddDispatchesImmediately(t *testing.T) {
	q := NewSimpleQueue(nil)
	defer q.Close()

	done := make(chan any, 1)
	q.Process("work", func(ctx context.Context, job *Job) (any, error) {
		return job.Data, nil
	})
	q.OnCompleted(func(job *Job, result any) {
		done <- result
	})

	_, err := q.Add("work", "payload")
	require.NoError(t, err)

	select {
	case got := <-done:
		assert.Equal(t, "payload", got)
	case <-time.After(2 * time.Second):
		t.Fatal("job never completed")
	}
}

func TestAddUnknownName(t *testing.T) {
	q := NewSimpleQueue(nil)
	defer q.Close()

	_, err := q.Add("nope", nil)
	require.ErrorIs(t, err, ErrNoProcessor)
}

func TestFailedHandlerEmitsFailedOnly(t *testing.T) {
	q := NewSimpleQueue(nil)
	defer q.Close()

	boom := errors.New("boom")
	q.Process("work", func(ctx context.Context, job *Job) (any, error) {
		return nil, boom
	})

	var mu sync.Mutex
	var completed, failed int
	q.OnCompleted(func(*Job, any) {
		mu.Lock()
		completed++
		mu.Unlock()
	})
	q.OnFailed(func(job *Job, err error) {
		mu.Lock()
		failed++
		mu.Unlock()
		assert.ErrorIs(t, err, boom)
	})

	_, err := q.Add("work", nil)
	require.NoError(t, err)
	q.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, completed)
	assert.Equal(t, 1, failed)
}

func TestJobsFilterByState(t *testing.T) {
	q := NewSimpleQueue(nil)
	defer q.Close()

	q.Process("ok", func(ctx context.Context, job *Job) (any, error) { return nil, nil })
	q.Process("bad", func(ctx context.Context, job *Job) (any, error) { return nil, errors.New("x") })

	_, err := q.Add("ok", nil)
	require.NoError(t, err)
	_, err = q.Add("bad", nil)
	require.NoError(t, err)
	q.Wait()

	assert.Len(t, q.Jobs(), 2)
	assert.Len(t, q.Jobs(StateCompleted), 1)
	assert.Len(t, q.Jobs(StateFailed), 1)
	assert.Len(t, q.Jobs(StateQueued), 0)
}

func TestCloseClearsEverything(t *testing.T) {
	q := NewSimpleQueue(nil)
	q.Process("work", func(ctx context.Context, job *Job) (any, error) { return nil, nil })

	_, err := q.Add("work", nil)
	require.NoError(t, err)

	q.Close()

	assert.Empty(t, q.Jobs())
	_, err = q.Add("work", nil)
	require.ErrorIs(t, err, ErrQueueClosed)
}

package queue

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueRunsInOrder(t *testing.T) {
	q := NewQueue(10)
	q.Start(context.Background())

	var mu sync.Mutex
	var got []int
	for i := range 5 {
		ok := q.Enqueue(Job{Run: func(context.Context) error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		}})
		assert.True(t, ok)
	}
	q.Stop()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestQueueOnFail(t *testing.T) {
	q := NewQueue(1)
	q.Start(context.Background())

	boom := errors.New("boom")
	var failed error
	q.Enqueue(Job{
		Run:    func(context.Context) error { return boom },
		OnFail: func(err error) { failed = err },
	})
	q.Stop()

	assert.ErrorIs(t, failed, boom)
}

func TestQueueRejectsWhenFullOrStopped(t *testing.T) {
	q := NewQueue(1)
	assert.True(t, q.Enqueue(Job{Run: func(context.Context) error { return nil }}))
	assert.False(t, q.Enqueue(Job{Run: func(context.Context) error { return nil }}))

	q.Stop()
	assert.False(t, q.Enqueue(Job{Run: func(context.Context) error { return nil }}))
}

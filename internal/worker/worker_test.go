package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoattend/internal/model"
	"geoattend/internal/queue"
)

type recorder struct {
	mu          sync.Mutex
	rebuilt     []string
	invalidated []string
	students    []string
	fail        bool
}

func (r *recorder) Rebuild(_ context.Context, classID string) (model.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rebuilt = append(r.rebuilt, classID)
	if r.fail {
		return model.Report{}, errors.New("store down")
	}
	return model.Report{ClassID: classID}, nil
}

func (r *recorder) Invalidate(_ context.Context, classID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, classID)
	return nil
}

func (r *recorder) InvalidateStudent(_ context.Context, studentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.students = append(r.students, studentID)
	return nil
}

func (r *recorder) snapshot() (rebuilt, invalidated []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.rebuilt...), append([]string(nil), r.invalidated...)
}

func TestHandle(t *testing.T) {
	rec := &recorder{}
	w := New(queue.NewInMemory(1), rec, rec, nil)
	ctx := context.Background()

	w.Handle(ctx, queue.Event{Type: queue.TypeAttendanceMarked, ClassID: "c1"})
	w.Handle(ctx, queue.Event{Type: queue.TypeClassChanged, ClassID: "c2"})
	w.Handle(ctx, queue.Event{Type: "unknown", ClassID: "c3"})
	w.Handle(ctx, queue.Event{Type: queue.TypeAttendanceMarked})

	rebuilt, invalidated := rec.snapshot()
	assert.Equal(t, []string{"c1"}, rebuilt)
	assert.Equal(t, []string{"c2"}, invalidated)
}

func TestHandleStudentChanged(t *testing.T) {
	rec := &recorder{}
	w := New(queue.NewInMemory(1), rec, nil, nil)
	ctx := context.Background()

	w.Handle(ctx, queue.Event{Type: queue.TypeStudentChanged, StudentID: "s1"})
	w.Handle(ctx, queue.Event{Type: queue.TypeStudentChanged})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"s1"}, rec.students)
	assert.Empty(t, rec.rebuilt)
}

func TestHandleWithoutCacheIgnoresClassChanged(t *testing.T) {
	rec := &recorder{}
	w := New(queue.NewInMemory(1), rec, nil, nil)

	w.Handle(context.Background(), queue.Event{Type: queue.TypeClassChanged, ClassID: "c1"})
	rebuilt, invalidated := rec.snapshot()
	assert.Empty(t, rebuilt)
	assert.Empty(t, invalidated)
}

func TestRunConsumesUntilCancelled(t *testing.T) {
	rec := &recorder{fail: true}
	q := queue.NewInMemory(4)
	w := New(q, rec, rec, nil)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, q.Publish(ctx, queue.Event{Type: queue.TypeAttendanceMarked, ClassID: "c1"}))
	require.NoError(t, q.Publish(ctx, queue.Event{Type: queue.TypeAttendanceMarked, ClassID: "c2"}))

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	assert.Eventually(t, func() bool {
		rebuilt, _ := rec.snapshot()
		return len(rebuilt) == 2
	}, 2*time.Second, 10*time.Millisecond, "a failed rebuild does not stop the worker")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

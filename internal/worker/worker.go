// Package worker consumes class events and keeps cached reports warm.
package worker

import (
	"context"

	"go.uber.org/zap"

	"geoattend/internal/model"
	"geoattend/internal/queue"
)

// Reports rebuilds a class report and stores it in the cache, or drops the
// cached reports a student appears in.
type Reports interface {
	Rebuild(ctx context.Context, classID string) (model.Report, error)
	InvalidateStudent(ctx context.Context, studentID string) error
}

// Invalidator drops a cached report.
type Invalidator interface {
	Invalidate(ctx context.Context, classID string) error
}

// Worker reacts to attendance.marked by rebuilding the report, to
// class.changed by dropping it and to student.changed by dropping every
// report the student appears in.
type Worker struct {
	queue   queue.Queue
	reports Reports
	cache   Invalidator
	log     *zap.Logger
}

// New creates a worker. cache may be nil, in which case class.changed
// events are ignored.
func New(q queue.Queue, reports Reports, cache Invalidator, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{queue: q, reports: reports, cache: cache, log: log}
}

// Run processes events until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	events, err := w.queue.Consume(ctx)
	if err != nil {
		return err
	}
	w.log.Info("worker started, waiting for events")
	for evt := range events {
		w.Handle(ctx, evt)
	}
	w.log.Info("worker stopped")
	return nil
}

// Handle processes one event. Failures are logged and dropped.
func (w *Worker) Handle(ctx context.Context, evt queue.Event) {
	log := w.log.With(zap.String("type", evt.Type), zap.String("class_id", evt.ClassID))
	if evt.Type == queue.TypeStudentChanged {
		if evt.StudentID == "" {
			log.Warn("event without student id dropped")
			return
		}
		if err := w.reports.InvalidateStudent(ctx, evt.StudentID); err != nil {
			log.Error("student reports invalidate failed", zap.String("student_id", evt.StudentID), zap.Error(err))
		}
		return
	}
	if evt.ClassID == "" {
		log.Warn("event without class id dropped")
		return
	}
	switch evt.Type {
	case queue.TypeAttendanceMarked:
		rep, err := w.reports.Rebuild(ctx, evt.ClassID)
		if err != nil {
			log.Error("report rebuild failed", zap.Error(err))
			return
		}
		log.Debug("report rebuilt", zap.Int("students", len(rep.Rows)), zap.Int("dates", len(rep.Dates)))
	case queue.TypeClassChanged:
		if w.cache == nil {
			return
		}
		if err := w.cache.Invalidate(ctx, evt.ClassID); err != nil {
			log.Error("report invalidate failed", zap.Error(err))
		}
	default:
		log.Warn("unknown event type")
	}
}

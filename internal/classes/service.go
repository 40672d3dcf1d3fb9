package classes

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"geoattend/internal/apperr"
	"geoattend/internal/attendance"
	"geoattend/internal/metrics"
	"geoattend/internal/model"
	"geoattend/internal/queue"
)

// Store persists classes and the class/student enrollment edge.
type Store interface {
	CreateClass(ctx context.Context, c model.Class) (model.Class, error)
	GetClass(ctx context.Context, id string) (model.Class, error)
	// ListClasses returns classes newest first, only those created by
	// createdBy when it is non-empty.
	ListClasses(ctx context.Context, createdBy string) ([]model.Class, error)
	ReplaceClass(ctx context.Context, c model.Class) (model.Class, error)
	DeleteClass(ctx context.Context, id string) error
	// Enroll adds the edge and reports whether it was new.
	Enroll(ctx context.Context, classID, userID string, at time.Time) (bool, error)
	ListEnrolled(ctx context.Context, userID string) ([]model.Class, error)
}

// Input is the writable part of a class.
type Input struct {
	Name          string
	Code          string
	Location      *model.GeoPoint
	AllowedRadius float64
	Schedule      model.Schedule
}

func (in Input) validate() error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return apperr.Invalid("name", "is required")
	case strings.TrimSpace(in.Code) == "":
		return apperr.Invalid("code", "is required")
	case in.Location == nil:
		return apperr.Invalid("location", "is required")
	case in.Location.Latitude < -90 || in.Location.Latitude > 90:
		return apperr.Invalid("location.latitude", "must be between -90 and 90")
	case in.Location.Longitude < -180 || in.Location.Longitude > 180:
		return apperr.Invalid("location.longitude", "must be between -180 and 180")
	case in.AllowedRadius < 0:
		return apperr.Invalid("allowedRadius", "must not be negative")
	case !attendance.ValidWeekday(in.Schedule.DayOfWeek):
		return apperr.Invalid("schedule.dayOfWeek", "must be a weekday name such as Monday")
	case strings.TrimSpace(in.Schedule.Room) == "":
		return apperr.Invalid("schedule.room", "is required")
	}
	sh, sm, err := attendance.ParseClock(in.Schedule.StartTime)
	if err != nil {
		return apperr.Invalid("schedule.startTime", err.Error())
	}
	eh, em, err := attendance.ParseClock(in.Schedule.EndTime)
	if err != nil {
		return apperr.Invalid("schedule.endTime", err.Error())
	}
	if eh*60+em <= sh*60+sm {
		return apperr.Invalid("schedule.endTime", "must be after startTime")
	}
	return nil
}

func (in Input) apply(c *model.Class) {
	c.Name = strings.TrimSpace(in.Name)
	c.Code = strings.TrimSpace(in.Code)
	loc := *in.Location
	c.Location = &loc
	c.AllowedRadius = in.AllowedRadius
	if c.AllowedRadius == 0 {
		c.AllowedRadius = model.DefaultAllowedRadius
	}
	c.Schedule = model.Schedule{
		DayOfWeek: in.Schedule.DayOfWeek,
		StartTime: strings.TrimSpace(in.Schedule.StartTime),
		EndTime:   strings.TrimSpace(in.Schedule.EndTime),
		Room:      strings.TrimSpace(in.Schedule.Room),
	}
}

// Service manages classes and enrollment.
type Service struct {
	store   Store
	events  queue.Queue
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewService creates a service. events and m may be nil.
func NewService(store Store, events queue.Queue, m *metrics.Metrics, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, events: events, metrics: m, log: log}
}

// Create stores a new class owned by creatorID.
func (s *Service) Create(ctx context.Context, creatorID string, in Input, now time.Time) (model.Class, error) {
	if err := in.validate(); err != nil {
		return model.Class{}, err
	}
	c := model.Class{CreatedBy: creatorID, CreatedAt: now.UTC(), UpdatedAt: now.UTC()}
	in.apply(&c)
	created, err := s.store.CreateClass(ctx, c)
	if err != nil {
		return model.Class{}, storeErr("create class", err)
	}
	s.log.Info("class created", zap.String("class_id", created.ID), zap.String("code", created.Code))
	return created, nil
}

// Get returns a class by id.
func (s *Service) Get(ctx context.Context, id string) (model.Class, error) {
	c, err := s.store.GetClass(ctx, id)
	if err != nil {
		return model.Class{}, storeErr("get class", err)
	}
	return c, nil
}

// List returns all classes, or only those created by createdBy, newest first.
func (s *Service) List(ctx context.Context, createdBy string) ([]model.Class, error) {
	list, err := s.store.ListClasses(ctx, createdBy)
	if err != nil {
		return nil, apperr.Store("list classes", err)
	}
	return list, nil
}

// Update replaces a class's writable fields. Only its creator may do so.
func (s *Service) Update(ctx context.Context, actorID, id string, in Input, now time.Time) (model.Class, error) {
	c, err := s.owned(ctx, actorID, id)
	if err != nil {
		return model.Class{}, err
	}
	if err := in.validate(); err != nil {
		return model.Class{}, err
	}
	in.apply(&c)
	c.UpdatedAt = now.UTC()
	updated, err := s.store.ReplaceClass(ctx, c)
	if err != nil {
		return model.Class{}, storeErr("replace class", err)
	}
	s.changed(ctx, id, now)
	return updated, nil
}

// Delete removes a class with its attendance and enrollments.
func (s *Service) Delete(ctx context.Context, actorID, id string, now time.Time) error {
	if _, err := s.owned(ctx, actorID, id); err != nil {
		return err
	}
	if err := s.store.DeleteClass(ctx, id); err != nil {
		return storeErr("delete class", err)
	}
	s.log.Info("class deleted", zap.String("class_id", id))
	s.changed(ctx, id, now)
	return nil
}

// Enroll adds studentID to the class. A repeat enrollment is a no-op and
// returns false.
func (s *Service) Enroll(ctx context.Context, studentID, classID string, now time.Time) (bool, error) {
	if strings.TrimSpace(classID) == "" {
		return false, apperr.Invalid("classId", "is required")
	}
	if _, err := s.Get(ctx, classID); err != nil {
		return false, err
	}
	added, err := s.store.Enroll(ctx, classID, studentID, now.UTC())
	if err != nil {
		s.metrics.Enrollment("error")
		return false, storeErr("enroll", err)
	}
	if added {
		s.metrics.Enrollment("enrolled")
		s.log.Info("student enrolled", zap.String("class_id", classID), zap.String("student_id", studentID))
	} else {
		s.metrics.Enrollment("already")
	}
	return added, nil
}

// Enrolled lists the classes a student is enrolled in.
func (s *Service) Enrolled(ctx context.Context, studentID string) ([]model.Class, error) {
	list, err := s.store.ListEnrolled(ctx, studentID)
	if err != nil {
		return nil, apperr.Store("list enrolled", err)
	}
	return list, nil
}

// CheckOwner fails with apperr.ErrNotFound for a missing class and with
// apperr.ErrForbidden when actorID did not create it.
func (s *Service) CheckOwner(ctx context.Context, actorID, id string) error {
	_, err := s.owned(ctx, actorID, id)
	return err
}

func (s *Service) owned(ctx context.Context, actorID, id string) (model.Class, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return model.Class{}, err
	}
	if c.CreatedBy != actorID {
		return model.Class{}, apperr.ErrForbidden
	}
	return c, nil
}

// changed tells report consumers the class's derived data is stale.
func (s *Service) changed(ctx context.Context, id string, now time.Time) {
	if s.events == nil {
		return
	}
	evt := queue.Event{Type: queue.TypeClassChanged, ClassID: id, At: now.UTC()}
	if err := s.events.Publish(ctx, evt); err != nil {
		s.log.Warn("event publish failed", zap.String("class_id", id), zap.Error(err))
	}
}

// storeErr keeps not-found and conflict errors as they are and marks
// everything else as a store failure.
func storeErr(op string, err error) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.NotFound("Class")
	}
	if errors.Is(err, apperr.ErrConflict) {
		return err
	}
	return apperr.Store(op, err)
}

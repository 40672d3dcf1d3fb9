package attendance

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"geoattend/internal/apperr"
	"geoattend/internal/metrics"
	"geoattend/internal/model"
	"geoattend/internal/queue"
)

// Store persists attendance records. Insert must enforce at most one record
// per (class, student, MarkedOn) and return an error matching
// apperr.ErrConflict when that constraint rejects the row.
type Store interface {
	FindForDay(ctx context.Context, classID, studentID string, day time.Time) (*model.AttendanceRecord, error)
	Insert(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error)
	ListByClass(ctx context.Context, classID string) ([]model.AttendanceRecord, error)
	ClassIDsByStudent(ctx context.Context, studentID string) ([]string, error)
}

// ClassFinder loads a class by id, failing with apperr.ErrNotFound.
type ClassFinder interface {
	GetClass(ctx context.Context, id string) (model.Class, error)
}

// UserFinder loads a user by id, failing with apperr.ErrNotFound.
type UserFinder interface {
	GetUser(ctx context.Context, id string) (model.User, error)
}

// ReportCache stores built reports. Get reports a miss with ok == false.
// Every Invalidate bumps the class's version; Set stores a report only while
// the version still equals the one read before the report was built.
type ReportCache interface {
	Get(ctx context.Context, classID string) (report model.Report, ok bool, err error)
	Version(ctx context.Context, classID string) (int64, error)
	Set(ctx context.Context, report model.Report, version int64) (stored bool, err error)
	Invalidate(ctx context.Context, classID string) error
}

// MarkRequest is a student's claim to be present.
type MarkRequest struct {
	StudentID  string
	ClassID    string
	Latitude   float64
	Longitude  float64
	DeviceInfo string
}

func (r MarkRequest) validate() error {
	if strings.TrimSpace(r.ClassID) == "" {
		return apperr.Invalid("classId", "is required")
	}
	if strings.TrimSpace(r.DeviceInfo) == "" {
		return apperr.Invalid("deviceInfo", "is required")
	}
	if !finite(r.Latitude) || r.Latitude < -90 || r.Latitude > 90 {
		return apperr.Invalid("userLat", "must be a latitude between -90 and 90")
	}
	if !finite(r.Longitude) || r.Longitude < -180 || r.Longitude > 180 {
		return apperr.Invalid("userLon", "must be a longitude between -180 and 180")
	}
	return nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// Option configures a Service.
type Option func(*Service)

// WithReportCache caches reports and invalidates them on every new mark.
func WithReportCache(c ReportCache) Option { return func(s *Service) { s.cache = c } }

// WithEvents publishes an attendance.marked event after every new mark.
func WithEvents(q queue.Queue) Option { return func(s *Service) { s.events = q } }

// WithMetrics records outcomes in m.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// Service evaluates attendance marks and aggregates class reports.
type Service struct {
	store   Store
	classes ClassFinder
	users   UserFinder
	loc     *time.Location
	log     *zap.Logger

	cache   ReportCache
	events  queue.Queue
	metrics *metrics.Metrics
}

// NewService creates a service. loc is the deployment's calendar; nil means time.Local.
func NewService(store Store, classes ClassFinder, users UserFinder, loc *time.Location, log *zap.Logger, opts ...Option) *Service {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{store: store, classes: classes, users: users, loc: loc, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location returns the calendar the service evaluates days in.
func (s *Service) Location() *time.Location { return s.loc }

// Mark applies the eligibility gates at instant now and records the mark.
// Rejections are returned as *Rejection; nothing is written on any error.
func (s *Service) Mark(ctx context.Context, req MarkRequest, now time.Time) (model.AttendanceRecord, error) {
	rec, err := s.mark(ctx, req, now)
	switch r, ok := AsRejection(err); {
	case err == nil:
		s.metrics.Mark("success")
		s.log.Info("attendance marked",
			zap.String("class_id", rec.ClassID),
			zap.String("student_id", rec.StudentID),
			zap.String("record_id", rec.ID))
	case ok:
		s.metrics.Mark(string(r.Reason))
		s.log.Info("attendance rejected",
			zap.String("class_id", req.ClassID),
			zap.String("student_id", req.StudentID),
			zap.String("reason", string(r.Reason)))
	case errors.Is(err, apperr.ErrNotFound):
		s.metrics.Mark("not_found")
	case apperr.IsStore(err):
		s.metrics.Mark("error")
		s.log.Error("attendance store failure",
			zap.String("class_id", req.ClassID),
			zap.String("student_id", req.StudentID),
			zap.Error(err))
	default:
		s.metrics.Mark("invalid")
	}
	return rec, err
}

func (s *Service) mark(ctx context.Context, req MarkRequest, now time.Time) (model.AttendanceRecord, error) {
	if err := req.validate(); err != nil {
		return model.AttendanceRecord{}, err
	}
	if _, err := s.users.GetUser(ctx, req.StudentID); err != nil {
		return model.AttendanceRecord{}, notFound(err, "User")
	}
	class, err := s.classes.GetClass(ctx, req.ClassID)
	if err != nil {
		return model.AttendanceRecord{}, notFound(err, "Class")
	}

	rej, err := Evaluate(class, req.Latitude, req.Longitude, now, s.loc)
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	if rej != nil {
		return model.AttendanceRecord{}, rej
	}

	day := model.Day(now, s.loc)
	existing, err := s.store.FindForDay(ctx, class.ID, req.StudentID, day)
	if err != nil {
		return model.AttendanceRecord{}, apperr.Store("find attendance for day", err)
	}
	if existing != nil {
		return model.AttendanceRecord{}, alreadyMarked()
	}

	rec, err := s.store.Insert(ctx, model.AttendanceRecord{
		StudentID:  req.StudentID,
		ClassID:    class.ID,
		Location:   model.GeoPoint{Latitude: req.Latitude, Longitude: req.Longitude},
		DeviceInfo: strings.TrimSpace(req.DeviceInfo),
		Status:     model.StatusPresent,
		MarkedOn:   day,
		CreatedAt:  now.UTC(),
	})
	if errors.Is(err, apperr.ErrConflict) {
		// Lost a race against a concurrent mark for the same day.
		return model.AttendanceRecord{}, alreadyMarked()
	}
	if err != nil {
		return model.AttendanceRecord{}, apperr.Store("insert attendance", err)
	}

	s.afterMark(ctx, rec, now)
	return rec, nil
}

// afterMark drops the class's cached report and announces the mark.
// Failures here never undo the mark.
func (s *Service) afterMark(ctx context.Context, rec model.AttendanceRecord, now time.Time) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, rec.ClassID); err != nil {
			s.log.Warn("report cache invalidate failed", zap.String("class_id", rec.ClassID), zap.Error(err))
		}
	}
	if s.events != nil {
		evt := queue.Event{Type: queue.TypeAttendanceMarked, ClassID: rec.ClassID, StudentID: rec.StudentID, At: now.UTC()}
		if err := s.events.Publish(ctx, evt); err != nil {
			s.log.Warn("event publish failed", zap.String("class_id", rec.ClassID), zap.Error(err))
		}
	}
}

// Status returns today's record for the student in the class, or nil.
func (s *Service) Status(ctx context.Context, studentID, classID string, now time.Time) (*model.AttendanceRecord, error) {
	if strings.TrimSpace(classID) == "" {
		return nil, apperr.Invalid("classId", "is required")
	}
	if _, err := s.users.GetUser(ctx, studentID); err != nil {
		return nil, notFound(err, "User")
	}
	if _, err := s.classes.GetClass(ctx, classID); err != nil {
		return nil, notFound(err, "Class")
	}
	rec, err := s.store.FindForDay(ctx, classID, studentID, model.Day(now, s.loc))
	if err != nil {
		return nil, apperr.Store("find attendance for day", err)
	}
	return rec, nil
}

// Report returns the presence matrix for a class, from cache when possible.
func (s *Service) Report(ctx context.Context, classID string) (model.Report, error) {
	if strings.TrimSpace(classID) == "" {
		return model.Report{}, apperr.Invalid("classId", "is required")
	}
	if _, err := s.classes.GetClass(ctx, classID); err != nil {
		return model.Report{}, notFound(err, "Class")
	}

	if s.cache != nil {
		report, ok, err := s.cache.Get(ctx, classID)
		switch {
		case err != nil:
			s.metrics.ReportCache("error")
			s.log.Warn("report cache read failed", zap.String("class_id", classID), zap.Error(err))
		case ok:
			s.metrics.ReportCache("hit")
			return report, nil
		default:
			s.metrics.ReportCache("miss")
		}
	}

	report, err := s.Rebuild(ctx, classID)
	if err != nil {
		return model.Report{}, err
	}
	return report, nil
}

// Rebuild aggregates the report from the store and refreshes the cache. A
// report whose class was invalidated while it was being built is returned
// but not cached.
func (s *Service) Rebuild(ctx context.Context, classID string) (model.Report, error) {
	var (
		version   int64
		cacheable bool
	)
	if s.cache != nil {
		v, err := s.cache.Version(ctx, classID)
		if err != nil {
			s.log.Warn("report cache version read failed", zap.String("class_id", classID), zap.Error(err))
		} else {
			version, cacheable = v, true
		}
	}

	start := time.Now()
	records, err := s.store.ListByClass(ctx, classID)
	if err != nil {
		return model.Report{}, apperr.Store("list attendance", err)
	}
	report := BuildReport(classID, records, s.loc)
	s.metrics.ReportBuilt(start)

	if cacheable {
		stored, err := s.cache.Set(ctx, report, version)
		switch {
		case err != nil:
			s.log.Warn("report cache write failed", zap.String("class_id", classID), zap.Error(err))
		case !stored:
			s.log.Debug("report changed while building, not cached", zap.String("class_id", classID))
		}
	}
	return report, nil
}

// InvalidateStudent drops the cached reports of every class the student has
// attendance in. Reports embed the student's name and email.
func (s *Service) InvalidateStudent(ctx context.Context, studentID string) error {
	if s.cache == nil {
		return nil
	}
	classIDs, err := s.store.ClassIDsByStudent(ctx, studentID)
	if err != nil {
		return apperr.Store("list classes of student", err)
	}
	for _, id := range classIDs {
		if err := s.cache.Invalidate(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// BuildReport pivots records into a student × date matrix. Rows keep the
// order in which students first appear in records; dates are distinct and
// ascending. Students without records never appear.
func BuildReport(classID string, records []model.AttendanceRecord, loc *time.Location) model.Report {
	report := model.Report{ClassID: classID, Dates: []string{}, Rows: []model.ReportRow{}}
	if len(records) == 0 {
		return report
	}

	type key struct{ student, date string }
	present := make(map[key]struct{}, len(records))
	days := make(map[time.Time]struct{})
	var order []string
	students := make(map[string]model.ReportRow)

	for _, rec := range records {
		day := rec.MarkedOn
		if day.IsZero() {
			day = model.Day(rec.CreatedAt, loc)
		}
		days[day] = struct{}{}
		present[key{rec.StudentID, day.Format(model.DateLayout)}] = struct{}{}

		if _, seen := students[rec.StudentID]; !seen {
			order = append(order, rec.StudentID)
			students[rec.StudentID] = model.ReportRow{
				StudentID: rec.StudentID,
				Student:   rec.StudentName,
				Email:     rec.StudentEmail,
			}
		}
	}

	sorted := make([]time.Time, 0, len(days))
	for d := range days {
		sorted = append(sorted, d)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	for _, d := range sorted {
		report.Dates = append(report.Dates, d.Format(model.DateLayout))
	}

	for _, id := range order {
		row := students[id]
		row.Days = make(map[string]string, len(report.Dates))
		for _, date := range report.Dates {
			if _, ok := present[key{id, date}]; ok {
				row.Days[date] = "Present"
			} else {
				row.Days[date] = "Absent"
			}
		}
		report.Rows = append(report.Rows, row)
	}
	return report
}

// notFound maps a lookup failure: not-found becomes a named NotFoundError,
// anything else is a store failure.
func notFound(err error, resource string) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.NotFound(resource)
	}
	return apperr.Store("get "+strings.ToLower(resource), err)
}

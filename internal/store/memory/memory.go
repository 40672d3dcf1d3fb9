// Package memory is an in-process store for development and tests. It
// enforces the same uniqueness rules as the Postgres schema.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"geoattend/internal/apperr"
	"geoattend/internal/model"
)

type dayKey struct {
	class, student string
	day            time.Time
}

type edge struct {
	class, user string
}

type enrollment struct {
	edge
	at  time.Time
	seq int
}

type refreshToken struct {
	userID    string
	expiresAt time.Time
	revoked   bool
}

// Store holds every table behind one mutex.
type Store struct {
	mu sync.Mutex

	seq         int
	users       map[string]model.User
	classes     map[string]model.Class
	classSeq    map[string]int
	attendance  []model.AttendanceRecord
	perDay      map[dayKey]int // index into attendance
	enrollments map[edge]enrollment
	tokens      map[string]refreshToken
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:       make(map[string]model.User),
		classes:     make(map[string]model.Class),
		classSeq:    make(map[string]int),
		perDay:      make(map[dayKey]int),
		enrollments: make(map[edge]enrollment),
		tokens:      make(map[string]refreshToken),
	}
}

func (s *Store) next() int {
	s.seq++
	return s.seq
}

// ---------- Users ----------

func (s *Store) CreateUser(_ context.Context, u model.User) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return model.User{}, apperr.Conflict("email", "a user with this email already exists")
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.EnrolledClasses = nil
	s.users[u.ID] = u
	return s.withEnrollments(u), nil
}

func (s *Store) GetUser(_ context.Context, id string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, apperr.NotFound("User")
	}
	return s.withEnrollments(u), nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return s.withEnrollments(u), nil
		}
	}
	return model.User{}, apperr.NotFound("User")
}

func (s *Store) UpdateProfile(_ context.Context, id, name, gender string, at time.Time) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, apperr.NotFound("User")
	}
	u.Name, u.Gender, u.UpdatedAt = name, gender, at
	s.users[id] = u
	return s.withEnrollments(u), nil
}

func (s *Store) withEnrollments(u model.User) model.User {
	var list []enrollment
	for _, e := range s.enrollments {
		if e.user == u.ID {
			list = append(list, e)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	u.EnrolledClasses = make([]string, 0, len(list))
	for _, e := range list {
		u.EnrolledClasses = append(u.EnrolledClasses, e.class)
	}
	return u
}

func (s *Store) SaveRefreshToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = refreshToken{userID: userID, expiresAt: expiresAt}
	return nil
}

func (s *Store) ConsumeRefreshToken(_ context.Context, token string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok || t.revoked || !t.expiresAt.After(now) {
		return "", apperr.ErrUnauthorized
	}
	t.revoked = true
	s.tokens[token] = t
	return t.userID, nil
}

// ---------- Classes ----------

func (s *Store) CreateClass(_ context.Context, c model.Class) (model.Class, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codeTaken(c.Code, "") {
		return model.Class{}, apperr.Conflict("code", "a class with this code already exists")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.EnrolledStudents = nil
	s.classes[c.ID] = c
	s.classSeq[c.ID] = s.next()
	return s.withStudents(c), nil
}

func (s *Store) codeTaken(code, exceptID string) bool {
	for id, c := range s.classes {
		if c.Code == code && id != exceptID {
			return true
		}
	}
	return false
}

func (s *Store) GetClass(_ context.Context, id string) (model.Class, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.classes[id]
	if !ok {
		return model.Class{}, apperr.NotFound("Class")
	}
	return s.withStudents(c), nil
}

func (s *Store) ListClasses(_ context.Context, createdBy string) ([]model.Class, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := []model.Class{}
	for _, c := range s.classes {
		if createdBy == "" || c.CreatedBy == createdBy {
			c.EnrolledStudents = []string{}
			res = append(res, c)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return s.classSeq[res[i].ID] > s.classSeq[res[j].ID]
	})
	return res, nil
}

func (s *Store) ReplaceClass(_ context.Context, c model.Class) (model.Class, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.classes[c.ID]
	if !ok {
		return model.Class{}, apperr.NotFound("Class")
	}
	if s.codeTaken(c.Code, c.ID) {
		return model.Class{}, apperr.Conflict("code", "a class with this code already exists")
	}
	c.CreatedBy, c.CreatedAt = old.CreatedBy, old.CreatedAt
	s.classes[c.ID] = c
	return s.withStudents(c), nil
}

func (s *Store) DeleteClass(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.classes[id]; !ok {
		return apperr.NotFound("Class")
	}
	delete(s.classes, id)
	delete(s.classSeq, id)
	for e := range s.enrollments {
		if e.class == id {
			delete(s.enrollments, e)
		}
	}
	kept := s.attendance[:0]
	for _, rec := range s.attendance {
		if rec.ClassID != id {
			kept = append(kept, rec)
		}
	}
	s.attendance = kept
	s.reindex()
	return nil
}

func (s *Store) withStudents(c model.Class) model.Class {
	var list []enrollment
	for _, e := range s.enrollments {
		if e.class == c.ID {
			list = append(list, e)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	c.EnrolledStudents = make([]string, 0, len(list))
	for _, e := range list {
		c.EnrolledStudents = append(c.EnrolledStudents, e.user)
	}
	return c
}

func (s *Store) Enroll(_ context.Context, classID, userID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.classes[classID]; !ok {
		return false, apperr.NotFound("Class")
	}
	if _, ok := s.users[userID]; !ok {
		return false, apperr.NotFound("User")
	}
	k := edge{class: classID, user: userID}
	if _, ok := s.enrollments[k]; ok {
		return false, nil
	}
	s.enrollments[k] = enrollment{edge: k, at: at, seq: s.next()}
	return true, nil
}

func (s *Store) ListEnrolled(_ context.Context, userID string) ([]model.Class, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []enrollment
	for _, e := range s.enrollments {
		if e.user == userID {
			list = append(list, e)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	res := make([]model.Class, 0, len(list))
	for _, e := range list {
		c := s.classes[e.class]
		c.EnrolledStudents = []string{}
		res = append(res, c)
	}
	return res, nil
}

// ---------- Attendance ----------

func (s *Store) FindForDay(_ context.Context, classID, studentID string, day time.Time) (*model.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.perDay[dayKey{classID, studentID, day}]
	if !ok {
		return nil, nil
	}
	rec := s.attendance[i]
	return &rec, nil
}

// Insert is check-and-insert under the store lock, mirroring the
// attendance_one_per_day unique constraint.
func (s *Store) Insert(_ context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := dayKey{rec.ClassID, rec.StudentID, rec.MarkedOn}
	if _, ok := s.perDay[k]; ok {
		return model.AttendanceRecord{}, apperr.Conflict("attendance", "attendance already recorded for this day")
	}
	if _, ok := s.classes[rec.ClassID]; !ok {
		return model.AttendanceRecord{}, apperr.NotFound("Class")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = model.StatusPresent
	}
	s.attendance = append(s.attendance, rec)
	s.perDay[k] = len(s.attendance) - 1
	return rec, nil
}

func (s *Store) ListByClass(_ context.Context, classID string) ([]model.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.AttendanceRecord
	for _, rec := range s.attendance {
		if rec.ClassID != classID {
			continue
		}
		if u, ok := s.users[rec.StudentID]; ok {
			rec.StudentName, rec.StudentEmail = u.Name, u.Email
		}
		res = append(res, rec)
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

// ClassIDsByStudent returns the distinct classes the student has records in.
func (s *Store) ClassIDsByStudent(_ context.Context, studentID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var ids []string
	for _, rec := range s.attendance {
		if rec.StudentID == studentID && !seen[rec.ClassID] {
			seen[rec.ClassID] = true
			ids = append(ids, rec.ClassID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) reindex() {
	s.perDay = make(map[dayKey]int, len(s.attendance))
	for i, rec := range s.attendance {
		s.perDay[dayKey{rec.ClassID, rec.StudentID, rec.MarkedOn}] = i
	}
}

package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"geoattend/internal/apperr"
	"geoattend/internal/model"
	"geoattend/internal/store"
)

// Repository persists attendance records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const onePerDayConstraint = "attendance_one_per_day"

const recordColumns = `a.id, a.student_id, a.class_id, a.latitude, a.longitude, a.device_info, a.status, a.marked_on, a.created_at`

func scanRecord(row interface{ Scan(...any) error }, extra ...any) (model.AttendanceRecord, error) {
	var rec model.AttendanceRecord
	dest := []any{&rec.ID, &rec.StudentID, &rec.ClassID, &rec.Location.Latitude, &rec.Location.Longitude,
		&rec.DeviceInfo, &rec.Status, &rec.MarkedOn, &rec.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return model.AttendanceRecord{}, err
	}
	rec.MarkedOn = time.Date(rec.MarkedOn.Year(), rec.MarkedOn.Month(), rec.MarkedOn.Day(), 0, 0, 0, 0, time.UTC)
	return rec, nil
}

// FindForDay returns the record for (class, student, day), or nil.
func (r *Repository) FindForDay(ctx context.Context, classID, studentID string, day time.Time) (*model.AttendanceRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance a
		WHERE a.class_id = $1 AND a.student_id = $2 AND a.marked_on = $3
	`, classID, studentID, day)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Insert writes a new record. The unique index on (class_id, student_id,
// marked_on) makes this an atomic conditional insert: when a row for the
// day already exists nothing is written and a conflict is returned.
func (r *Repository) Insert(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = model.StatusPresent
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance (id, student_id, class_id, latitude, longitude, device_info, status, marked_on, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (class_id, student_id, marked_on) DO NOTHING
		RETURNING created_at
	`, rec.ID, rec.StudentID, rec.ClassID, rec.Location.Latitude, rec.Location.Longitude,
		rec.DeviceInfo, rec.Status, rec.MarkedOn, rec.CreatedAt)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.AttendanceRecord{}, apperr.Conflict("attendance", "attendance already recorded for this day")
		}
		if store.IsUniqueViolation(err) && store.ConstraintName(err) == onePerDayConstraint {
			return model.AttendanceRecord{}, apperr.Conflict("attendance", "attendance already recorded for this day")
		}
		return model.AttendanceRecord{}, err
	}
	return rec, nil
}

// ClassIDsByStudent returns the distinct classes the student has records in.
func (r *Repository) ClassIDsByStudent(ctx context.Context, studentID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT class_id FROM attendance WHERE student_id = $1 ORDER BY class_id
	`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListByClass returns every record of a class with the student's name and
// email, oldest first.
func (r *Repository) ListByClass(ctx context.Context, classID string) ([]model.AttendanceRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`, u.name, u.email
		FROM attendance a
		JOIN users u ON u.id = a.student_id
		WHERE a.class_id = $1
		ORDER BY a.created_at ASC, a.id ASC
	`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []model.AttendanceRecord
	for rows.Next() {
		var name, email string
		rec, err := scanRecord(rows, &name, &email)
		if err != nil {
			return nil, err
		}
		rec.StudentName, rec.StudentEmail = name, email
		res = append(res, rec)
	}
	return res, rows.Err()
}

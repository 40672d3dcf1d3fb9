package classes

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

// Repository persists classes and enrollments in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const classColumns = `c.id, c.name, c.code, c.created_by, c.latitude, c.longitude, c.allowed_radius,
	c.day_of_week, c.start_time, c.end_time, c.room, c.created_at, c.updated_at`

func scanClass(row interface{ Scan(...any) error }) (model.Class, error) {
	var (
		c        model.Class
		lat, lon sql.NullFloat64
	)
	err := row.Scan(&c.ID, &c.Name, &c.Code, &c.CreatedBy, &lat, &lon, &c.AllowedRadius,
		&c.Schedule.DayOfWeek, &c.Schedule.StartTime, &c.Schedule.EndTime, &c.Schedule.Room,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return model.Class{}, err
	}
	if lat.Valid && lon.Valid {
		c.Location = &model.GeoPoint{Latitude: lat.Float64, Longitude: lon.Float64}
	}
	c.EnrolledStudents = []string{}
	return c, nil
}

func locationArgs(c model.Class) (lat, lon sql.NullFloat64) {
	if c.Location != nil {
		lat = sql.NullFloat64{Float64: c.Location.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: c.Location.Longitude, Valid: true}
	}
	return lat, lon
}

func codeConflict(err error) error {
	if store.IsUniqueViolation(err) {
		return apperr.Conflict("code", "a class with this code already exists")
	}
	return err
}

// CreateClass inserts a class.
func (r *Repository) CreateClass(ctx context.Context, c model.Class) (model.Class, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	lat, lon := locationArgs(c)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO classes (id, name, code, created_by, latitude, longitude, allowed_radius,
			day_of_week, start_time, end_time, room, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, c.ID, c.Name, c.Code, c.CreatedBy, lat, lon, c.AllowedRadius,
		c.Schedule.DayOfWeek, c.Schedule.StartTime, c.Schedule.EndTime, c.Schedule.Room,
		c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return model.Class{}, codeConflict(err)
	}
	c.EnrolledStudents = []string{}
	return c, nil
}

// GetClass returns a class with its enrolled student ids.
func (r *Repository) GetClass(ctx context.Context, id string) (model.Class, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+classColumns+` FROM classes c WHERE c.id = $1`, id)
	c, err := scanClass(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Class{}, apperr.NotFound("Class")
		}
		return model.Class{}, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id FROM enrollments WHERE class_id = $1 ORDER BY enrolled_at, user_id
	`, id)
	if err != nil {
		return model.Class{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return model.Class{}, err
		}
		c.EnrolledStudents = append(c.EnrolledStudents, uid)
	}
	return c, rows.Err()
}

// ListClasses returns classes newest first. Enrolled ids are not loaded.
func (r *Repository) ListClasses(ctx context.Context, createdBy string) ([]model.Class, error) {
	query := `SELECT ` + classColumns + ` FROM classes c`
	var args []any
	if createdBy != "" {
		query += ` WHERE c.created_by = $1`
		args = append(args, createdBy)
	}
	query += ` ORDER BY c.created_at DESC, c.id`
	return r.queryClasses(ctx, query, args...)
}

// ReplaceClass overwrites every writable column of an existing class.
func (r *Repository) ReplaceClass(ctx context.Context, c model.Class) (model.Class, error) {
	lat, lon := locationArgs(c)
	res, err := r.db.ExecContext(ctx, `
		UPDATE classes SET name = $2, code = $3, latitude = $4, longitude = $5, allowed_radius = $6,
			day_of_week = $7, start_time = $8, end_time = $9, room = $10, updated_at = $11
		WHERE id = $1
	`, c.ID, c.Name, c.Code, lat, lon, c.AllowedRadius,
		c.Schedule.DayOfWeek, c.Schedule.StartTime, c.Schedule.EndTime, c.Schedule.Room, c.UpdatedAt)
	if err != nil {
		return model.Class{}, codeConflict(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Class{}, apperr.NotFound("Class")
	}
	return r.GetClass(ctx, c.ID)
}

// DeleteClass removes a class; attendance and enrollments cascade.
func (r *Repository) DeleteClass(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM classes WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("Class")
	}
	return nil
}

// Enroll inserts the (class, user) edge once.
func (r *Repository) Enroll(ctx context.Context, classID, userID string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO enrollments (class_id, user_id, enrolled_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (class_id, user_id) DO NOTHING
	`, classID, userID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListEnrolled returns the classes a user is enrolled in, in enrollment order.
func (r *Repository) ListEnrolled(ctx context.Context, userID string) ([]model.Class, error) {
	return r.queryClasses(ctx, `
		SELECT `+classColumns+`
		FROM classes c
		JOIN enrollments e ON e.class_id = c.id
		WHERE e.user_id = $1
		ORDER BY e.enrolled_at, c.id
	`, userID)
}

func (r *Repository) queryClasses(ctx context.Context, query string, args ...any) ([]model.Class, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []model.Class{}
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

package users

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

// Repository persists users in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = `id, name, email, gender, role, password_hash, created_at, updated_at`

func scanUser(row *sql.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Gender, &u.Role, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, apperr.NotFound("User")
	}
	return u, err
}

// CreateUser inserts a user; a taken email is a conflict.
func (r *Repository) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, u.ID, u.Name, u.Email, u.Gender, u.Role, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return model.User{}, apperr.Conflict("email", "a user with this email already exists")
		}
		return model.User{}, err
	}
	u.EnrolledClasses = []string{}
	return u, nil
}

// GetUser returns a user with enrolled class ids.
func (r *Repository) GetUser(ctx context.Context, id string) (model.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return model.User{}, err
	}
	return r.withEnrollments(ctx, u)
}

// GetUserByEmail looks a user up by normalized email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		return model.User{}, err
	}
	return r.withEnrollments(ctx, u)
}

func (r *Repository) withEnrollments(ctx context.Context, u model.User) (model.User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT class_id FROM enrollments WHERE user_id = $1 ORDER BY enrolled_at, class_id
	`, u.ID)
	if err != nil {
		return model.User{}, err
	}
	defer rows.Close()
	u.EnrolledClasses = []string{}
	for rows.Next() {
		var cid string
		if err := rows.Scan(&cid); err != nil {
			return model.User{}, err
		}
		u.EnrolledClasses = append(u.EnrolledClasses, cid)
	}
	return u, rows.Err()
}

// UpdateProfile sets name and gender.
func (r *Repository) UpdateProfile(ctx context.Context, id, name, gender string, at time.Time) (model.User, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET name = $2, gender = $3, updated_at = $4 WHERE id = $1
	`, id, name, gender, at)
	if err != nil {
		return model.User{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.User{}, apperr.NotFound("User")
	}
	return r.GetUser(ctx, id)
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	return err
}

// ConsumeRefreshToken revokes a live token in one statement, so a token can
// be redeemed at most once.
func (r *Repository) ConsumeRefreshToken(ctx context.Context, token string, now time.Time) (string, error) {
	var userID string
	err := r.db.QueryRowContext(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE token = $1 AND NOT revoked AND expires_at > $2
		RETURNING user_id
	`, token, now).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.ErrUnauthorized
	}
	return userID, err
}

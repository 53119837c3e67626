package attendees

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/witcon/backend/internal/models"
)

const uniqueViolation = "23505"

// constraintFields maps unique indexes to the attribute they protect.
var constraintFields = map[string]string{
	"attendees_user_id_key":     "user_id",
	"attendees_email_lower_key": "email",
}

const attendeeColumns = `id, user_id, first_name, last_name, email, school, field_of_study, level_of_study,
	linkedin, github, discord, resume_key, photo_key, created_at`

// Querier is the subset of pgxpool.Pool the repository needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository handles attendee persistence.
type Repository struct {
	db Querier
}

// NewRepository creates an attendees repository.
func NewRepository(db Querier) *Repository {
	return &Repository{db: db}
}

// Create inserts an attendee and fills ID and CreatedAt. Uniqueness of user_id and
// email is enforced by the unique indexes, so concurrent duplicates cannot both succeed.
func (r *Repository) Create(ctx context.Context, a *models.Attendee) error {
	const q = `INSERT INTO attendees (user_id, first_name, last_name, email, school, field_of_study, level_of_study,
		linkedin, github, discord, resume_key, photo_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at`
	err := r.db.QueryRow(ctx, q, a.UserID, a.FirstName, a.LastName, a.Email, a.School, a.FieldOfStudy, a.LevelOfStudy,
		a.LinkedIn, a.GitHub, a.Discord, a.ResumeKey, a.PhotoKey).
		Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return mapWriteError("insert attendee", err)
	}
	return nil
}

// List returns attendees ordered by id. A non-empty search keeps rows where it is a
// case-insensitive substring of first_name, last_name, email or school.
func (r *Repository) List(ctx context.Context, search string) ([]models.Attendee, error) {
	q := `SELECT ` + attendeeColumns + ` FROM attendees`
	var args []any
	if search != "" {
		q += ` WHERE first_name ILIKE $1 ESCAPE '\' OR last_name ILIKE $1 ESCAPE '\'
			OR email ILIKE $1 ESCAPE '\' OR school ILIKE $1 ESCAPE '\'`
		args = append(args, "%"+escapeLike(search)+"%")
	}
	q += ` ORDER BY id ASC`

	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list attendees: %w", err)
	}
	defer rows.Close()

	list := []models.Attendee{}
	for rows.Next() {
		a, err := scanAttendee(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendee: %w", err)
		}
		list = append(list, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list attendees: %w", err)
	}
	return list, nil
}

// GetByUserID returns the attendee with the given external user id.
func (r *Repository) GetByUserID(ctx context.Context, userID string) (*models.Attendee, error) {
	q := `SELECT ` + attendeeColumns + ` FROM attendees WHERE user_id = $1`
	a, err := scanAttendee(r.db.QueryRow(ctx, q, userID))
	if err != nil {
		return nil, mapReadError("get attendee by user_id", err)
	}
	return a, nil
}

// GetByID returns the attendee with the given primary key.
func (r *Repository) GetByID(ctx context.Context, id int64) (*models.Attendee, error) {
	q := `SELECT ` + attendeeColumns + ` FROM attendees WHERE id = $1`
	a, err := scanAttendee(r.db.QueryRow(ctx, q, id))
	if err != nil {
		return nil, mapReadError("get attendee by id", err)
	}
	return a, nil
}

// Update overwrites the mutable attributes of the attendee identified by a.ID.
// user_id and created_at are never written.
func (r *Repository) Update(ctx context.Context, a *models.Attendee) error {
	const q = `UPDATE attendees SET first_name = $2, last_name = $3, email = $4, school = $5, field_of_study = $6,
		level_of_study = $7, linkedin = $8, github = $9, discord = $10, resume_key = $11, photo_key = $12
		WHERE id = $1
		RETURNING user_id, created_at`
	err := r.db.QueryRow(ctx, q, a.ID, a.FirstName, a.LastName, a.Email, a.School, a.FieldOfStudy, a.LevelOfStudy,
		a.LinkedIn, a.GitHub, a.Discord, a.ResumeKey, a.PhotoKey).
		Scan(&a.UserID, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return mapWriteError("update attendee", err)
	}
	return nil
}

// Delete removes the attendee with the given primary key.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM attendees WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete attendee: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAttendee(row pgx.Row) (*models.Attendee, error) {
	var a models.Attendee
	err := row.Scan(&a.ID, &a.UserID, &a.FirstName, &a.LastName, &a.Email, &a.School, &a.FieldOfStudy, &a.LevelOfStudy,
		&a.LinkedIn, &a.GitHub, &a.Discord, &a.ResumeKey, &a.PhotoKey, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func mapReadError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		field, ok := constraintFields[pgErr.ConstraintName]
		if !ok {
			field = "user_id"
		}
		return &ConflictError{Field: field, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

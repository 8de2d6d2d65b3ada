package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists users.
type Repository interface {
	// Create inserts a user; ErrUserExists if (phone, role) is taken.
	Create(ctx context.Context, user User) error
	FindByID(ctx context.Context, id string) (User, error)
	FindByPhone(ctx context.Context, phone string, role Role) (User, error)
	// Update applies fn to the stored user atomically and persists the result.
	Update(ctx context.Context, id string, fn func(*User) error) (User, error)
}

const uniqueViolation = "23505"

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, role, phone, first_name, last_name, biometric_enabled, birth_year, relationship, profile_completed, created_at, updated_at`

// Create inserts a new user.
func (r *PostgresRepository) Create(ctx context.Context, user User) error {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return err
	}
	birthYear, relationship := detailColumns(user.Details)
	_, err = r.db.Exec(ctx, `INSERT INTO users (`+userColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		userID, string(user.Role), user.Phone, user.FirstName, user.LastName, user.BiometricEnabled,
		birthYear, relationship, user.HasProfile(), user.CreatedAt.UTC(), user.UpdatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrUserExists
	}
	return err
}

// FindByID fetches a user by identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (User, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return User{}, ErrUserNotFound
	}
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
}

// FindByPhone fetches the account registered for phone under role.
func (r *PostgresRepository) FindByPhone(ctx context.Context, phone string, role Role) (User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1 AND role = $2`, phone, string(role)))
}

// Update locks the row, applies fn and writes the result back.
func (r *PostgresRepository) Update(ctx context.Context, id string, fn func(*User) error) (User, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return User{}, ErrUserNotFound
	}
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return User{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	user, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID))
	if err != nil {
		return User{}, err
	}
	if err := fn(&user); err != nil {
		return User{}, err
	}
	birthYear, relationship := detailColumns(user.Details)
	if _, err := tx.Exec(ctx, `UPDATE users
        SET first_name = $2, last_name = $3, biometric_enabled = $4, birth_year = $5,
            relationship = $6, profile_completed = $7, updated_at = $8
        WHERE id = $1`,
		userID, user.FirstName, user.LastName, user.BiometricEnabled, birthYear, relationship,
		user.HasProfile(), user.UpdatedAt.UTC()); err != nil {
		return User{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}
	return user, nil
}

func detailColumns(details Details) (*int, *string) {
	switch d := details.(type) {
	case PatientDetails:
		return &d.BirthYear, nil
	case CaregiverDetails:
		return nil, &d.Relationship
	}
	return nil, nil
}

func scanUser(row pgx.Row) (User, error) {
	var (
		id           uuid.UUID
		role         string
		birthYear    *int
		relationship *string
		completed    bool
		createdAt    time.Time
		updatedAt    time.Time
		user         User
	)
	err := row.Scan(&id, &role, &user.Phone, &user.FirstName, &user.LastName, &user.BiometricEnabled,
		&birthYear, &relationship, &completed, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	user.ID = id.String()
	user.Role = Role(role)
	user.CreatedAt = createdAt.UTC()
	user.UpdatedAt = updatedAt.UTC()
	if completed {
		switch user.Role {
		case RolePatient:
			if birthYear == nil {
				return User{}, fmt.Errorf("user %s: patient profile without birth year", user.ID)
			}
			user.Details = PatientDetails{BirthYear: *birthYear}
		case RoleCaregiver:
			if relationship == nil {
				return User{}, fmt.Errorf("user %s: caregiver profile without relationship", user.ID)
			}
			user.Details = CaregiverDetails{Relationship: *relationship}
		}
	}
	return user, nil
}

package links

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists links.
type Repository interface {
	// Create inserts a pending link, or returns ErrDuplicateLink when the
	// caregiver already holds an open link to the same invitee.
	Create(ctx context.Context, link Link) error
	Get(ctx context.Context, id string) (Link, error)
	// Transition moves the link from status from to status to only if it is
	// still in from; otherwise ErrInvalidTransition.
	Transition(ctx context.Context, id string, from, to Status, at time.Time) (Link, error)
	ListByCaregiver(ctx context.Context, caregiverID string) ([]Link, error)
	ListByPatient(ctx context.Context, patientID string) ([]Link, error)
	// ResolveInvitee binds every unresolved link for phone to patientID and
	// returns the links it changed.
	ResolveInvitee(ctx context.Context, phone, patientID string, at time.Time) ([]Link, error)
}

const uniqueViolation = "23505"

const linkColumns = `id, caregiver_id, patient_id, invitee_phone, status, relationship, created_at, approved_at, revoked_at, updated_at`

// transitionQuery only matches while the row still holds the expected status,
// so of two racing transitions from the same status exactly one returns a row.
const transitionQuery = `UPDATE caregiver_links
        SET status = $3::text,
            updated_at = $4,
            approved_at = CASE WHEN $3::text = 'active' THEN $4 ELSE approved_at END,
            revoked_at = CASE WHEN $3::text = 'revoked' THEN $4 ELSE revoked_at END
        WHERE id = $1 AND status = $2::text
        RETURNING ` + linkColumns

const resolveInviteeQuery = `UPDATE caregiver_links SET patient_id = $2, updated_at = $3
        WHERE invitee_phone = $1 AND patient_id IS NULL
        RETURNING ` + linkColumns

// PostgresRepository stores links in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a link record.
func (r *PostgresRepository) Create(ctx context.Context, link Link) error {
	caregiverID, err := uuid.Parse(link.CaregiverID)
	if err != nil {
		return err
	}
	patientID, err := nullableUUID(link.PatientID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO caregiver_links (`+linkColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		link.ID, caregiverID, patientID, link.InviteePhone, string(link.Status), link.Relationship,
		link.CreatedAt.UTC(), link.ApprovedAt, link.RevokedAt, link.UpdatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateLink
	}
	return err
}

// Get fetches one link.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Link, error) {
	link, err := scanLink(r.db.QueryRow(ctx, `SELECT `+linkColumns+` FROM caregiver_links WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Link{}, ErrLinkNotFound
	}
	return link, err
}

// Transition is a compare-and-swap on the status column.
func (r *PostgresRepository) Transition(ctx context.Context, id string, from, to Status, at time.Time) (Link, error) {
	if !canTransition(from, to) {
		return Link{}, ErrInvalidTransition
	}
	row := r.db.QueryRow(ctx, transitionQuery, id, string(from), string(to), at.UTC())
	link, err := scanLink(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return Link{}, getErr
		}
		return Link{}, ErrInvalidTransition
	}
	return link, err
}

// ListByCaregiver returns the caregiver's links, newest first.
func (r *PostgresRepository) ListByCaregiver(ctx context.Context, caregiverID string) ([]Link, error) {
	id, err := uuid.Parse(caregiverID)
	if err != nil {
		return nil, nil
	}
	return r.list(ctx, `SELECT `+linkColumns+` FROM caregiver_links WHERE caregiver_id = $1 ORDER BY id DESC`, id)
}

// ListByPatient returns the patient's links, newest first.
func (r *PostgresRepository) ListByPatient(ctx context.Context, patientID string) ([]Link, error) {
	id, err := uuid.Parse(patientID)
	if err != nil {
		return nil, nil
	}
	return r.list(ctx, `SELECT `+linkColumns+` FROM caregiver_links WHERE patient_id = $1 ORDER BY id DESC`, id)
}

// ResolveInvitee fills patient_id on links still waiting for phone.
func (r *PostgresRepository) ResolveInvitee(ctx context.Context, phone, patientID string, at time.Time) ([]Link, error) {
	id, err := uuid.Parse(patientID)
	if err != nil {
		return nil, err
	}
	return r.list(ctx, resolveInviteeQuery, phone, id, at.UTC())
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]Link, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Link
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, link)
	}
	return out, rows.Err()
}

func nullableUUID(id string) (*uuid.UUID, error) {
	if id == "" {
		return nil, nil
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func scanLink(row pgx.Row) (Link, error) {
	var (
		link        Link
		caregiverID uuid.UUID
		patientID   *uuid.UUID
		status      string
		approvedAt  *time.Time
		revokedAt   *time.Time
	)
	if err := row.Scan(&link.ID, &caregiverID, &patientID, &link.InviteePhone, &status, &link.Relationship,
		&link.CreatedAt, &approvedAt, &revokedAt, &link.UpdatedAt); err != nil {
		return Link{}, err
	}
	link.CaregiverID = caregiverID.String()
	if patientID != nil {
		link.PatientID = patientID.String()
	}
	link.Status = Status(status)
	link.CreatedAt = link.CreatedAt.UTC()
	link.UpdatedAt = link.UpdatedAt.UTC()
	if approvedAt != nil {
		t := approvedAt.UTC()
		link.ApprovedAt = &t
	}
	if revokedAt != nil {
		t := revokedAt.UTC()
		link.RevokedAt = &t
	}
	return link, nil
}

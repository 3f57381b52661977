package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore persists memberships and payment proofs.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store backed by the given database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetMembership(ctx context.Context, userID string) (*Membership, error) {
	var m Membership
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, plan, period, used, updated_at
		FROM memberships WHERE user_id = $1`, userID).
		Scan(&m.UserID, &m.Plan, &m.Period, &m.Used, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return &m, nil
}

func (s *PostgresStore) UpsertMembership(ctx context.Context, m *Membership) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (user_id, plan, period, used, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			plan = EXCLUDED.plan, period = EXCLUDED.period,
			used = EXCLUDED.used, updated_at = EXCLUDED.updated_at`,
		m.UserID, m.Plan, m.Period, m.Used, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

const proofColumns = `id, user_id, plan, reference, note, status, reviewed_by, review_note, created_at, reviewed_at`

func scanProof(row interface{ Scan(...interface{}) error }) (*PaymentProof, error) {
	var p PaymentProof
	var note, reviewedBy, reviewNote sql.NullString
	var reviewedAt sql.NullTime

	err := row.Scan(&p.ID, &p.UserID, &p.Plan, &p.Reference, &note,
		&p.Status, &reviewedBy, &reviewNote, &p.CreatedAt, &reviewedAt)
	if err != nil {
		return nil, err
	}
	p.Note = note.String
	p.ReviewedBy = reviewedBy.String
	p.ReviewNote = reviewNote.String
	if reviewedAt.Valid {
		t := reviewedAt.Time
		p.ReviewedAt = &t
	}
	return &p, nil
}

func (s *PostgresStore) CreateProof(ctx context.Context, p *PaymentProof) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_proofs (id, user_id, plan, reference, note, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.UserID, p.Plan, p.Reference, nullIfEmpty(p.Note), p.Status, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert proof: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProof(ctx context.Context, id string) (*PaymentProof, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+proofColumns+` FROM payment_proofs WHERE id = $1`, id)
	p, err := scanProof(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProofNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get proof: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) UpdateProof(ctx context.Context, p *PaymentProof) error {
	var reviewedAt sql.NullTime
	if p.ReviewedAt != nil {
		reviewedAt = sql.NullTime{Time: *p.ReviewedAt, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_proofs SET
			status = $2, reviewed_by = $3, review_note = $4, reviewed_at = $5
		WHERE id = $1`,
		p.ID, p.Status, nullIfEmpty(p.ReviewedBy), nullIfEmpty(p.ReviewNote), reviewedAt,
	)
	if err != nil {
		return fmt.Errorf("update proof: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update proof: %w", err)
	}
	if affected == 0 {
		return ErrProofNotFound
	}
	return nil
}

func (s *PostgresStore) ListProofsByUser(ctx context.Context, userID string) ([]*PaymentProof, error) {
	return s.queryProofs(ctx, `
		SELECT `+proofColumns+` FROM payment_proofs
		WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
}

func (s *PostgresStore) ListProofsByStatus(ctx context.Context, status ProofStatus, limit int) ([]*PaymentProof, error) {
	query := `SELECT ` + proofColumns + ` FROM payment_proofs
		WHERE status = $1 ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}
	return s.queryProofs(ctx, query, status)
}

func (s *PostgresStore) queryProofs(ctx context.Context, query string, args ...interface{}) ([]*PaymentProof, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query proofs: %w", err)
	}
	defer rows.Close()

	var out []*PaymentProof
	for rows.Next() {
		p, err := scanProof(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proof: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

package listing

import (
	"context"
	"database/sql"
	"strconv"
)

// PostgresStore persists listings in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed listing store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// listingColumns is the SELECT column list for listings.
const listingColumns = `id, owner_id, title, description, category,
	seeking_category, seeking_note, location, is_virtual,
	status, accepted_negotiation_id, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, l *Listing) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO listings (
			id, owner_id, title, description, category,
			seeking_category, seeking_note, location, is_virtual,
			status, accepted_negotiation_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13
		)`,
		l.ID, l.OwnerID, l.Title, nullStr(l.Description), l.Category,
		nullStr(l.SeekingCategory), nullStr(l.SeekingNote), nullStr(l.Location), l.IsVirtual,
		string(l.Status), nullStr(l.AcceptedNegotiationID), l.CreatedAt, l.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Listing, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)

	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return l, err
}

func (p *PostgresStore) Update(ctx context.Context, l *Listing) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE listings SET
			title = $1, description = $2, category = $3,
			seeking_category = $4, seeking_note = $5, location = $6,
			is_virtual = $7, updated_at = $8
		WHERE id = $9`,
		l.Title, nullStr(l.Description), l.Category,
		nullStr(l.SeekingCategory), nullStr(l.SeekingNote), nullStr(l.Location),
		l.IsVirtual, l.UpdatedAt, l.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM listings WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatusIf performs the compare-and-set status transition. The WHERE
// clause on the expected prior status is what makes concurrent reservations
// safe: the second writer matches zero rows.
func (p *PostgresStore) UpdateStatusIf(ctx context.Context, id string, from, to Status) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE listings SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		string(to), id, string(from),
	)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		// Distinguish a missing listing from a stale expected status.
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM listings WHERE id = $1)`, id).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, ErrNotFound
		}
		return false, nil
	}
	return true, nil
}

func (p *PostgresStore) SetAcceptedNegotiation(ctx context.Context, id, negotiationID string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE listings SET accepted_negotiation_id = $1, updated_at = NOW()
		WHERE id = $2`,
		nullStr(negotiationID), id,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListOpen(ctx context.Context, f BrowseFilter) ([]*Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE status = 'open'`
	args := []interface{}{}
	n := 1

	if f.Category != "" {
		query += ` AND category = $1`
		args = append(args, f.Category)
		n++
	}
	if f.Cursor != nil {
		query += ` AND (created_at, id) < ($` + itoa(n) + `, $` + itoa(n+1) + `)`
		args = append(args, f.Cursor.CreatedAt, f.Cursor.ID)
		n += 2
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT $` + itoa(n)
	args = append(args, f.Limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanListings(rows)
}

func (p *PostgresStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Listing, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+listingColumns+` FROM listings
		WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2`,
		ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanListings(rows)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanListing(sc scanner) (*Listing, error) {
	l := &Listing{}
	var (
		description     sql.NullString
		seekingCategory sql.NullString
		seekingNote     sql.NullString
		location        sql.NullString
		negotiationID   sql.NullString
		status          string
	)

	err := sc.Scan(
		&l.ID, &l.OwnerID, &l.Title, &description, &l.Category,
		&seekingCategory, &seekingNote, &location, &l.IsVirtual,
		&status, &negotiationID, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.Description = description.String
	l.SeekingCategory = seekingCategory.String
	l.SeekingNote = seekingNote.String
	l.Location = location.String
	l.AcceptedNegotiationID = negotiationID.String
	l.Status = Status(status)
	return l, nil
}

func scanListings(rows *sql.Rows) ([]*Listing, error) {
	var result []*Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

package negotiation

import (
	"context"
	"database/sql"
	"time"

	"github.com/mbd888/agentbroker/internal/brokererr"
	"github.com/mbd888/agentbroker/internal/money"
)

// PostgresStore persists quotes in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed quote store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, q *Quote) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO quotes (
			id, requester, provider, description, amount, token,
			counter_amount, counter_note, escrow_id, status, expires_at,
			created_at, accepted_at, rejected_at, countered_at, expired_at,
			delivered_at, confirmed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		q.ID, q.Requester, q.Provider, q.Description, q.AmountDisplay, string(q.Token),
		q.CounterAmountDisplay, q.CounterNote, q.EscrowID, string(q.Status), q.ExpiresAt,
		q.Timeline.Created, q.Timeline.Accepted, q.Timeline.Rejected, q.Timeline.Countered, q.Timeline.Expired,
		q.Timeline.Delivered, q.Timeline.Confirmed,
	)
	return err
}

const quoteColumns = `id, requester, provider, description, amount, token,
		counter_amount, counter_note, escrow_id, status, expires_at,
		created_at, accepted_at, rejected_at, countered_at, expired_at,
		delivered_at, confirmed_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Quote, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE id = $1`, id)
	q, err := scanQuote(row)
	if err == sql.ErrNoRows {
		return nil, brokererr.New(brokererr.NotFound, "quote not found")
	}
	return q, err
}

func (p *PostgresStore) Update(ctx context.Context, q *Quote) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE quotes SET
			counter_amount = $1, counter_note = $2, escrow_id = $3, status = $4,
			accepted_at = $5, rejected_at = $6, countered_at = $7, expired_at = $8,
			delivered_at = $9, confirmed_at = $10
		WHERE id = $11`,
		q.CounterAmountDisplay, q.CounterNote, q.EscrowID, string(q.Status),
		q.Timeline.Accepted, q.Timeline.Rejected, q.Timeline.Countered, q.Timeline.Expired,
		q.Timeline.Delivered, q.Timeline.Confirmed,
		q.ID,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return brokererr.New(brokererr.NotFound, "quote not found")
	}
	return nil
}

func (p *PostgresStore) ListByParty(ctx context.Context, partyID string, limit int) ([]*Quote, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+quoteColumns+` FROM quotes
		WHERE requester = $1 OR provider = $1 ORDER BY created_at DESC LIMIT $2`, partyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQuotes(rows)
}

func (p *PostgresStore) ListDueForExpiry(ctx context.Context, before time.Time) ([]*Quote, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+quoteColumns+` FROM quotes
		WHERE status IN ('pending','countered') AND expires_at IS NOT NULL AND expires_at <= $1`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQuotes(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuote(row rowScanner) (*Quote, error) {
	var q Quote
	var token, status, amountStr, counterAmountStr string
	var expiresAt, acceptedAt, rejectedAt, counteredAt, expiredAt, deliveredAt, confirmedAt sql.NullTime

	if err := row.Scan(
		&q.ID, &q.Requester, &q.Provider, &q.Description, &amountStr, &token,
		&counterAmountStr, &q.CounterNote, &q.EscrowID, &status, &expiresAt,
		&q.Timeline.Created, &acceptedAt, &rejectedAt, &counteredAt, &expiredAt,
		&deliveredAt, &confirmedAt,
	); err != nil {
		return nil, err
	}

	q.Token = money.Token(token)
	q.Status = Status(status)
	q.AmountDisplay = amountStr
	if amount, ok := money.Parse(amountStr, q.Token); ok {
		q.Amount = amount
	}
	q.CounterAmountDisplay = counterAmountStr
	if counterAmountStr != "" {
		if amount, ok := money.Parse(counterAmountStr, q.Token); ok {
			q.CounterAmount = amount
		}
	}

	if expiresAt.Valid {
		q.ExpiresAt = &expiresAt.Time
	}
	if acceptedAt.Valid {
		q.Timeline.Accepted = &acceptedAt.Time
	}
	if rejectedAt.Valid {
		q.Timeline.Rejected = &rejectedAt.Time
	}
	if counteredAt.Valid {
		q.Timeline.Countered = &counteredAt.Time
	}
	if expiredAt.Valid {
		q.Timeline.Expired = &expiredAt.Time
	}
	if deliveredAt.Valid {
		q.Timeline.Delivered = &deliveredAt.Time
	}
	if confirmedAt.Valid {
		q.Timeline.Confirmed = &confirmedAt.Time
	}

	return &q, nil
}

func scanQuotes(rows *sql.Rows) ([]*Quote, error) {
	var result []*Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, q)
	}
	return result, rows.Err()
}

var _ Store = (*PostgresStore)(nil)

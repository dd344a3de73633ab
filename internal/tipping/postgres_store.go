package tipping

import (
	"context"
	"database/sql"

	"github.com/mbd888/agentbroker/internal/brokererr"
	"github.com/mbd888/agentbroker/internal/money"
)

// PostgresStore persists tips in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed tip store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, t *Tip) error {
	var txHash string
	var block, gas int64
	var settledAt sql.NullTime
	if t.Settlement != nil {
		txHash = t.Settlement.TxHash
		block = int64(t.Settlement.BlockNumber)
		gas = int64(t.Settlement.Gas)
		if !t.Settlement.Timestamp.IsZero() {
			settledAt = sql.NullTime{Time: t.Settlement.Timestamp, Valid: true}
		}
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO tips (
			id, repo_ref, tipper, recipient, amount, token, message, issue_url, commit_ref,
			escrow_id, settlement_tx_hash, settlement_block, settlement_gas, settlement_at,
			cancel_reason, status, created_at, escrow_created_at, funded_at, locked_at,
			released_at, cancelled_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		t.ID, t.RepoRef, t.Tipper, t.Recipient, t.AmountDisplay, string(t.Token), t.Message, t.IssueURL, t.CommitRef,
		t.EscrowID, txHash, block, gas, settledAt,
		t.CancelReason, string(t.Status), t.Timeline.Created, t.Timeline.EscrowCreated, t.Timeline.Funded, t.Timeline.Locked,
		t.Timeline.Released, t.Timeline.Cancelled,
	)
	return err
}

const tipColumns = `id, repo_ref, tipper, recipient, amount, token, message, issue_url, commit_ref,
			escrow_id, settlement_tx_hash, settlement_block, settlement_gas, settlement_at,
			cancel_reason, status, created_at, escrow_created_at, funded_at, locked_at,
			released_at, cancelled_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Tip, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+tipColumns+` FROM tips WHERE id = $1`, id)
	t, err := scanTip(row)
	if err == sql.ErrNoRows {
		return nil, brokererr.New(brokererr.NotFound, "tip not found")
	}
	return t, err
}

func (p *PostgresStore) Update(ctx context.Context, t *Tip) error {
	var txHash string
	var block, gas int64
	var settledAt sql.NullTime
	if t.Settlement != nil {
		txHash = t.Settlement.TxHash
		block = int64(t.Settlement.BlockNumber)
		gas = int64(t.Settlement.Gas)
		if !t.Settlement.Timestamp.IsZero() {
			settledAt = sql.NullTime{Time: t.Settlement.Timestamp, Valid: true}
		}
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE tips SET
			escrow_id = $1, settlement_tx_hash = $2, settlement_block = $3, settlement_gas = $4,
			settlement_at = $5, cancel_reason = $6, status = $7, escrow_created_at = $8,
			funded_at = $9, locked_at = $10, released_at = $11, cancelled_at = $12
		WHERE id = $13`,
		t.EscrowID, txHash, block, gas,
		settledAt, t.CancelReason, string(t.Status), t.Timeline.EscrowCreated,
		t.Timeline.Funded, t.Timeline.Locked, t.Timeline.Released, t.Timeline.Cancelled,
		t.ID,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return brokererr.New(brokererr.NotFound, "tip not found")
	}
	return nil
}

func (p *PostgresStore) ListByRepo(ctx context.Context, repoRef string, limit int) ([]*Tip, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+tipColumns+` FROM tips
		WHERE repo_ref = $1 ORDER BY created_at DESC LIMIT $2`, repoRef, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTips(rows)
}

func (p *PostgresStore) ListByTipper(ctx context.Context, tipper string, limit int) ([]*Tip, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+tipColumns+` FROM tips
		WHERE tipper = $1 ORDER BY created_at DESC LIMIT $2`, tipper, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTips(rows)
}

func (p *PostgresStore) ListAll(ctx context.Context) ([]*Tip, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+tipColumns+` FROM tips ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTips(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTip(row rowScanner) (*Tip, error) {
	var t Tip
	var token, status, amountStr, txHash string
	var block, gas int64
	var settledAt sql.NullTime
	var escrowCreatedAt, fundedAt, lockedAt, releasedAt, cancelledAt sql.NullTime

	if err := row.Scan(
		&t.ID, &t.RepoRef, &t.Tipper, &t.Recipient, &amountStr, &token, &t.Message, &t.IssueURL, &t.CommitRef,
		&t.EscrowID, &txHash, &block, &gas, &settledAt,
		&t.CancelReason, &status, &t.Timeline.Created, &escrowCreatedAt, &fundedAt, &lockedAt,
		&releasedAt, &cancelledAt,
	); err != nil {
		return nil, err
	}

	t.Token = money.Token(token)
	t.Status = Status(status)
	t.AmountDisplay = amountStr
	if amount, ok := money.Parse(amountStr, t.Token); ok {
		t.Amount = amount
	}

	if txHash != "" || settledAt.Valid {
		s := &Settlement{TxHash: txHash, BlockNumber: uint64(block), Gas: uint64(gas)}
		if settledAt.Valid {
			s.Timestamp = settledAt.Time
		}
		t.Settlement = s
	}

	if escrowCreatedAt.Valid {
		t.Timeline.EscrowCreated = &escrowCreatedAt.Time
	}
	if fundedAt.Valid {
		t.Timeline.Funded = &fundedAt.Time
	}
	if lockedAt.Valid {
		t.Timeline.Locked = &lockedAt.Time
	}
	if releasedAt.Valid {
		t.Timeline.Released = &releasedAt.Time
	}
	if cancelledAt.Valid {
		t.Timeline.Cancelled = &cancelledAt.Time
	}

	return &t, nil
}

func scanTips(rows *sql.Rows) ([]*Tip, error) {
	var result []*Tip
	for rows.Next() {
		t, err := scanTip(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

var _ Store = (*PostgresStore)(nil)

package escrow

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/mbd888/agentbroker/internal/brokererr"
	"github.com/mbd888/agentbroker/internal/money"
)

// PostgresStore persists escrows in PostgreSQL, for deployments whose
// collection has outgrown whole-file snapshots (spec §9).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, e *Escrow) error {
	approvalsJSON, _ := json.Marshal(e.Approvals)
	proofJSON, _ := json.Marshal(e.Proof)
	disputeJSON, _ := json.Marshal(e.Dispute)
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrows (
			id, payer, payee, amount, token, purpose, conditions,
			timeout_at, approvals, proof, dispute, settlement_hash,
			release_reason, status,
			created_at, funded_at, locked_at, released_at, refunded_at, disputed_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,
			$8,$9,$10,$11,$12,
			$13,$14,
			$15,$16,$17,$18,$19,$20
		)`,
		e.ID, e.Payer, e.Payee, e.AmountDisplay, string(e.Token), e.Purpose, conditionsJSON(e.Conditions),
		e.TimeoutAt, approvalsJSON, proofJSON, disputeJSON, e.SettlementHash,
		e.ReleaseReason, string(e.Status),
		e.Timeline.Created, e.Timeline.Funded, e.Timeline.Locked, e.Timeline.Released, e.Timeline.Refunded, e.Timeline.Disputed,
	)
	return err
}

const escrowColumns = `id, payer, payee, amount, token, purpose, conditions,
		timeout_at, approvals, proof, dispute, settlement_hash,
		release_reason, status,
		created_at, funded_at, locked_at, released_at, refunded_at, disputed_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)
	e, err := scanEscrow(row)
	if err == sql.ErrNoRows {
		return nil, brokererr.New(brokererr.NotFound, "escrow not found")
	}
	return e, err
}

func (p *PostgresStore) Update(ctx context.Context, e *Escrow) error {
	approvalsJSON, _ := json.Marshal(e.Approvals)
	proofJSON, _ := json.Marshal(e.Proof)
	disputeJSON, _ := json.Marshal(e.Dispute)
	result, err := p.db.ExecContext(ctx, `
		UPDATE escrows SET
			approvals = $1, proof = $2, dispute = $3, settlement_hash = $4,
			release_reason = $5, status = $6,
			funded_at = $7, locked_at = $8, released_at = $9, refunded_at = $10, disputed_at = $11
		WHERE id = $12`,
		approvalsJSON, proofJSON, disputeJSON, e.SettlementHash,
		e.ReleaseReason, string(e.Status),
		e.Timeline.Funded, e.Timeline.Locked, e.Timeline.Released, e.Timeline.Refunded, e.Timeline.Disputed,
		e.ID,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return brokererr.New(brokererr.NotFound, "escrow not found")
	}
	return nil
}

func (p *PostgresStore) ListByParty(ctx context.Context, partyID string, limit int) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+escrowColumns+` FROM escrows
		WHERE payer = $1 OR payee = $1 ORDER BY created_at DESC LIMIT $2`, partyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEscrows(rows)
}

func (p *PostgresStore) ListDueForTimeout(ctx context.Context, before time.Time) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+escrowColumns+` FROM escrows
		WHERE status IN ('funded','locked') AND timeout_at IS NOT NULL AND timeout_at <= $1`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEscrows(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEscrow(row rowScanner) (*Escrow, error) {
	var e Escrow
	var token, status, amountStr string
	var conditionsRaw, approvalsRaw, proofRaw, disputeRaw []byte
	var timeoutAt, fundedAt, lockedAt, releasedAt, refundedAt, disputedAt sql.NullTime
	var settlementHash, releaseReason sql.NullString

	if err := row.Scan(
		&e.ID, &e.Payer, &e.Payee, &amountStr, &token, &e.Purpose, &conditionsRaw,
		&timeoutAt, &approvalsRaw, &proofRaw, &disputeRaw, &settlementHash,
		&releaseReason, &status,
		&e.Timeline.Created, &fundedAt, &lockedAt, &releasedAt, &refundedAt, &disputedAt,
	); err != nil {
		return nil, err
	}

	e.Token = money.Token(token)
	e.Status = Status(status)
	e.AmountDisplay = amountStr
	amount, _ := money.Parse(amountStr, e.Token)
	e.Amount = amount
	e.SettlementHash = settlementHash.String
	e.ReleaseReason = releaseReason.String

	_ = json.Unmarshal(conditionsRaw, &e.Conditions)
	_ = json.Unmarshal(approvalsRaw, &e.Approvals)
	if len(proofRaw) > 0 && string(proofRaw) != "null" {
		_ = json.Unmarshal(proofRaw, &e.Proof)
	}
	if len(disputeRaw) > 0 && string(disputeRaw) != "null" {
		_ = json.Unmarshal(disputeRaw, &e.Dispute)
	}

	if timeoutAt.Valid {
		e.TimeoutAt = &timeoutAt.Time
	}
	if fundedAt.Valid {
		e.Timeline.Funded = &fundedAt.Time
	}
	if lockedAt.Valid {
		e.Timeline.Locked = &lockedAt.Time
	}
	if releasedAt.Valid {
		e.Timeline.Released = &releasedAt.Time
	}
	if refundedAt.Valid {
		e.Timeline.Refunded = &refundedAt.Time
	}
	if disputedAt.Valid {
		e.Timeline.Disputed = &disputedAt.Time
	}

	return &e, nil
}

func scanEscrows(rows *sql.Rows) ([]*Escrow, error) {
	var result []*Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func conditionsJSON(c Conditions) []byte {
	b, _ := json.Marshal(c)
	return b
}

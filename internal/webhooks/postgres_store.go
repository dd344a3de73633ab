package webhooks

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/mbd888/agentbroker/internal/brokererr"
)

// PostgresStore persists subscriptions, the delivery queue, and the event
// log in PostgreSQL, across the webhook_subscriptions, webhook_deliveries,
// and webhook_events tables.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed webhook store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func marshalEventTypes(ets []EventType) ([]byte, error) {
	return json.Marshal(ets)
}

func unmarshalEventTypes(raw []byte) ([]EventType, error) {
	var ets []EventType
	if len(raw) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &ets); err != nil {
		return nil, err
	}
	return ets, nil
}

func (p *PostgresStore) Create(ctx context.Context, s *Subscription) error {
	eventTypes, err := marshalEventTypes(s.EventTypes)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (id, owner_id, url, secret, event_types, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		s.ID, s.OwnerID, s.URL, s.Secret, eventTypes, s.Active, s.CreatedAt,
	)
	return err
}

const subscriptionColumns = `id, owner_id, url, secret, event_types, active, created_at,
			successes, failures, retries, last_triggered_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Subscription, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE id = $1`, id)
	s, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, brokererr.New(brokererr.NotFound, "subscription not found")
	}
	return s, err
}

func (p *PostgresStore) Update(ctx context.Context, s *Subscription) error {
	eventTypes, err := marshalEventTypes(s.EventTypes)
	if err != nil {
		return err
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE webhook_subscriptions SET
			url = $1, secret = $2, event_types = $3, active = $4,
			successes = $5, failures = $6, retries = $7, last_triggered_at = $8
		WHERE id = $9`,
		s.URL, s.Secret, eventTypes, s.Active,
		s.Successes, s.Failures, s.Retries, s.LastTriggeredAt, s.ID,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return brokererr.New(brokererr.NotFound, "subscription not found")
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return brokererr.New(brokererr.NotFound, "subscription not found")
	}
	return nil
}

func (p *PostgresStore) ListByOwner(ctx context.Context, ownerID string) ([]*Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM webhook_subscriptions
		WHERE owner_id = $1 ORDER BY created_at ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (p *PostgresStore) ListActiveForEvent(ctx context.Context, et EventType) ([]*Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM webhook_subscriptions
		WHERE active = true AND event_types @> $1::jsonb`, `["`+string(et)+`"]`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	var s Subscription
	var eventTypesRaw []byte
	var lastTriggeredAt sql.NullTime
	if err := row.Scan(
		&s.ID, &s.OwnerID, &s.URL, &s.Secret, &eventTypesRaw, &s.Active, &s.CreatedAt,
		&s.Successes, &s.Failures, &s.Retries, &lastTriggeredAt,
	); err != nil {
		return nil, err
	}
	ets, err := unmarshalEventTypes(eventTypesRaw)
	if err != nil {
		return nil, err
	}
	s.EventTypes = ets
	if lastTriggeredAt.Valid {
		s.LastTriggeredAt = &lastTriggeredAt.Time
	}
	return &s, nil
}

func scanSubscriptions(rows *sql.Rows) ([]*Subscription, error) {
	var out []*Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Enqueue(ctx context.Context, d *Delivery) error {
	payload, err := json.Marshal(d.Payload)
	if err != nil {
		return err
	}
	deliveryContext, err := json.Marshal(d.Context)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (
			id, subscription_id, event_id, event_type, event_timestamp, payload, context, attempt,
			next_attempt_at, status, last_error, created_at, delivered_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		d.ID, d.SubscriptionID, d.EventID, string(d.EventType), d.EventTimestamp, payload, deliveryContext, d.Attempt,
		d.NextAttemptAt, string(d.Status), d.LastError, d.CreatedAt, d.DeliveredAt,
	)
	return err
}

const deliveryColumns = `id, subscription_id, event_id, event_type, event_timestamp, payload, context, attempt,
			next_attempt_at, status, last_error, created_at, delivered_at`

func (p *PostgresStore) UpdateDelivery(ctx context.Context, d *Delivery) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE webhook_deliveries SET
			attempt = $1, next_attempt_at = $2, status = $3, last_error = $4, delivered_at = $5
		WHERE id = $6`,
		d.Attempt, d.NextAttemptAt, string(d.Status), d.LastError, d.DeliveredAt, d.ID,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return brokererr.New(brokererr.NotFound, "delivery not found")
	}
	return nil
}

func (p *PostgresStore) ListPending(ctx context.Context) ([]*Delivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE status = 'pending'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeliveries(rows)
}

func (p *PostgresStore) ListBySubscription(ctx context.Context, subscriptionID string, limit int) ([]*Delivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries
		WHERE subscription_id = $1 ORDER BY created_at DESC LIMIT $2`, subscriptionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeliveries(rows)
}

func scanDelivery(row rowScanner) (*Delivery, error) {
	var d Delivery
	var eventType, status string
	var payloadRaw, contextRaw []byte
	var deliveredAt sql.NullTime

	if err := row.Scan(
		&d.ID, &d.SubscriptionID, &d.EventID, &eventType, &d.EventTimestamp, &payloadRaw, &contextRaw, &d.Attempt,
		&d.NextAttemptAt, &status, &d.LastError, &d.CreatedAt, &deliveredAt,
	); err != nil {
		return nil, err
	}
	d.EventType = EventType(eventType)
	d.Status = DeliveryStatus(status)
	if len(payloadRaw) > 0 {
		var payload any
		if err := json.Unmarshal(payloadRaw, &payload); err != nil {
			return nil, err
		}
		d.Payload = payload
	}
	if len(contextRaw) > 0 {
		var eventContext any
		if err := json.Unmarshal(contextRaw, &eventContext); err != nil {
			return nil, err
		}
		d.Context = eventContext
	}
	if deliveredAt.Valid {
		d.DeliveredAt = &deliveredAt.Time
	}
	return &d, nil
}

func scanDeliveries(rows *sql.Rows) ([]*Delivery, error) {
	var out []*Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Append(ctx context.Context, e *Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return err
	}
	eventContext, err := json.Marshal(e.Context)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO webhook_events (id, event_type, data, context, created_at) VALUES ($1,$2,$3,$4,$5)`,
		e.ID, string(e.Type), data, eventContext, e.CreatedAt,
	)
	return err
}

const eventColumns = `id, event_type, data, context, created_at`

func (p *PostgresStore) List(ctx context.Context, limit int) ([]*Event, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM webhook_events
		ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (p *PostgresStore) ListByType(ctx context.Context, et EventType, limit int) ([]*Event, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM webhook_events
		WHERE event_type = $1 ORDER BY created_at DESC LIMIT $2`, string(et), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvent(row rowScanner) (*Event, error) {
	var e Event
	var eventType string
	var dataRaw, contextRaw []byte
	if err := row.Scan(&e.ID, &eventType, &dataRaw, &contextRaw, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Type = EventType(eventType)
	if len(dataRaw) > 0 {
		var data any
		if err := json.Unmarshal(dataRaw, &data); err != nil {
			return nil, err
		}
		e.Data = data
	}
	if len(contextRaw) > 0 {
		var eventContext any
		if err := json.Unmarshal(contextRaw, &eventContext); err != nil {
			return nil, err
		}
		e.Context = eventContext
	}
	return &e, nil
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var out []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var (
	_ SubscriptionStore = (*PostgresStore)(nil)
	_ QueueStore        = (*PostgresStore)(nil)
	_ EventLogStore     = (*PostgresStore)(nil)
)

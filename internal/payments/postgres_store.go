package payments

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists payments in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed payment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// one payment per transaction and globally unique references, both
// enforced by the schema.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

const paymentColumns = `id, transaction_id, customer_id, agent_id, transaction_reference,
	       amount, gateway, status, gateway_ref, escrowed_at, completed_at,
	       reversed_at, created_at, updated_at`

func (p *PostgresStore) CreatePayment(ctx context.Context, pay *Payment) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transaction_payments (
			id, transaction_id, customer_id, agent_id, transaction_reference,
			amount, gateway, status, gateway_ref, escrowed_at, completed_at,
			reversed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		pay.ID, pay.TransactionID, pay.CustomerID, pay.AgentID, pay.TransactionReference,
		pay.AmountKobo, pay.Gateway, string(pay.Status), nullString(pay.GatewayRef),
		pay.EscrowedAt, nullTime(pay.CompletedAt), nullTime(pay.ReversedAt),
		pay.CreatedAt, pay.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyInitiated
	}
	return err
}

func (p *PostgresStore) GetPayment(ctx context.Context, id string) (*Payment, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM transaction_payments WHERE id = $1`, id)
	return scanPayment(row)
}

func (p *PostgresStore) GetPaymentByReference(ctx context.Context, reference string) (*Payment, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM transaction_payments WHERE transaction_reference = $1`, reference)
	return scanPayment(row)
}

func (p *PostgresStore) GetPaymentByTransaction(ctx context.Context, transactionID string) (*Payment, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM transaction_payments WHERE transaction_id = $1`, transactionID)
	return scanPayment(row)
}

func (p *PostgresStore) UpdatePayment(ctx context.Context, pay *Payment) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE transaction_payments SET
			status = $1, gateway_ref = $2, completed_at = $3,
			reversed_at = $4, updated_at = $5
		WHERE id = $6`,
		string(pay.Status), nullString(pay.GatewayRef), nullTime(pay.CompletedAt),
		nullTime(pay.ReversedAt), pay.UpdatedAt, pay.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (p *PostgresStore) ListPaymentsByCustomer(ctx context.Context, customerID string, limit int) ([]*Payment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM transaction_payments
		WHERE customer_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Payment
	for rows.Next() {
		pay, err := scanPaymentRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pay)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPayment(row *sql.Row) (*Payment, error) {
	pay, err := scanPaymentRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	return pay, err
}

func scanPaymentRow(s scanner) (*Payment, error) {
	var pay Payment
	var status string
	var gatewayRef sql.NullString
	var completedAt, reversedAt sql.NullTime
	err := s.Scan(
		&pay.ID, &pay.TransactionID, &pay.CustomerID, &pay.AgentID, &pay.TransactionReference,
		&pay.AmountKobo, &pay.Gateway, &status, &gatewayRef, &pay.EscrowedAt,
		&completedAt, &reversedAt, &pay.CreatedAt, &pay.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	pay.Status = Status(status)
	pay.GatewayRef = gatewayRef.String
	if completedAt.Valid {
		pay.CompletedAt = &completedAt.Time
	}
	if reversedAt.Valid {
		pay.ReversedAt = &reversedAt.Time
	}
	return &pay, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ Store = (*PostgresStore)(nil)

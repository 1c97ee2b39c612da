package exchange

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists exchange data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed exchange store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// uniqueViolation matches the constraint names from the migrations.
func uniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" && pqErr.Constraint == constraint
	}
	return false
}

const requestColumns = `id, customer_id, agent_id, search_id, status, amount, fee,
	       dest_latitude, dest_longitude, snapshot, created_at, updated_at`

func (p *PostgresStore) CreateRequest(ctx context.Context, r *Request) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO exchange_requests (
			id, customer_id, agent_id, search_id, status, amount, fee,
			dest_latitude, dest_longitude, snapshot, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.CustomerID, r.AgentID, r.SearchID, string(r.Status), r.AmountKobo, r.FeeKobo,
		r.Destination.Latitude, r.Destination.Longitude, []byte(r.Snapshot),
		r.CreatedAt, r.UpdatedAt,
	)
	if uniqueViolation(err, "exchange_requests_agent_search_key") {
		return ErrDuplicateDispatch
	}
	return err
}

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (*Request, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM exchange_requests WHERE id = $1`, id)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, ErrRequestNotFound
	}
	return r, err
}

func (p *PostgresStore) GetRequestByAgentAndSearch(ctx context.Context, agentID, searchID string) (*Request, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+`
		FROM exchange_requests
		WHERE agent_id = $1 AND search_id = $2`, agentID, searchID)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, ErrRequestNotFound
	}
	return r, err
}

func (p *PostgresStore) UpdateRequest(ctx context.Context, r *Request) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE exchange_requests SET status = $1, updated_at = $2 WHERE id = $3`,
		string(r.Status), r.UpdatedAt, r.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRequestNotFound
	}
	return nil
}

func (p *PostgresStore) ListRequestsByAgent(ctx context.Context, agentID string, status RequestStatus) ([]*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM exchange_requests WHERE agent_id = $1`
	args := []any{agentID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const transactionColumns = `id, request_id, customer_id, agent_id, status, amount, fee,
	       dest_latitude, dest_longitude, closed_by, closed_at,
	       cancellation_reason, created_at, updated_at`

func (p *PostgresStore) CreateTransaction(ctx context.Context, t *Transaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO exchange_transactions (
			id, request_id, customer_id, agent_id, status, amount, fee,
			dest_latitude, dest_longitude, closed_by, closed_at,
			cancellation_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.ID, nullString(t.RequestID), t.CustomerID, t.AgentID, string(t.Status),
		t.AmountKobo, t.FeeKobo, t.Destination.Latitude, t.Destination.Longitude,
		nullString(string(t.ClosedBy)), nullTime(t.ClosedAt),
		nullString(t.CancelReason), t.CreatedAt, t.UpdatedAt,
	)
	if uniqueViolation(err, "exchange_transactions_one_open_per_customer") {
		return ErrCustomerBusy
	}
	return err
}

func (p *PostgresStore) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM exchange_transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	return t, err
}

func (p *PostgresStore) GetTransactionByRequest(ctx context.Context, requestID string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+` FROM exchange_transactions WHERE request_id = $1`, requestID)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	return t, err
}

func (p *PostgresStore) GetActiveTransactionForUser(ctx context.Context, userID string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM exchange_transactions
		WHERE status = 'IN_PROGRESS' AND (customer_id = $1 OR agent_id = $1)
		LIMIT 1`, userID)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	return t, err
}

func (p *PostgresStore) UpdateTransaction(ctx context.Context, t *Transaction) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE exchange_transactions SET
			status = $1, closed_by = $2, closed_at = $3,
			cancellation_reason = $4, updated_at = $5
		WHERE id = $6`,
		string(t.Status), nullString(string(t.ClosedBy)), nullTime(t.ClosedAt),
		nullString(t.CancelReason), t.UpdatedAt, t.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (p *PostgresStore) ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM exchange_transactions
		WHERE customer_id = $1 OR agent_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateRating(ctx context.Context, r *Rating) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transaction_ratings (id, rater_id, rated_id, transaction_id, score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.RaterID, r.RatedID, r.TransactionID, r.Score, r.CreatedAt,
	)
	if uniqueViolation(err, "transaction_ratings_rater_transaction_key") {
		return ErrAlreadyRated
	}
	return err
}

func (p *PostgresStore) RatingStats(ctx context.Context, ratedID string) (float64, int, error) {
	var avg sql.NullFloat64
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT AVG(score), COUNT(*) FROM transaction_ratings WHERE rated_id = $1`, ratedID).
		Scan(&avg, &count)
	if err != nil {
		return 0, 0, err
	}
	return avg.Float64, count, nil
}

func (p *PostgresStore) CountCompletedAsAgent(ctx context.Context, agentID string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM exchange_transactions
		WHERE agent_id = $1 AND status = 'COMPLETED'`, agentID).
		Scan(&count)
	return count, err
}

// scanner abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(s scanner) (*Request, error) {
	var r Request
	var status string
	var snapshot []byte
	err := s.Scan(
		&r.ID, &r.CustomerID, &r.AgentID, &r.SearchID, &status, &r.AmountKobo, &r.FeeKobo,
		&r.Destination.Latitude, &r.Destination.Longitude, &snapshot,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = RequestStatus(status)
	r.Snapshot = snapshot
	return &r, nil
}

func scanTransaction(s scanner) (*Transaction, error) {
	var t Transaction
	var status string
	var requestID, closedBy, reason sql.NullString
	var closedAt sql.NullTime
	err := s.Scan(
		&t.ID, &requestID, &t.CustomerID, &t.AgentID, &status, &t.AmountKobo, &t.FeeKobo,
		&t.Destination.Latitude, &t.Destination.Longitude, &closedBy, &closedAt,
		&reason, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = TransactionStatus(status)
	t.RequestID = requestID.String
	t.ClosedBy = Party(closedBy.String)
	if closedAt.Valid {
		t.ClosedAt = &closedAt.Time
	}
	t.CancelReason = reason.String
	return &t, nil
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

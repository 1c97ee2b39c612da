package users

import (
	"context"
	"database/sql"
)

// PostgresStore persists users in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed user store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const userColumns = `id, phone_number, first_name, last_name, is_agent,
	       device_token, bank_code, account_number, latitude, longitude,
	       pin_hash, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, u *User) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (
			id, phone_number, first_name, last_name, is_agent,
			device_token, bank_code, account_number, latitude, longitude,
			pin_hash, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		u.ID, u.PhoneNumber, u.FirstName, u.LastName, u.IsAgent,
		nullString(u.DeviceToken), nullString(u.BankCode), nullString(u.AccountNo),
		u.Latitude, u.Longitude, nullString(u.PINHash),
		u.CreatedAt, u.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*User, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	return u, err
}

func (p *PostgresStore) GetByPhone(ctx context.Context, phone string) (*User, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE phone_number = $1`, phone)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	return u, err
}

func (p *PostgresStore) Update(ctx context.Context, u *User) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE users SET
			first_name = $1, last_name = $2, is_agent = $3,
			device_token = $4, bank_code = $5, account_number = $6,
			latitude = $7, longitude = $8, pin_hash = $9, updated_at = $10
		WHERE id = $11`,
		u.FirstName, u.LastName, u.IsAgent,
		nullString(u.DeviceToken), nullString(u.BankCode), nullString(u.AccountNo),
		u.Latitude, u.Longitude, nullString(u.PINHash),
		u.UpdatedAt, u.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (p *PostgresStore) ListAgents(ctx context.Context) ([]*User, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE is_agent = TRUE
		ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*User, error) {
	var u User
	var deviceToken, bankCode, accountNo, pinHash sql.NullString
	err := s.Scan(
		&u.ID, &u.PhoneNumber, &u.FirstName, &u.LastName, &u.IsAgent,
		&deviceToken, &bankCode, &accountNo, &u.Latitude, &u.Longitude,
		&pinHash, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.DeviceToken = deviceToken.String
	u.BankCode = bankCode.String
	u.AccountNo = accountNo.String
	u.PINHash = pinHash.String
	return &u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*PostgresStore)(nil)

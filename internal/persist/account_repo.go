package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredentials is returned for an unknown operator, a wrong password
// or a banned account. Callers must not tell these apart to the client.
var ErrBadCredentials = errors.New("bad credentials")

// AccountRow is an operator account for the admin console.
type AccountRow struct {
	Name         string
	PasswordHash string
	AccessLevel  int16
	Banned       bool
	IP           string
	CreatedAt    time.Time
	LastActive   *time.Time
}

type AccountRepo struct {
	db *DB
}

func NewAccountRepo(db *DB) *AccountRepo {
	return &AccountRepo{db: db}
}

func (r *AccountRepo) Load(ctx context.Context, name string) (*AccountRow, error) {
	row := &AccountRow{}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT name, password_hash, access_level, banned,
		        COALESCE(ip,''), created_at, last_active
		 FROM accounts WHERE name = $1`, name,
	).Scan(
		&row.Name, &row.PasswordHash, &row.AccessLevel, &row.Banned,
		&row.IP, &row.CreatedAt, &row.LastActive,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (r *AccountRepo) Create(ctx context.Context, name, rawPassword string, accessLevel int16) (*AccountRow, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(rawPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	row := &AccountRow{
		Name:         name,
		PasswordHash: string(hash),
		AccessLevel:  accessLevel,
		CreatedAt:    time.Now(),
	}
	_, err = r.db.Pool.Exec(ctx,
		`INSERT INTO accounts (name, password_hash, access_level)
		 VALUES ($1, $2, $3)`,
		row.Name, row.PasswordHash, row.AccessLevel,
	)
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (r *AccountRepo) ValidatePassword(hash string, rawPassword string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(rawPassword)) == nil
}

// Authenticate checks an operator login and returns the access level.
func (r *AccountRepo) Authenticate(ctx context.Context, name, rawPassword, ip string) (int, error) {
	row, err := r.Load(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("load account %s: %w", name, err)
	}
	if row == nil || row.Banned || !r.ValidatePassword(row.PasswordHash, rawPassword) {
		return 0, ErrBadCredentials
	}
	if err := r.UpdateLastActive(ctx, name, ip); err != nil {
		return 0, fmt.Errorf("update last active %s: %w", name, err)
	}
	return int(row.AccessLevel), nil
}

func (r *AccountRepo) UpdateLastActive(ctx context.Context, name, ip string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE accounts SET last_active = NOW(), ip = $2 WHERE name = $1`,
		name, ip,
	)
	return err
}

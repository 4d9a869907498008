// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	stderrors "errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/R3E-Network/credit_layer/internal/app/domain/credit"
	"github.com/R3E-Network/credit_layer/internal/app/domain/user"
	"github.com/R3E-Network/credit_layer/internal/app/storage"
	"github.com/R3E-Network/credit_layer/internal/errors"
)

// Store implements the storage interfaces backed by PostgreSQL. Debits and
// grants serialize per user on a SELECT ... FOR UPDATE row lock; everything
// inside a mutation commits atomically or not at all.
type Store struct {
	db *sql.DB
}

var _ storage.CreditStore = (*Store)(nil)
var _ storage.UserDirectory = (*Store)(nil)
var _ storage.Pinger = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.Unavailable("database unreachable", err)
	}
	return nil
}

// --- UserDirectory ----------------------------------------------------------

func (s *Store) ResolveEmail(ctx context.Context, email string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, created_at
		FROM users
		WHERE LOWER(email) = LOWER($1)
	`, strings.TrimSpace(email))

	var u user.User
	if err := row.Scan(&u.ID, &u.Email, &u.CreatedAt); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return user.User{}, errors.NotFound("user not found")
		}
		return user.User{}, mapDBError("resolve user", err)
	}
	return u, nil
}

// --- CreditStore ------------------------------------------------------------

func (s *Store) GetBalance(ctx context.Context, userID string) (credit.UserCredits, error) {
	// Lazy init: insert-if-absent is conflict-tolerant, so concurrent first
	// reads for a new user cannot produce duplicates or errors.
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO user_credits (user_id, credits_available, credits_used, credits_total, updated_at)
		VALUES ($1, 0, 0, 0, NOW())
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return credit.UserCredits{}, mapDBError("init balance row", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, credits_available, credits_used, credits_total, updated_at
		FROM user_credits
		WHERE user_id = $1
	`, userID)

	var uc credit.UserCredits
	if err := row.Scan(&uc.UserID, &uc.Available, &uc.Used, &uc.Total, &uc.UpdatedAt); err != nil {
		return credit.UserCredits{}, mapDBError("read balance", err)
	}
	return uc, nil
}

func (s *Store) Debit(ctx context.Context, userID string, amount int, description, tenantID string) (credit.UserCredits, credit.Transaction, error) {
	if amount <= 0 {
		return credit.UserCredits{}, credit.Transaction{}, errors.InvalidRequest("debit amount must be positive")
	}
	return s.mutate(ctx, userID, func(uc *credit.UserCredits) (credit.Transaction, error) {
		if uc.Available < amount {
			return credit.Transaction{}, errors.InsufficientCredits(uc.Available, amount)
		}
		uc.Available -= amount
		uc.Used += amount
		return credit.Transaction{
			Amount:      -amount,
			Type:        credit.TypeUsage,
			Description: description,
			TenantID:    tenantID,
		}, nil
	})
}

func (s *Store) Grant(ctx context.Context, userID string, amount int, description, tenantID string) (credit.UserCredits, credit.Transaction, error) {
	if amount <= 0 {
		return credit.UserCredits{}, credit.Transaction{}, errors.InvalidRequest("grant amount must be positive")
	}
	return s.mutate(ctx, userID, func(uc *credit.UserCredits) (credit.Transaction, error) {
		uc.Available += amount
		return credit.Transaction{
			Amount:      amount,
			Type:        credit.TypeGrant,
			Description: description,
			TenantID:    tenantID,
		}, nil
	})
}

func (s *Store) ListTransactions(ctx context.Context, userID string, limit int) ([]credit.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, amount, balance_after, type, description, tenant_id, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, mapDBError("list transactions", err)
	}
	defer rows.Close()

	txs := []credit.Transaction{}
	for rows.Next() {
		var tx credit.Transaction
		var tenant sql.NullString
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Amount, &tx.BalanceAfter, &tx.Type, &tx.Description, &tenant, &tx.CreatedAt); err != nil {
			return nil, mapDBError("scan transaction", err)
		}
		tx.TenantID = tenant.String
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, mapDBError("iterate transactions", err)
	}
	return txs, nil
}

// mutate runs the lock/read/check/write/commit sequence as a single
// transactional function: one entry, one exit, rollback deferred on every
// path. apply adjusts Available/Used and returns the ledger entry skeleton;
// Total and BalanceAfter are derived here.
func (s *Store) mutate(ctx context.Context, userID string, apply func(*credit.UserCredits) (credit.Transaction, error)) (uc credit.UserCredits, tx credit.Transaction, err error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return credit.UserCredits{}, credit.Transaction{}, mapDBError("begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = dbTx.Rollback()
		}
	}()

	uc, err = lockBalanceRow(ctx, dbTx, userID)
	if err != nil {
		return credit.UserCredits{}, credit.Transaction{}, err
	}

	tx, err = apply(&uc)
	if err != nil {
		return credit.UserCredits{}, credit.Transaction{}, err
	}

	if sum := uc.Available + uc.Used; sum > uc.Total {
		uc.Total = sum
	}
	uc.UpdatedAt = time.Now().UTC()

	if _, err = dbTx.ExecContext(ctx, `
		UPDATE user_credits
		SET credits_available = $2, credits_used = $3, credits_total = $4, updated_at = $5
		WHERE user_id = $1
	`, uc.UserID, uc.Available, uc.Used, uc.Total, uc.UpdatedAt); err != nil {
		err = mapDBError("update balance", err)
		return credit.UserCredits{}, credit.Transaction{}, err
	}

	tx.ID = uuid.NewString()
	tx.UserID = uc.UserID
	tx.BalanceAfter = uc.Available
	tx.CreatedAt = uc.UpdatedAt

	if _, err = dbTx.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, user_id, amount, balance_after, type, description, tenant_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
	`, tx.ID, tx.UserID, tx.Amount, tx.BalanceAfter, tx.Type, tx.Description, tx.TenantID, tx.CreatedAt); err != nil {
		err = mapDBError("insert ledger entry", err)
		return credit.UserCredits{}, credit.Transaction{}, err
	}

	if err = dbTx.Commit(); err != nil {
		err = mapDBError("commit", err)
		return credit.UserCredits{}, credit.Transaction{}, err
	}
	return uc, tx, nil
}

// lockBalanceRow acquires the exclusive row lock that serializes concurrent
// mutations for a user, initializing the row inside the same transaction if
// the user has never been seen.
func lockBalanceRow(ctx context.Context, dbTx *sql.Tx, userID string) (credit.UserCredits, error) {
	const selectForUpdate = `
		SELECT user_id, credits_available, credits_used, credits_total, updated_at
		FROM user_credits
		WHERE user_id = $1
		FOR UPDATE
	`

	var uc credit.UserCredits
	err := dbTx.QueryRowContext(ctx, selectForUpdate, userID).
		Scan(&uc.UserID, &uc.Available, &uc.Used, &uc.Total, &uc.UpdatedAt)
	if err == nil {
		return uc, nil
	}
	if !stderrors.Is(err, sql.ErrNoRows) {
		return credit.UserCredits{}, mapDBError("lock balance row", err)
	}

	if _, err := dbTx.ExecContext(ctx, `
		INSERT INTO user_credits (user_id, credits_available, credits_used, credits_total, updated_at)
		VALUES ($1, 0, 0, 0, NOW())
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return credit.UserCredits{}, mapDBError("init balance row", err)
	}

	// Either our insert or a concurrent one won; lock whichever row exists.
	err = dbTx.QueryRowContext(ctx, selectForUpdate, userID).
		Scan(&uc.UserID, &uc.Available, &uc.Used, &uc.Total, &uc.UpdatedAt)
	if err != nil {
		return credit.UserCredits{}, mapDBError("lock balance row", err)
	}
	return uc, nil
}

// mapDBError translates driver failures into the service taxonomy. Raw SQL
// errors never reach clients; retryable connection-level failures surface as
// Unavailable.
func mapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return errors.Unavailable(op+" timed out", err)
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return errors.Unavailable(op+" failed: database unreachable", err)
	}

	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		// Class 08: connection exceptions; Class 53: insufficient resources.
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return errors.Unavailable(op+" failed: database unavailable", err)
		}
	}

	if stderrors.Is(err, sql.ErrConnDone) || stderrors.Is(err, driver.ErrBadConn) {
		return errors.Unavailable(op+" failed: connection lost", err)
	}

	return errors.Internal(fmt.Sprintf("%s failed", op), err)
}

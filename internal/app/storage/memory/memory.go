package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/credit_layer/internal/app/domain/credit"
	"github.com/R3E-Network/credit_layer/internal/app/domain/user"
	"github.com/R3E-Network/credit_layer/internal/app/storage"
	"github.com/R3E-Network/credit_layer/internal/errors"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development. The single mutex plays the role of the database row lock:
// balance mutations for all users serialize on it, which preserves the
// no-double-spend property at the cost of cross-user parallelism.
type Store struct {
	mu           sync.RWMutex
	credits      map[string]credit.UserCredits
	transactions map[string][]credit.Transaction
	usersByEmail map[string]user.User
}

var _ storage.CreditStore = (*Store)(nil)
var _ storage.UserDirectory = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		credits:      make(map[string]credit.UserCredits),
		transactions: make(map[string][]credit.Transaction),
		usersByEmail: make(map[string]user.User),
	}
}

// AddUser registers a directory user. Test helper; the production directory
// is owned by the perimeter service.
func (s *Store) AddUser(u user.User) user.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.usersByEmail[strings.ToLower(u.Email)] = u
	return u
}

func (s *Store) ResolveEmail(_ context.Context, email string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.usersByEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return user.User{}, errors.NotFound("user not found")
	}
	return u, nil
}

func (s *Store) GetBalance(_ context.Context, userID string) (credit.UserCredits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureRow(userID), nil
}

func (s *Store) Debit(_ context.Context, userID string, amount int, description, tenantID string) (credit.UserCredits, credit.Transaction, error) {
	if amount <= 0 {
		return credit.UserCredits{}, credit.Transaction{}, errors.InvalidRequest("debit amount must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.ensureRow(userID)
	if row.Available < amount {
		return credit.UserCredits{}, credit.Transaction{}, errors.InsufficientCredits(row.Available, amount)
	}

	row.Available -= amount
	row.Used += amount
	if sum := row.Available + row.Used; sum > row.Total {
		row.Total = sum
	}
	row.UpdatedAt = time.Now().UTC()
	s.credits[userID] = row

	tx := credit.Transaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Amount:       -amount,
		BalanceAfter: row.Available,
		Type:         credit.TypeUsage,
		Description:  description,
		TenantID:     tenantID,
		CreatedAt:    row.UpdatedAt,
	}
	s.transactions[userID] = append(s.transactions[userID], tx)
	return row, tx, nil
}

func (s *Store) Grant(_ context.Context, userID string, amount int, description, tenantID string) (credit.UserCredits, credit.Transaction, error) {
	if amount <= 0 {
		return credit.UserCredits{}, credit.Transaction{}, errors.InvalidRequest("grant amount must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.ensureRow(userID)
	row.Available += amount
	if sum := row.Available + row.Used; sum > row.Total {
		row.Total = sum
	}
	row.UpdatedAt = time.Now().UTC()
	s.credits[userID] = row

	tx := credit.Transaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Amount:       amount,
		BalanceAfter: row.Available,
		Type:         credit.TypeGrant,
		Description:  description,
		TenantID:     tenantID,
		CreatedAt:    row.UpdatedAt,
	}
	s.transactions[userID] = append(s.transactions[userID], tx)
	return row, tx, nil
}

func (s *Store) ListTransactions(_ context.Context, userID string, limit int) ([]credit.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.transactions[userID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	// newest first
	out := make([]credit.Transaction, 0, limit)
	for i := len(all) - 1; i >= len(all)-limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *Store) Ping(context.Context) error { return nil }

// ensureRow returns the balance row for userID, creating a zeroed row on
// first access. Callers must hold the write lock.
func (s *Store) ensureRow(userID string) credit.UserCredits {
	row, ok := s.credits[userID]
	if !ok {
		row = credit.UserCredits{UserID: userID, UpdatedAt: time.Now().UTC()}
		s.credits[userID] = row
	}
	return row
}

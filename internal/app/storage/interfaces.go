package storage

import (
	"context"

	"github.com/R3E-Network/credit_layer/internal/app/domain/credit"
	"github.com/R3E-Network/credit_layer/internal/app/domain/user"
)

// CreditStore owns the user_credits balance rows and the credit_transactions
// ledger. No other component writes to either table.
//
// GetBalance lazily creates a zeroed row for unknown users; concurrent
// first reads must not produce duplicates. Debit and Grant are atomic: the
// balance update and the single ledger insert commit together or not at all,
// with concurrent mutations for the same user serialized by the store.
type CreditStore interface {
	GetBalance(ctx context.Context, userID string) (credit.UserCredits, error)
	Debit(ctx context.Context, userID string, amount int, description, tenantID string) (credit.UserCredits, credit.Transaction, error)
	Grant(ctx context.Context, userID string, amount int, description, tenantID string) (credit.UserCredits, credit.Transaction, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]credit.Transaction, error)
}

// UserDirectory resolves caller emails to internal user IDs. The directory
// is maintained upstream; lookups are case-insensitive and never create
// users.
type UserDirectory interface {
	ResolveEmail(ctx context.Context, email string) (user.User, error)
}

// Pinger reports whether the backing store is reachable, for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

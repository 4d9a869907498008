// Package credit defines the credit ledger domain types.
package credit

import "time"

// Transaction types recorded in the ledger.
const (
	TypeUsage  = "usage"
	TypeGrant  = "grant"
	TypeRefund = "refund"
)

// UserCredits is the mutable balance row, one per user. Available never goes
// below zero; Total is the high-water mark of Available+Used.
type UserCredits struct {
	UserID    string    `json:"user_id"`
	Available int       `json:"credits"`
	Used      int       `json:"credits_used"`
	Total     int       `json:"credits_total"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction is an append-only ledger entry. Amount is signed: negative for
// debits, positive for grants and refunds. BalanceAfter snapshots Available
// immediately after the entry so the ledger can be audited independently.
type Transaction struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Amount       int       `json:"amount"`
	BalanceAfter int       `json:"balance_after"`
	Type         string    `json:"type"`
	Description  string    `json:"description"`
	TenantID     string    `json:"tenant_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
